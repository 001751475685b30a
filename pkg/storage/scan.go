package storage

import "github.com/newmatik/esocore-gatewaycore/pkg/gwerr"

// ReadAllRecords scans a file top to bottom and flattens any compressed
// blocks back into their constituent records, giving the sync client a
// single ordered record list regardless of how the write path grouped
// them on disk.
func ReadAllRecords(buf []byte) ([]Record, error) {
	var out []Record
	off := 0
	for off < len(buf) {
		if len(buf[off:]) < recordHeaderLen {
			break // trailing torn entry; recovery already truncated the active file
		}
		switch buf[off] {
		case entryTypeRecord:
			r, n, err := DecodeRecord(buf[off:])
			if err != nil {
				return nil, err
			}
			out = append(out, r)
			off += n
		case entryTypeBlock:
			records, n, err := DecompressBlock(buf[off:])
			if err != nil {
				return nil, err
			}
			out = append(out, records...)
			off += n
		default:
			return nil, gwerr.New(gwerr.StorageCorrupt, "unknown entry type during scan")
		}
	}
	return out, nil
}
