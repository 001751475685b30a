package storage

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

// CompressBlock zstd-compresses the concatenation of pre-encoded records
// and wraps it in its own [entryType|length|payload] framing, matching
// the record header shape so a partially written block is detected, not
// misread as a truncated record, and partial files stay replayable
// without a full decompressor pass. level is the configured zstd level
// (1..22); zero or out-of-range values fall back to the library
// default.
func CompressBlock(encodedRecords []byte, level int) ([]byte, error) {
	encLevel := zstd.SpeedDefault
	if level >= 1 && level <= 22 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CompressionFailed, "zstd writer init failed", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(encodedRecords, nil)

	out := make([]byte, 1+4+len(compressed))
	out[0] = entryTypeBlock
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(compressed)))
	copy(out[5:], compressed)
	return out, nil
}

// DecompressBlock reverses CompressBlock, given buf starting at the
// entry type byte. It returns the decoded records and the number of
// bytes the block occupied in the file.
func DecompressBlock(buf []byte) ([]Record, int, error) {
	if len(buf) < 5 || buf[0] != entryTypeBlock {
		return nil, 0, gwerr.New(gwerr.StorageCorrupt, "not a compressed block")
	}
	length := binary.LittleEndian.Uint32(buf[1:5])
	total := 5 + int(length)
	if total > len(buf) {
		return nil, 0, gwerr.New(gwerr.StorageCorrupt, "compressed block truncated")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, 0, gwerr.Wrap(gwerr.CompressionFailed, "zstd reader init failed", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(buf[5:total], nil)
	if err != nil {
		return nil, 0, gwerr.Wrap(gwerr.CompressionFailed, "zstd decode failed", err)
	}

	var records []Record
	off := 0
	for off < len(raw) {
		r, n, err := DecodeRecord(raw[off:])
		if err != nil {
			return nil, 0, gwerr.Wrap(gwerr.StorageCorrupt, "decompressed block has a corrupt record", err)
		}
		records = append(records, r)
		off += n
	}
	return records, total, nil
}
