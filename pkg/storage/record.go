package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
)

// Every entry in a storage file starts with one type byte so a scanner
// can tell an ordinary record apart from a compressed block without
// ambiguity, keeping partial files replayable without a full
// decompressor pass.
const (
	entryTypeRecord = 0x01
	entryTypeBlock  = 0x02
)

// Wire layout for one record:
//
//	entryType(1)   - entryTypeRecord
//	length(4 LE)   - byte count of everything after this field
//	crc32(4 LE)    - IEEE CRC-32 over [priority..payload]
//	priority(1)
//	timestamp(4 LE)
//	seq(8 LE)
//	metaLen(2 LE)
//	metadata(metaLen)
//	payload(remainder)
const (
	entryTypeFieldSize = 1
	lengthFieldSize    = 4
	crcFieldSize       = 4
	fixedBodySize      = 1 + 4 + 8 + 2 // priority + timestamp + seq + metaLen
	recordHeaderLen    = entryTypeFieldSize + lengthFieldSize + crcFieldSize
)

// EncodeRecord serializes r into its on-disk representation.
func EncodeRecord(r Record) []byte {
	meta := []byte(r.Metadata)
	bodyLen := fixedBodySize + len(meta) + len(r.Payload)

	buf := make([]byte, recordHeaderLen+bodyLen)
	buf[0] = entryTypeRecord
	binary.LittleEndian.PutUint32(buf[1:5], uint32(crcFieldSize+bodyLen))

	body := buf[recordHeaderLen:]
	body[0] = byte(r.Priority)
	binary.LittleEndian.PutUint32(body[1:5], r.Timestamp)
	binary.LittleEndian.PutUint64(body[5:13], r.Seq)
	binary.LittleEndian.PutUint16(body[13:15], uint16(len(meta)))
	copy(body[15:15+len(meta)], meta)
	copy(body[15+len(meta):], r.Payload)

	crc := crc32.ChecksumIEEE(body)
	binary.LittleEndian.PutUint32(buf[5:9], crc)
	return buf
}

// DecodeRecord parses one record beginning at the start of buf. It
// returns the record, the number of bytes it occupied, and an error if
// buf is too short to hold a declared-length record, its entry type
// byte is not entryTypeRecord, or the CRC-32 does not match (a torn
// write).
func DecodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < recordHeaderLen {
		return Record{}, 0, gwerr.New(gwerr.StorageCorrupt, "record shorter than header")
	}
	if buf[0] != entryTypeRecord {
		return Record{}, 0, gwerr.New(gwerr.StorageCorrupt, "unexpected entry type for a record")
	}
	declared := binary.LittleEndian.Uint32(buf[1:5])
	total := recordHeaderLen + int(declared) - crcFieldSize
	if total < recordHeaderLen+fixedBodySize || len(buf) < total {
		return Record{}, 0, gwerr.New(gwerr.StorageCorrupt, "record length exceeds available bytes")
	}

	storedCRC := binary.LittleEndian.Uint32(buf[5:9])
	body := buf[recordHeaderLen:total]
	if crc32.ChecksumIEEE(body) != storedCRC {
		return Record{}, 0, gwerr.New(gwerr.StorageCorrupt, "record CRC-32 mismatch")
	}

	metaLen := int(binary.LittleEndian.Uint16(body[13:15]))
	if 15+metaLen > len(body) {
		return Record{}, 0, gwerr.New(gwerr.StorageCorrupt, "record metadata length exceeds body")
	}

	r := Record{
		Priority:  Priority(body[0]),
		Timestamp: binary.LittleEndian.Uint32(body[1:5]),
		Seq:       binary.LittleEndian.Uint64(body[5:13]),
		Metadata:  string(body[15 : 15+metaLen]),
		Payload:   append([]byte(nil), body[15+metaLen:]...),
	}
	return r, total, nil
}

// decodeEntryLength validates and measures one entry (record or
// compressed block) without fully decoding it, used by torn-write
// recovery to find the last intact entry regardless of compression.
func decodeEntryLength(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, gwerr.New(gwerr.StorageCorrupt, "empty entry")
	}
	switch buf[0] {
	case entryTypeRecord:
		_, n, err := DecodeRecord(buf)
		return n, err
	case entryTypeBlock:
		_, n, err := DecompressBlock(buf)
		return n, err
	default:
		return 0, gwerr.New(gwerr.StorageCorrupt, "unknown entry type")
	}
}
