package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{Timestamp: 100, Seq: 7, Priority: PriorityHigh, Payload: []byte("hello"), Metadata: "m"}
	buf := EncodeRecord(r)

	got, n, err := DecodeRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, r, got)
}

func TestRecordCRCMismatchDetected(t *testing.T) {
	r := Record{Timestamp: 1, Priority: PriorityNormal, Payload: []byte("x")}
	buf := EncodeRecord(r)
	buf[len(buf)-1] ^= 0xFF

	_, _, err := DecodeRecord(buf)
	require.Error(t, err)
}

func TestCompressBlockRoundTrip(t *testing.T) {
	var plain []byte
	for i := 0; i < 5; i++ {
		plain = append(plain, EncodeRecord(Record{Timestamp: uint32(i), Priority: PriorityLow, Payload: []byte("data")})...)
	}
	block, err := CompressBlock(plain, 3)
	require.NoError(t, err)

	records, n, err := DecompressBlock(block)
	require.NoError(t, err)
	assert.Equal(t, len(block), n)
	assert.Len(t, records, 5)
}

// Power loss mid-write: truncating a few bytes into the second record
// preserves the first on reopen, and the next append starts at the
// surviving record's end.
func TestStoragePowerLossMidWrite(t *testing.T) {
	fs := transport.NewMemFileStore()
	name := fileName(FileTypeData, PriorityNormal, 1)

	handle, err := fs.OpenAppend(name)
	require.NoError(t, err)

	good := EncodeRecord(Record{Timestamp: 1, Priority: PriorityNormal, Payload: []byte("0123456789abcdef")})
	_, err = handle.Write(good)
	require.NoError(t, err)

	torn := EncodeRecord(Record{Timestamp: 2, Priority: PriorityNormal, Payload: []byte("0123456789abcdef")})
	_, err = handle.Write(torn[:7]) // abrupt power loss 7 bytes into the second record
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	reopened, err := fs.OpenAppend(name)
	require.NoError(t, err)
	size, err := RecoverTornTail(fs, reopened, name)
	require.NoError(t, err)
	assert.Equal(t, int64(len(good)), size, "recovery must land exactly at the end of the last good record")

	next := EncodeRecord(Record{Timestamp: 3, Priority: PriorityNormal, Payload: []byte("next")})
	_, err = reopened.Write(next)
	require.NoError(t, err)

	fullSize, err := fs.Stat(name)
	require.NoError(t, err)
	buf := make([]byte, fullSize)
	r, err := fs.Open(name)
	require.NoError(t, err)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)

	records, err := ReadAllRecords(buf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint32(1), records[0].Timestamp)
	assert.Equal(t, uint32(3), records[1].Timestamp)
}

// Pruning removes oldest low/normal records first; a critical file is
// never pruned while unacknowledged.
func TestStoragePriorityRetention(t *testing.T) {
	fs := transport.NewMemFileStore()
	clock := transport.SystemClock{}
	tick := uint32(1000)
	now := func() uint32 { tick++; return tick }

	store, err := NewStore(fs, clock, FileTypeData, Options{
		MaxFileSizeBytes: 32,
		BufferSizeBytes:  1,
		CapacityBytes:    64,
	}, now)
	require.NoError(t, err)

	payload := make([]byte, 20)
	require.NoError(t, store.Append(Record{Priority: PriorityLow, Payload: payload}))
	require.NoError(t, store.Append(Record{Priority: PriorityCritical, Payload: payload}))
	require.NoError(t, store.Append(Record{Priority: PriorityLow, Payload: payload}))
	require.NoError(t, store.Append(Record{Priority: PriorityCritical, Payload: payload}))

	assert.NotEmpty(t, store.SealedFiles(PriorityCritical), "unacknowledged critical sealed file must survive pruning")
	assert.Empty(t, store.SealedFiles(PriorityLow), "low-priority sealed files must be pruned before critical ones")
}

func TestStorageRejectsNonCriticalWhenFull(t *testing.T) {
	fs := transport.NewMemFileStore()
	clock := transport.SystemClock{}
	tick := uint32(2000)
	now := func() uint32 { tick++; return tick }

	store, err := NewStore(fs, clock, FileTypeData, Options{
		MaxFileSizeBytes: 16,
		BufferSizeBytes:  1,
		CapacityBytes:    16,
	}, now)
	require.NoError(t, err)

	payload := make([]byte, 20)
	require.NoError(t, store.Append(Record{Priority: PriorityLow, Payload: payload}))
	store.mu.Lock()
	store.full = true
	store.mu.Unlock()

	err = store.Append(Record{Priority: PriorityLow, Payload: []byte("x")})
	require.Error(t, err)

	require.NoError(t, store.Append(Record{Priority: PriorityCritical, Payload: []byte("x")}))
}

func TestStoreRotatesWhenDayRollsOver(t *testing.T) {
	fs := transport.NewMemFileStore()
	clock := transport.SystemClock{}
	tick := uint32(100)
	now := func() uint32 { return tick }

	store, err := NewStore(fs, clock, FileTypeData, Options{
		MaxFileSizeBytes: 1 << 20, // far above anything this test writes
		BufferSizeBytes:  1,
	}, now)
	require.NoError(t, err)

	require.NoError(t, store.Append(Record{Timestamp: tick, Priority: PriorityNormal, Payload: []byte("day one")}))
	require.Empty(t, store.SealedFiles(PriorityNormal), "size cap not reached, same day: no rotation yet")

	tick += 86400 // midnight passes
	require.NoError(t, store.Append(Record{Timestamp: tick, Priority: PriorityNormal, Payload: []byte("day two")}))

	sealed := store.SealedFiles(PriorityNormal)
	require.Len(t, sealed, 1, "day rollover must seal the previous day's file")

	cursor := NewCursor(store, fs)
	records, _, err := cursor.Peek(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("day one"), records[0].Payload, "the sealed file holds only the first day's record")
}

func TestCursorAdvanceIsIdempotent(t *testing.T) {
	fs := transport.NewMemFileStore()
	clock := transport.SystemClock{}
	tick := uint32(3000)
	now := func() uint32 { tick++; return tick }

	store, err := NewStore(fs, clock, FileTypeData, Options{
		MaxFileSizeBytes: 8, // force rotation after one tiny record
		BufferSizeBytes:  1,
	}, now)
	require.NoError(t, err)

	require.NoError(t, store.Append(Record{Priority: PriorityNormal, Payload: []byte("ab")}))
	require.NotEmpty(t, store.SealedFiles(PriorityNormal))

	cursor := NewCursor(store, fs)
	records, refs, err := cursor.Peek(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, cursor.Advance(refs))
	require.NoError(t, cursor.Advance(refs)) // repeat ack must be a no-op, not a re-delivery

	records2, _, err := cursor.Peek(10)
	require.NoError(t, err)
	assert.Empty(t, records2, "records already advanced past must not be re-delivered")
}
