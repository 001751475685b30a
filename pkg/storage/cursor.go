package storage

import (
	"sync"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// RecordRef identifies one record's position within a sealed file, used
// to commit an Advance after Peek without re-parsing the file. Callers
// outside this package (the sync client) hold these opaquely between a
// Peek and the Advance that follows it once the server has acknowledged.
type RecordRef struct {
	tier  Priority
	file  string
	index int // position within that file's flattened record list
}

// Cursor is the sync client's read-only view over a Store's sealed
// files. Position only moves forward on Advance, which callers invoke
// strictly on server acknowledgment, and Advance is idempotent:
// advancing past records already committed is a no-op.
type Cursor struct {
	mu    sync.Mutex
	store *Store
	fs    transport.FileStore

	// fileIdx/readIdx track, per tier, which sealed file is current and
	// how many of its records Advance has already committed. Peek reads
	// from that position on and never moves it.
	fileIdx map[Priority]int
	readIdx map[Priority]int
}

// NewCursor opens a cursor over store.
func NewCursor(store *Store, fs transport.FileStore) *Cursor {
	return &Cursor{
		store:   store,
		fs:      fs,
		fileIdx: make(map[Priority]int),
		readIdx: make(map[Priority]int),
	}
}

// uploadOrder is highest priority first; priority orders upload the
// same way it orders retention.
var uploadOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Peek returns up to maxRecords not-yet-advanced records plus the refs
// needed to Advance past them, without committing anything.
func (c *Cursor) Peek(maxRecords int) ([]Record, []RecordRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var records []Record
	var refs []RecordRef

	for _, tier := range uploadOrder {
		files := c.store.SealedFiles(tier)
		idx := c.fileIdx[tier]
		for idx < len(files) && len(records) < maxRecords {
			name := files[idx]
			fileRecords, err := c.readFile(name)
			if err != nil {
				return nil, nil, err
			}
			start := 0
			if idx == c.fileIdx[tier] {
				start = c.readIdx[tier]
			}
			for i := start; i < len(fileRecords) && len(records) < maxRecords; i++ {
				records = append(records, fileRecords[i])
				refs = append(refs, RecordRef{tier: tier, file: name, index: i})
			}
			if len(records) >= maxRecords {
				break
			}
			idx++
		}
	}
	return records, refs, nil
}

func (c *Cursor) readFile(name string) ([]Record, error) {
	size, err := c.fs.Stat(name)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.StorageCorrupt, "cursor stat failed", err)
	}
	reader, err := c.fs.Open(name)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.StorageCorrupt, "cursor open failed", err)
	}
	defer reader.Close()

	buf := make([]byte, size)
	if size > 0 {
		if _, err := reader.ReadAt(buf, 0); err != nil {
			return nil, gwerr.Wrap(gwerr.StorageCorrupt, "cursor read failed", err)
		}
	}
	return ReadAllRecords(buf)
}

// Advance commits past the given refs, acknowledging (and thereby
// making prunable) any sealed file whose every record has now been
// advanced past. Advancing a ref at or before the current position is
// a no-op, making repeated Advance calls with overlapping refs safe.
func (c *Cursor) Advance(refs []RecordRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ref := range refs {
		files := c.store.SealedFiles(ref.tier)
		curIdx := c.fileIdx[ref.tier]
		if curIdx >= len(files) || files[curIdx] != ref.file {
			continue // already moved past this file, or file unknown: no-op
		}
		if ref.index < c.readIdx[ref.tier] {
			continue // already advanced past this record
		}
		c.readIdx[ref.tier] = ref.index + 1

		fileRecords, err := c.readFile(ref.file)
		if err != nil {
			return err
		}
		if c.readIdx[ref.tier] >= len(fileRecords) {
			c.store.Ack(ref.tier, ref.file)
			c.fileIdx[ref.tier]++
			c.readIdx[ref.tier] = 0
		}
	}
	return nil
}
