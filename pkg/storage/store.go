package storage

import (
	"sort"
	"sync"

	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// Options configures one Store instance.
type Options struct {
	MaxFileSizeBytes int64
	BufferSizeBytes  int
	Compress         bool
	CompressionLevel int   // zstd level 1..22; 0 means the library default
	CapacityBytes    int64 // total byte budget across active and sealed files

	// CleanupThresholdPercent is the fill level, as a percentage of
	// CapacityBytes, at which pruning starts. Zero disables the
	// threshold and pruning only begins once CapacityBytes itself is
	// exceeded.
	CleanupThresholdPercent int
}

// sealedFile tracks one rotated-out file pending upload or deletion.
type sealedFile struct {
	name   string
	size   int64
	tier   Priority
	acked  bool
	oldest uint32 // creation timestamp, used for oldest-first pruning
}

// tierState is one priority tier's independent append-only log.
// Keeping tiers separate makes retention a per-tier file prune:
// low/normal go before high, and critical is never pruned until
// acknowledged.
type tierState struct {
	active *ActiveFile
	buffer []Record
	sealed []sealedFile
}

// Store is the storage engine for one FileType: it fans writes out to
// per-priority logs, rotates and seals them, and prunes sealed files
// under a byte budget without ever discarding unacknowledged critical
// records.
type Store struct {
	mu      sync.Mutex
	fs      transport.FileStore
	clock   transport.Clock
	typ     FileType
	opts    Options
	tiers   map[Priority]*tierState
	full    bool
	stats   Stats
	nowTime func() uint32
}

// NewStore opens or creates a Store for typ, recovering any torn active
// files left by a prior power loss.
func NewStore(fs transport.FileStore, clock transport.Clock, typ FileType, opts Options, nowTime func() uint32) (*Store, error) {
	s := &Store{fs: fs, clock: clock, typ: typ, opts: opts, tiers: make(map[Priority]*tierState), nowTime: nowTime}
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		active, err := OpenActiveFile(fs, typ, p, nowTime())
		if err != nil {
			return nil, err
		}
		s.tiers[p] = &tierState{active: active}
	}
	return s, nil
}

// Stats returns a point-in-time snapshot of this store's counters.
func (s *Store) Stats() Stats { return s.stats.Snapshot() }

// Append buffers r for its priority tier, flushing and rotating as
// needed. Once the store is full, only critical records are accepted.
func (s *Store) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.full && r.Priority != PriorityCritical {
		s.stats.recordRejected()
		return gwerr.New(gwerr.StorageFull, "storage full, only critical records accepted")
	}

	tier := s.tiers[r.Priority]
	tier.buffer = append(tier.buffer, r)
	s.stats.recordAppended()

	if bufferedSize(tier.buffer) >= s.opts.BufferSizeBytes {
		if err := s.flushTierLocked(r.Priority); err != nil {
			return err
		}
	}
	return nil
}

func bufferedSize(buffered []Record) int {
	total := 0
	for _, r := range buffered {
		total += len(EncodeRecord(r))
	}
	return total
}

// Flush forces every tier's buffer to disk, used before shutdown or a
// scheduler-driven sync point; rotation and deletion only happen after
// an explicit sync.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.tiers {
		if err := s.flushTierLocked(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) flushTierLocked(p Priority) error {
	tier := s.tiers[p]
	if s.dayRolledLocked(tier) {
		if err := s.rotateTierLocked(p); err != nil {
			return err
		}
	} else if now := s.nowTime(); tier.active.Size() == 0 && dayOf(now) != dayOf(tier.active.CreatedAt) {
		// Nothing was written on the old day: reopen under today's name.
		stale := tier.active
		active, err := OpenActiveFile(s.fs, s.typ, p, now)
		if err != nil {
			return err
		}
		_ = stale.handle.Close()
		_ = s.fs.Delete(stale.Name)
		tier.active = active
	}
	if len(tier.buffer) == 0 {
		return nil
	}

	var entry []byte
	if s.opts.Compress {
		var plain []byte
		for _, r := range tier.buffer {
			plain = append(plain, EncodeRecord(r)...)
		}
		compressed, err := CompressBlock(plain, s.opts.CompressionLevel)
		if err != nil {
			return err
		}
		entry = compressed
	} else {
		for _, r := range tier.buffer {
			entry = append(entry, EncodeRecord(r)...)
		}
	}

	if _, err := tier.active.handle.Write(entry); err != nil {
		return gwerr.Wrap(gwerr.StorageCorrupt, "flush write failed", err)
	}
	tier.active.size += int64(len(entry))
	tier.buffer = nil
	if err := tier.active.Sync(); err != nil {
		return err
	}

	if tier.active.Size() >= s.opts.MaxFileSizeBytes {
		return s.rotateTierLocked(p)
	}
	return nil
}

// dayRolledLocked reports whether tier's active file was created on an
// earlier day than the current one, which forces rotation even before
// the size cap is reached. An empty active file is reopened under the
// new day's timestamp instead of sealing a zero-record file.
func (s *Store) dayRolledLocked(tier *tierState) bool {
	return tier.active.Size() > 0 && dayOf(s.nowTime()) != dayOf(tier.active.CreatedAt)
}

func dayOf(ts uint32) uint32 { return ts / 86400 }

func (s *Store) rotateTierLocked(p Priority) error {
	tier := s.tiers[p]
	sealed := sealedFile{name: tier.active.Name, size: tier.active.Size(), tier: p, oldest: tier.active.CreatedAt}
	if err := tier.active.Seal(); err != nil {
		return err
	}
	tier.sealed = append(tier.sealed, sealed)

	// Keep creation timestamps strictly increasing per tier so two
	// rotations inside one second never reopen the file just sealed.
	createdAt := s.nowTime()
	if createdAt <= tier.active.CreatedAt {
		createdAt = tier.active.CreatedAt + 1
	}
	active, err := OpenActiveFile(s.fs, s.typ, p, createdAt)
	if err != nil {
		return err
	}
	tier.active = active
	s.stats.recordRotated()
	return s.enforceCapacityLocked()
}

// enforceCapacityLocked prunes sealed files oldest-first within
// low/normal/high tiers once usage crosses the cleanup threshold,
// never touching an unacknowledged critical file. The
// store only reports full once usage reaches CapacityBytes itself with
// nothing left to prune.
func (s *Store) enforceCapacityLocked() error {
	if s.opts.CapacityBytes <= 0 {
		return nil
	}
	limit := s.opts.CapacityBytes
	if s.opts.CleanupThresholdPercent > 0 && s.opts.CleanupThresholdPercent <= 100 {
		limit = s.opts.CapacityBytes * int64(s.opts.CleanupThresholdPercent) / 100
	}
	for s.totalBytesLocked() > limit {
		victim := s.pickPruneVictimLocked()
		if victim == nil {
			s.full = s.totalBytesLocked() >= s.opts.CapacityBytes
			return nil
		}
		if err := s.deleteSealedLocked(victim); err != nil {
			return err
		}
	}
	s.full = false
	return nil
}

func (s *Store) totalBytesLocked() int64 {
	var total int64
	for _, tier := range s.tiers {
		total += tier.active.Size()
		for _, f := range tier.sealed {
			total += f.size
		}
	}
	return total
}

// pickPruneVictimLocked returns the oldest sealed file among low, then
// normal, then high tiers; critical files are only eligible once acked.
func (s *Store) pickPruneVictimLocked() *sealedFile {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh} {
		if f := oldestSealed(s.tiers[p].sealed, false); f != nil {
			return f
		}
	}
	return oldestSealed(s.tiers[PriorityCritical].sealed, true)
}

func oldestSealed(sealed []sealedFile, requireAcked bool) *sealedFile {
	var candidates []*sealedFile
	for i := range sealed {
		if requireAcked && !sealed[i].acked {
			continue
		}
		candidates = append(candidates, &sealed[i])
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].oldest < candidates[j].oldest })
	return candidates[0]
}

func (s *Store) deleteSealedLocked(victim *sealedFile) error {
	if err := s.fs.Delete(victim.name); err != nil {
		return gwerr.Wrap(gwerr.StorageCorrupt, "delete sealed file failed", err)
	}
	_ = s.fs.Delete(victim.name + ".seal")

	tier := s.tiers[victim.tier]
	for i, f := range tier.sealed {
		if f.name == victim.name {
			tier.sealed = append(tier.sealed[:i], tier.sealed[i+1:]...)
			break
		}
	}
	s.stats.recordPruned()
	return nil
}

// Ack marks a sealed file as fully acknowledged by the sync client,
// making it eligible for deletion even if it holds critical records.
func (s *Store) Ack(tier Priority, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.tiers[tier].sealed {
		if f.name == name {
			s.tiers[tier].sealed[i].acked = true
			return
		}
	}
}

// SealedFiles returns the names of every sealed file still present for
// tier, acknowledged or not, oldest first. The cursor indexes into this
// list and skips the files it has already committed.
func (s *Store) SealedFiles(tier Priority) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed := append([]sealedFile(nil), s.tiers[tier].sealed...)
	sort.Slice(sealed, func(i, j int) bool { return sealed[i].oldest < sealed[j].oldest })
	names := make([]string, len(sealed))
	for i, f := range sealed {
		names[i] = f.name
	}
	return names
}
