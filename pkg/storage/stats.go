package storage

import "sync"

// Stats counts storage engine events for one Store, published
// periodically to Redis by the scheduler.
type Stats struct {
	mu       sync.Mutex
	Appended uint64
	Rejected uint64
	Rotated  uint64
	Pruned   uint64
}

func (s *Stats) recordAppended() { s.mu.Lock(); s.Appended++; s.mu.Unlock() }
func (s *Stats) recordRejected() { s.mu.Lock(); s.Rejected++; s.mu.Unlock() }
func (s *Stats) recordRotated()  { s.mu.Lock(); s.Rotated++; s.mu.Unlock() }
func (s *Stats) recordPruned()   { s.mu.Lock(); s.Pruned++; s.mu.Unlock() }

// Snapshot returns a copy of the counters safe to read without a lock.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Appended: s.Appended, Rejected: s.Rejected, Rotated: s.Rotated, Pruned: s.Pruned}
}
