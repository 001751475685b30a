package modbus

import "sync"

// Stats counts protocol-level events for one Modbus RTU slave.
// Mirrors the snapshot-copy pattern used by the gateway package's Stats.
type Stats struct {
	mu               sync.Mutex
	RequestsServed   uint64
	ExceptionsSent   uint64
	BroadcastsServed uint64
	CrcErrors        uint64
	FramingErrors    uint64
}

func (s *Stats) recordRequestServed() {
	s.mu.Lock()
	s.RequestsServed++
	s.mu.Unlock()
}

func (s *Stats) recordExceptionSent() {
	s.mu.Lock()
	s.ExceptionsSent++
	s.mu.Unlock()
}

func (s *Stats) recordBroadcastServed() {
	s.mu.Lock()
	s.BroadcastsServed++
	s.mu.Unlock()
}

func (s *Stats) recordCrcError() {
	s.mu.Lock()
	s.CrcErrors++
	s.mu.Unlock()
}

func (s *Stats) recordFramingError() {
	s.mu.Lock()
	s.FramingErrors++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters safe to read without a lock.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		RequestsServed:   s.RequestsServed,
		ExceptionsSent:   s.ExceptionsSent,
		BroadcastsServed: s.BroadcastsServed,
		CrcErrors:        s.CrcErrors,
		FramingErrors:    s.FramingErrors,
	}
}
