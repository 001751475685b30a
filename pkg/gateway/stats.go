package gateway

import "sync"

// Stats holds the per-link counters every terminal state-machine
// transition and every failure class contributes to. A snapshot is
// safe to read concurrently with updates; Snapshot() copies under the
// lock.
type Stats struct {
	mu sync.Mutex

	FramesSent      uint64
	FramesReceived  uint64
	CrcErrors       uint64
	FramingErrors   uint64
	Timeouts        uint64
	Acked           uint64
	Nacked          uint64
	Retries         uint64
	ReplayRejected  uint64
	SequenceWrapped uint64
	UnhandledTypes  uint64
}

func (s *Stats) incr(field *uint64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

func (s *Stats) recordFrameSent()      { s.incr(&s.FramesSent) }
func (s *Stats) recordFrameReceived()  { s.incr(&s.FramesReceived) }
func (s *Stats) recordCrcError()       { s.incr(&s.CrcErrors) }
func (s *Stats) recordFramingError()   { s.incr(&s.FramingErrors) }
func (s *Stats) recordTimeout()        { s.incr(&s.Timeouts) }
func (s *Stats) recordAcked()          { s.incr(&s.Acked) }
func (s *Stats) recordNacked()         { s.incr(&s.Nacked) }
func (s *Stats) recordRetry()          { s.incr(&s.Retries) }
func (s *Stats) recordReplayRejected() { s.incr(&s.ReplayRejected) }
func (s *Stats) recordSequenceWrap()   { s.incr(&s.SequenceWrapped) }
func (s *Stats) recordUnhandledType()  { s.incr(&s.UnhandledTypes) }

// Snapshot returns a consistent, lock-free copy of the counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		FramesSent:      s.FramesSent,
		FramesReceived:  s.FramesReceived,
		CrcErrors:       s.CrcErrors,
		FramingErrors:   s.FramingErrors,
		Timeouts:        s.Timeouts,
		Acked:           s.Acked,
		Nacked:          s.Nacked,
		Retries:         s.Retries,
		ReplayRejected:  s.ReplayRejected,
		SequenceWrapped: s.SequenceWrapped,
		UnhandledTypes:  s.UnhandledTypes,
	}
}
