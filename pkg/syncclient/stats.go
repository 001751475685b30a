package syncclient

import "sync"

// Stats counts sync client events, published periodically to Redis by
// the scheduler alongside the protocol engines' own counters.
type Stats struct {
	mu sync.Mutex

	BatchesUploaded  uint64
	BatchesDropped   uint64
	BatchesRetried   uint64
	RecordsAcked     uint64
	AuthHandshakes   uint64
	AuthPauses       uint64
	HeartbeatsSent   uint64
	OTAReportsSent   uint64
	NetworkErrors    uint64
	OversizedBodies  uint64
}

func (s *Stats) incr(field *uint64, by uint64) {
	s.mu.Lock()
	*field += by
	s.mu.Unlock()
}

func (s *Stats) recordUploaded(n uint64)    { s.incr(&s.BatchesUploaded, 1); s.incr(&s.RecordsAcked, n) }
func (s *Stats) recordDropped()             { s.incr(&s.BatchesDropped, 1) }
func (s *Stats) recordRetried()             { s.incr(&s.BatchesRetried, 1) }
func (s *Stats) recordHandshake()           { s.incr(&s.AuthHandshakes, 1) }
func (s *Stats) recordAuthPause()           { s.incr(&s.AuthPauses, 1) }
func (s *Stats) recordHeartbeat()           { s.incr(&s.HeartbeatsSent, 1) }
func (s *Stats) recordOTAReport()           { s.incr(&s.OTAReportsSent, 1) }
func (s *Stats) recordNetworkError()        { s.incr(&s.NetworkErrors, 1) }
func (s *Stats) recordOversizedBody()       { s.incr(&s.OversizedBodies, 1) }

// Snapshot returns a lock-free copy of the counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BatchesUploaded: s.BatchesUploaded,
		BatchesDropped:  s.BatchesDropped,
		BatchesRetried:  s.BatchesRetried,
		RecordsAcked:    s.RecordsAcked,
		AuthHandshakes:  s.AuthHandshakes,
		AuthPauses:      s.AuthPauses,
		HeartbeatsSent:  s.HeartbeatsSent,
		OTAReportsSent:  s.OTAReportsSent,
		NetworkErrors:   s.NetworkErrors,
		OversizedBodies: s.OversizedBodies,
	}
}
