package gateway

import (
	"context"
	"log"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/frame"
	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// Retry/backoff constants.
const (
	backoffBase = 50 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// Master is the gateway protocol engine's master role: discovery,
// addressed sends with ACK/NACK handling, and deadline-bound polling.
type Master struct {
	addr    byte
	version byte
	bus     *transport.BusArbiter
	clock   transport.Clock
	log     *log.Logger
	stats   Stats
	seq     *seqTracker
	rx      frame.GatewayStream

	ownSeq      byte
	maxRetries  int
	respTimeout time.Duration
}

// NewMaster constructs a master bound to addr on bus.
func NewMaster(addr byte, bus *transport.BusArbiter, clock transport.Clock, logger *log.Logger, maxRetries int, responseTimeout time.Duration) *Master {
	return &Master{
		addr:        addr,
		version:     1,
		bus:         bus,
		clock:       clock,
		log:         logger,
		seq:         newSeqTracker(),
		maxRetries:  maxRetries,
		respTimeout: responseTimeout,
	}
}

func (m *Master) nextSeq() byte {
	s := m.ownSeq
	m.ownSeq++
	return s
}

// Stats returns a point-in-time snapshot of this master's counters.
func (m *Master) Stats() Stats { return m.stats.Snapshot() }

// Discover broadcasts a discovery message and collects responses over a
// fixed window (default 1s), tie-breaking duplicate responses by
// first-seen address.
func (m *Master) Discover(ctx context.Context, window time.Duration) (map[byte]DeviceInfo, error) {
	if window <= 0 {
		window = time.Second
	}
	seq := m.nextSeq()
	payload, err := frame.BuildGateway(m.version, m.addr, BroadcastAddress, byte(MsgDiscover), seq, frame.FlagBroadcast, nil)
	if err != nil {
		return nil, err
	}
	deadline := m.clock.Now().Add(m.respTimeout)
	if err := m.bus.Send(ctx, payload, deadline); err != nil {
		return nil, gwerr.Wrap(gwerr.TransportRetryable, "discovery broadcast failed", err)
	}
	m.stats.recordFrameSent()

	found := make(map[byte]DeviceInfo)
	end := m.clock.Now().Add(window)
	for m.clock.Now().Before(end) {
		f, err := m.Poll(ctx, end)
		if err != nil {
			continue
		}
		if f == nil {
			break
		}
		if f.Type != byte(MsgDiscoverResponse) {
			continue
		}
		if _, exists := found[f.Src]; exists {
			continue // tie-break: first-seen wins
		}
		info := DeviceInfo{Address: f.Src, FirstSeen: m.clock.Now()}
		if len(f.Payload) > 0 {
			info.Type = DeviceType(f.Payload[0])
		}
		found[f.Src] = info
	}
	return found, nil
}

// Send serializes and transmits a message to dest. If flags includes
// FlagAckRequired, Send waits for a matching ACK within the response
// timeout. A NACK or a timeout both go through the same retry path:
// up to maxRetries re-sends with exponential backoff (base 50ms, cap
// 2s), preserving the sequence number so duplicates are detectable by
// the peer. Only after the retry budget is exhausted does Send return
// a PeerNack or BusTimeout error, reflecting how the last attempt
// failed.
func (m *Master) Send(ctx context.Context, dest byte, msgType MessageType, payload []byte, flags frame.Flag) (Result, error) {
	seq := m.nextSeq()
	wire, err := frame.BuildGateway(m.version, m.addr, dest, byte(msgType), seq, flags, payload)
	if err != nil {
		return Result{}, err
	}

	backoff := backoffBase
	var result Result
	for attempt := 0; ; attempt++ {
		deadline := m.clock.Now().Add(m.respTimeout)
		if err := m.bus.Send(ctx, wire, deadline); err != nil {
			return result, gwerr.Wrap(gwerr.TransportRetryable, "send failed", err)
		}
		m.stats.recordFrameSent()

		if flags&frame.FlagAckRequired == 0 {
			result.Acked = true
			return result, nil
		}

		ack, nacked, reason, err := m.awaitAck(ctx, dest, seq, deadline)
		if err == nil && ack {
			result.Acked = true
			result.Nacked = false
			m.stats.recordAcked()
			return result, nil
		}
		if err == nil && nacked {
			result.Nacked = true
			result.Reason = reason
			m.stats.recordNacked()
		} else {
			m.stats.recordTimeout()
		}

		if attempt >= m.maxRetries {
			if m.log != nil {
				m.log.Printf("send to 0x%02x exhausted %d retries, seq=%d", dest, m.maxRetries, seq)
			}
			if err == nil && nacked {
				return result, gwerr.New(gwerr.PeerNack, "peer rejected request after max retries")
			}
			return result, gwerr.New(gwerr.BusTimeout, "transport timeout after max retries")
		}
		result.Retries++
		m.stats.recordRetry()
		m.clock.Sleep(backoff)
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func (m *Master) awaitAck(ctx context.Context, dest byte, seq byte, deadline time.Time) (acked, nacked bool, reason NackReason, err error) {
	for m.clock.Now().Before(deadline) {
		f, perr := m.Poll(ctx, deadline)
		if perr != nil {
			continue
		}
		if f == nil {
			return false, false, 0, gwerr.New(gwerr.BusTimeout, "no response before deadline")
		}
		if f.Src != dest || len(f.Payload) == 0 || f.Payload[0] != seq {
			continue
		}
		switch MessageType(f.Type) {
		case MsgAck:
			return true, false, 0, nil
		case MsgNack:
			r := NackReason(0)
			if len(f.Payload) > 1 {
				r = NackReason(f.Payload[1])
			}
			return false, true, r, nil
		}
	}
	return false, false, 0, gwerr.New(gwerr.BusTimeout, "no response before deadline")
}

// Poll performs a deadline-bound receive, validating CRC, destination
// filter (own address or broadcast), and sequence replay. It
// returns (nil, nil) if the deadline passes with no frame addressed to
// this node.
func (m *Master) Poll(ctx context.Context, deadline time.Time) (*frame.GatewayFrame, error) {
	readBuf := make([]byte, 64)

	for m.clock.Now().Before(deadline) {
		n, err := m.bus.Recv(ctx, readBuf, deadline)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.BusTimeout, "bus read failed", err)
		}
		if n > 0 {
			m.rx.Feed(readBuf[:n])
		}

		for {
			f, progressed, perr := m.rx.Next()
			if perr != nil {
				if gwerr.Is(perr, gwerr.CrcMismatch) {
					m.stats.recordCrcError()
				}
				continue
			}
			if f == nil {
				if !progressed {
					break
				}
				m.stats.recordFramingError()
				continue
			}

			m.stats.recordFrameReceived()
			if f.Dst != m.addr && f.Dst != BroadcastAddress {
				continue
			}
			wrapped, ok := m.seq.accept(f.Src, f.Seq)
			if !ok {
				m.stats.recordReplayRejected()
				continue
			}
			if wrapped {
				m.stats.recordSequenceWrap()
			}
			return f, nil
		}
	}
	return nil, nil
}
