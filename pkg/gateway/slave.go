package gateway

import (
	"context"
	"log"
	"time"

	"github.com/newmatik/esocore-gatewaycore/pkg/frame"
	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// Handler processes one inbound frame addressed to this slave and
// optionally produces a reply payload. Returning a non-nil error whose
// Kind is structural (per gwerr.Structural) causes the slave to send a
// NACK instead of silence; any other error is left to the caller of
// ServeOnce to decide (typically surfaced to the scheduler).
type Handler func(ctx context.Context, f *frame.GatewayFrame) (reply []byte, err error)

// Slave is the gateway protocol engine's slave role: a handler table
// keyed by message type, dispatched the same way a Modbus function-code
// switch is, but over this module's gateway wire format instead of a
// fixed set of function codes.
type Slave struct {
	addr     byte
	version  byte
	bus      *transport.BusArbiter
	clock    transport.Clock
	log      *log.Logger
	stats    Stats
	seq      *seqTracker
	rx       frame.GatewayStream
	handlers map[MessageType]Handler

	ownSeq byte
}

// NewSlave constructs a slave bound to addr on bus.
func NewSlave(addr byte, bus *transport.BusArbiter, clock transport.Clock, logger *log.Logger) *Slave {
	return &Slave{
		addr:     addr,
		version:  1,
		bus:      bus,
		clock:    clock,
		log:      logger,
		seq:      newSeqTracker(),
		handlers: make(map[MessageType]Handler),
	}
}

// RegisterHandler installs the handler for msgType, replacing any
// previous registration.
func (s *Slave) RegisterHandler(msgType MessageType, h Handler) {
	s.handlers[msgType] = h
}

// Stats returns a point-in-time snapshot of this slave's counters.
func (s *Slave) Stats() Stats { return s.stats.Snapshot() }

func (s *Slave) nextSeq() byte {
	v := s.ownSeq
	s.ownSeq++
	return v
}

// ServeOnce performs one deadline-bound receive and, if a frame
// addressed to this node arrives, dispatches it through the handler
// table. Unhandled types elicit a structured NACK reply, never
// silence.
func (s *Slave) ServeOnce(ctx context.Context, deadline time.Time) error {
	readBuf := make([]byte, 64)

	for s.clock.Now().Before(deadline) {
		n, err := s.bus.Recv(ctx, readBuf, deadline)
		if err != nil {
			return gwerr.Wrap(gwerr.BusTimeout, "bus read failed", err)
		}
		if n > 0 {
			s.rx.Feed(readBuf[:n])
		}

		for {
			f, progressed, perr := s.rx.Next()
			if perr != nil {
				if gwerr.Is(perr, gwerr.CrcMismatch) {
					s.stats.recordCrcError()
					// CRC errors increment counters and may NACK, but
					// only if we can identify a valid source address,
					// which a corrupted frame does not guarantee; skip
					// replying here.
				}
				continue
			}
			if f == nil {
				if !progressed {
					break // need more bytes from the bus
				}
				s.stats.recordFramingError()
				continue
			}

			s.stats.recordFrameReceived()
			if f.Dst != s.addr && f.Dst != BroadcastAddress {
				continue
			}
			wrapped, ok := s.seq.accept(f.Src, f.Seq)
			if !ok {
				s.stats.recordReplayRejected()
				continue
			}
			if wrapped {
				s.stats.recordSequenceWrap()
			}

			return s.dispatch(ctx, f)
		}
	}
	return nil
}

func (s *Slave) dispatch(ctx context.Context, f *frame.GatewayFrame) error {
	h, ok := s.handlers[MessageType(f.Type)]
	if !ok {
		s.stats.recordUnhandledType()
		if s.log != nil {
			s.log.Printf("no handler for message type 0x%02x from 0x%02x, replying NACK", f.Type, f.Src)
		}
		return s.nack(ctx, f, NackUnknownType)
	}

	reply, err := h(ctx, f)
	if err != nil {
		if gerr, ok := err.(*gwerr.Error); ok && gwerr.Structural(gerr.Kind) {
			if s.log != nil {
				s.log.Printf("handler for type 0x%02x rejected frame from 0x%02x: %v", f.Type, f.Src, err)
			}
			return s.nack(ctx, f, NackIllegalState)
		}
		return err
	}

	if f.Dst == BroadcastAddress {
		return nil // broadcast writes elicit no response
	}
	if reply == nil && f.Flags&frame.FlagAckRequired == 0 {
		return nil
	}
	return s.ack(ctx, f, reply)
}

func (s *Slave) ack(ctx context.Context, f *frame.GatewayFrame, payload []byte) error {
	body := append([]byte{f.Seq}, payload...)
	wire, err := frame.BuildGateway(s.version, s.addr, f.Src, byte(MsgAck), s.nextSeq(), frame.FlagAck, body)
	if err != nil {
		return err
	}
	if err := s.bus.Send(ctx, wire, s.clock.Now().Add(time.Second)); err != nil {
		return gwerr.Wrap(gwerr.TransportRetryable, "ack send failed", err)
	}
	s.stats.recordFrameSent()
	return nil
}

func (s *Slave) nack(ctx context.Context, f *frame.GatewayFrame, reason NackReason) error {
	body := []byte{f.Seq, byte(reason)}
	wire, err := frame.BuildGateway(s.version, s.addr, f.Src, byte(MsgNack), s.nextSeq(), frame.FlagNack, body)
	if err != nil {
		return err
	}
	if err := s.bus.Send(ctx, wire, s.clock.Now().Add(time.Second)); err != nil {
		return gwerr.Wrap(gwerr.TransportRetryable, "nack send failed", err)
	}
	s.stats.recordFrameSent()
	s.stats.recordNacked()
	return nil
}
