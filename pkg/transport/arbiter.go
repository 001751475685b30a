package transport

import (
	"context"
	"sync"
	"time"
)

// BusArbiter serializes access to the shared half-duplex RS-485 bus
// between the gateway protocol engine and the Modbus RTU engine: only
// one of send/receive is active at a time, and direction changes wait
// for the inter-frame silence RTU timing mandates.
//
// Owned by the scheduler and handed to both engines at construction,
// one BusArbiter per physical bus, never duplicated per engine.
type BusArbiter struct {
	bus     Bus
	clock   Clock
	silence time.Duration

	mu           sync.Mutex
	lastActivity time.Time
}

// NewBusArbiter wraps bus with the inter-frame silence computed from
// baud, enforced before every Send and Recv that follows earlier bus
// activity, whether or not the direction changes.
func NewBusArbiter(bus Bus, clock Clock, baud int) *BusArbiter {
	return &BusArbiter{
		bus:     bus,
		clock:   clock,
		silence: InterFrameSilence(baud),
	}
}

// Send acquires exclusive bus ownership, waits out any pending
// inter-frame silence, transmits, and records the new activity time.
func (a *BusArbiter) Send(ctx context.Context, data []byte, deadline time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.awaitSilenceLocked()
	err := a.bus.Send(ctx, data, deadline)
	a.lastActivity = a.clock.Now()
	return err
}

// Recv acquires exclusive bus ownership, waits out any pending
// inter-frame silence, and reads.
func (a *BusArbiter) Recv(ctx context.Context, buf []byte, deadline time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.awaitSilenceLocked()
	n, err := a.bus.Recv(ctx, buf, deadline)
	a.lastActivity = a.clock.Now()
	return n, err
}

func (a *BusArbiter) awaitSilenceLocked() {
	if a.lastActivity.IsZero() {
		return
	}
	elapsed := a.clock.Now().Sub(a.lastActivity)
	if elapsed < a.silence {
		a.clock.Sleep(a.silence - elapsed)
	}
}

// Close releases the underlying bus.
func (a *BusArbiter) Close() error { return a.bus.Close() }
