package gateway

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmatik/esocore-gatewaycore/pkg/frame"
	"github.com/newmatik/esocore-gatewaycore/pkg/gwerr"
	"github.com/newmatik/esocore-gatewaycore/pkg/transport"
)

// loopbackEnd connects a master and a slave through two byte queues,
// simulating the shared half-duplex bus in memory.
type loopbackEnd struct {
	read  chan []byte
	write chan []byte
	rest  []byte
}

func newLoopback() (*loopbackEnd, *loopbackEnd) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &loopbackEnd{read: ba, write: ab}, &loopbackEnd{read: ab, write: ba}
}

func (e *loopbackEnd) Send(_ context.Context, data []byte, _ time.Time) error {
	cp := append([]byte(nil), data...)
	e.write <- cp
	return nil
}

func (e *loopbackEnd) Recv(_ context.Context, buf []byte, deadline time.Time) (int, error) {
	if len(e.rest) > 0 {
		n := copy(buf, e.rest)
		e.rest = e.rest[n:]
		return n, nil
	}
	timeout := time.Until(deadline)
	if timeout < 0 {
		timeout = 0
	}
	select {
	case data := <-e.read:
		n := copy(buf, data)
		if n < len(data) {
			e.rest = data[n:]
		}
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (e *loopbackEnd) Close() error { return nil }

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }
func (c *manualClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestMasterSendWithAck(t *testing.T) {
	masterEnd, slaveEnd := newLoopback()
	clock := transport.SystemClock{}
	masterBus := transport.NewBusArbiter(masterEnd, clock, 115200)
	slaveBus := transport.NewBusArbiter(slaveEnd, clock, 115200)

	master := NewMaster(0x01, masterBus, clock, log.Default(), 3, 200*time.Millisecond)
	slave := NewSlave(0x02, slaveBus, clock, log.Default())
	slave.RegisterHandler(MsgData, func(ctx context.Context, f *frame.GatewayFrame) ([]byte, error) {
		return []byte("ok"), nil
	})

	done := make(chan error, 1)
	go func() {
		done <- slave.ServeOnce(context.Background(), time.Now().Add(time.Second))
	}()

	res, err := master.Send(context.Background(), 0x02, MsgData, []byte("hello"), frame.FlagAckRequired)
	require.NoError(t, err)
	assert.True(t, res.Acked)
	require.NoError(t, <-done)
}

func TestSlaveUnknownTypeElicitsNack(t *testing.T) {
	masterEnd, slaveEnd := newLoopback()
	clock := transport.SystemClock{}
	masterBus := transport.NewBusArbiter(masterEnd, clock, 115200)
	slaveBus := transport.NewBusArbiter(slaveEnd, clock, 115200)

	master := NewMaster(0x01, masterBus, clock, log.Default(), 0, 200*time.Millisecond)
	slave := NewSlave(0x02, slaveBus, clock, log.Default())

	done := make(chan error, 1)
	go func() {
		done <- slave.ServeOnce(context.Background(), time.Now().Add(time.Second))
	}()

	res, err := master.Send(context.Background(), 0x02, MsgCommand, nil, frame.FlagAckRequired)
	require.Error(t, err)
	assert.True(t, gwerr.Is(err, gwerr.PeerNack))
	assert.True(t, res.Nacked)
	assert.Equal(t, NackUnknownType, res.Reason)
	assert.Equal(t, 0, res.Retries, "a zero retry budget means the first NACK is terminal")
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), slave.Stats().UnhandledTypes)
}

// A NACK is recoverable: the master must re-send with backoff, not
// give up on first receipt. The slave's replay filter drops the
// retried sequence number, so the retry budget drains through
// timeouts before Send reports failure.
func TestMasterRetriesAfterNack(t *testing.T) {
	masterEnd, slaveEnd := newLoopback()
	clock := transport.SystemClock{}
	masterBus := transport.NewBusArbiter(masterEnd, clock, 115200)
	slaveBus := transport.NewBusArbiter(slaveEnd, clock, 115200)

	master := NewMaster(0x01, masterBus, clock, log.Default(), 1, 200*time.Millisecond)
	slave := NewSlave(0x02, slaveBus, clock, log.Default())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = slave.ServeOnce(context.Background(), time.Now().Add(time.Second))
		_ = slave.ServeOnce(context.Background(), time.Now().Add(time.Second))
	}()

	res, err := master.Send(context.Background(), 0x02, MsgCommand, nil, frame.FlagAckRequired)
	require.Error(t, err)
	assert.True(t, res.Nacked)
	assert.Equal(t, NackUnknownType, res.Reason)
	assert.Equal(t, 1, res.Retries, "a NACK must consume a retry, not end the request")
	assert.EqualValues(t, 1, master.Stats().Nacked)
	assert.EqualValues(t, 1, master.Stats().Retries)
	<-done
}

func TestSequenceReplayRejected(t *testing.T) {
	tr := newSeqTracker()
	_, ok := tr.accept(0x05, 10)
	assert.True(t, ok)
	_, ok = tr.accept(0x05, 11)
	assert.True(t, ok)
	_, ok = tr.accept(0x05, 10)
	assert.False(t, ok, "replay of an already-seen sequence must be rejected")
}

func TestSequenceWrapAccepted(t *testing.T) {
	tr := newSeqTracker()
	_, ok := tr.accept(0x05, 250)
	assert.True(t, ok)
	wrapped, ok := tr.accept(0x05, 3)
	assert.True(t, ok)
	assert.True(t, wrapped, "crossing 255 back to 0 must be treated as wraparound")
}

func TestSequencePlainIncrementIsNotAWrap(t *testing.T) {
	tr := newSeqTracker()
	_, ok := tr.accept(0x05, 10)
	assert.True(t, ok)
	for seq := byte(11); seq < 20; seq++ {
		wrapped, ok := tr.accept(0x05, seq)
		assert.True(t, ok)
		assert.False(t, wrapped, "ordinary increments must not count as wraps")
	}
}
