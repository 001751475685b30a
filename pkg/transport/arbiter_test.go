package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	sent [][]byte
}

func (b *fakeBus) Send(_ context.Context, data []byte, _ time.Time) error {
	b.sent = append(b.sent, append([]byte(nil), data...))
	return nil
}
func (b *fakeBus) Recv(_ context.Context, buf []byte, _ time.Time) (int, error) { return 0, nil }
func (b *fakeBus) Close() error                                                 { return nil }

type fakeClock struct {
	now    time.Time
	slept  []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func TestArbiterWaitsOutInterFrameSilence(t *testing.T) {
	bus := &fakeBus{}
	clock := &fakeClock{now: time.Unix(0, 0)}
	arb := NewBusArbiter(bus, clock, 9600)

	require.NoError(t, arb.Send(context.Background(), []byte{1, 2, 3}, clock.now.Add(time.Second)))
	require.Empty(t, clock.slept, "first send should not wait on silence")

	require.NoError(t, arb.Send(context.Background(), []byte{4, 5, 6}, clock.now.Add(time.Second)))
	require.Len(t, clock.slept, 1, "second send should wait for inter-frame silence")
	assert.Equal(t, InterFrameSilence(9600), clock.slept[0])
}
