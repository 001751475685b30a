package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueuePushPopOrder(t *testing.T) {
	q := NewEventQueue(4)

	require.True(t, q.Push(Event{Source: 1, Data: []byte("a")}))
	require.True(t, q.Push(Event{Source: 2, Data: []byte("b")}))

	e, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(1), e.Source)

	e, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(2), e.Source)

	_, ok = q.Pop()
	assert.False(t, ok, "queue should be empty")
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	q := NewEventQueue(2) // rounds up to next power of two (2)

	require.True(t, q.Push(Event{Source: 1}))
	require.True(t, q.Push(Event{Source: 2}))
	assert.False(t, q.Push(Event{Source: 3}), "push beyond capacity must drop, never block")
	assert.Equal(t, 2, q.Len())
}

func TestEventQueueDrainVisitsEveryPendingEventInOrder(t *testing.T) {
	q := NewEventQueue(8)
	for i := byte(0); i < 5; i++ {
		require.True(t, q.Push(Event{Source: i}))
	}

	var seen []byte
	q.Drain(func(e Event) { seen = append(seen, e.Source) })

	assert.Equal(t, []byte{0, 1, 2, 3, 4}, seen)
	assert.Equal(t, 0, q.Len())
}
