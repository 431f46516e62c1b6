package anchor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func events(n int) []Event {
	out := make([]Event, n)
	for i := range out {
		out[i] = Event{ID: fmt.Sprintf("ev-%d", i)}
	}
	return out
}

func ids(evs []Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out
}

func TestRingBufferDropsOldestWhenFull(t *testing.T) {
	b := NewRingBuffer(3)
	for _, ev := range events(5) {
		b.Enqueue(ev)
	}

	assert.Equal(t, 3, b.Len())
	assert.EqualValues(t, 2, b.Dropped())
	assert.Equal(t, []string{"ev-2", "ev-3", "ev-4"}, ids(b.DequeueBatch(10)))
	assert.Nil(t, b.DequeueBatch(1))
}

func TestRingBufferRequeueRestoresOrder(t *testing.T) {
	b := NewRingBuffer(4)
	for _, ev := range events(4) {
		b.Enqueue(ev)
	}
	batch := b.DequeueBatch(3)
	require.Equal(t, []string{"ev-0", "ev-1", "ev-2"}, ids(batch))

	b.Enqueue(Event{ID: "ev-4"})
	assert.Zero(t, b.Requeue(batch[1:]))
	assert.Equal(t, []string{"ev-1", "ev-2", "ev-3", "ev-4"}, ids(b.DequeueBatch(10)))
}

func TestRingBufferRequeueDropsOverflow(t *testing.T) {
	b := NewRingBuffer(2)
	b.Enqueue(Event{ID: "new"})

	lost := b.Requeue(events(3))
	assert.Equal(t, 2, lost)
	assert.EqualValues(t, 2, b.Dropped())
	assert.Equal(t, []string{"ev-2", "new"}, ids(b.DequeueBatch(10)))
}
