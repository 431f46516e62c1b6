package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replay feeds a sequence of outcomes, true for success, and returns the
// state after each step.
func replay(b *Breaker, outcomes ...bool) []State {
	states := make([]State, 0, len(outcomes))
	for _, ok := range outcomes {
		if ok {
			b.RecordSuccess()
		} else {
			b.RecordFailure()
		}
		states = append(states, b.State())
	}
	return states
}

func TestBreakerTransitions(t *testing.T) {
	const (
		ok   = true
		fail = false
	)
	tests := []struct {
		name      string
		failures  int
		successes int
		outcomes  []bool
		want      []State
	}{
		{
			name:     "opens on the threshold failure",
			failures: 3, successes: 1,
			outcomes: []bool{fail, fail, fail},
			want:     []State{StateClosed, StateClosed, StateOpen},
		},
		{
			name:     "a success in between restarts the failure run",
			failures: 2, successes: 1,
			outcomes: []bool{fail, ok, fail, fail},
			want:     []State{StateClosed, StateClosed, StateClosed, StateOpen},
		},
		{
			name:     "closes after consecutive successes",
			failures: 1, successes: 2,
			outcomes: []bool{fail, ok, ok},
			want:     []State{StateOpen, StateOpen, StateClosed},
		},
		{
			name:     "a failure while open restarts the success run",
			failures: 1, successes: 2,
			outcomes: []bool{fail, ok, fail, ok, ok},
			want:     []State{StateOpen, StateOpen, StateOpen, StateOpen, StateClosed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("anchor-test", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))
			assert.Equal(t, tt.want, replay(b, tt.outcomes...))
		})
	}
}

func TestBreakerReportsChanges(t *testing.T) {
	b := New("anchor-log", WithFailureThreshold(1), WithSuccessThreshold(1))
	require.Equal(t, "anchor-log", b.Name())
	require.Equal(t, "closed", b.State().String())

	fallback, change := b.RecordFailure()
	assert.True(t, fallback)
	assert.Equal(t, StateChange{Opened: true}, change)

	fallback, change = b.RecordFailure()
	assert.True(t, fallback)
	assert.Equal(t, StateChange{}, change)

	primary, change := b.RecordSuccess()
	assert.True(t, primary)
	assert.Equal(t, StateChange{Closed: true}, change)
}

func TestBreakerCooldownAndReset(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	b := New("anchor-node",
		WithFailureThreshold(1),
		WithCooldown(10*time.Second),
		WithClock(func() time.Time { return clock }),
	)
	b.RecordFailure()
	assert.False(t, b.Allow())

	clock = clock.Add(10 * time.Second)
	assert.True(t, b.Allow())
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, "closed", b.State().String())
	assert.True(t, b.Allow())
}
