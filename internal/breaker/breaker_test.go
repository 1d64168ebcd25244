package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenDuration: time.Minute})

	for i := 0; i < 2; i++ {
		require.True(t, b.Admit())
		b.Failure()
	}
	state, failures, _, _ := b.Snapshot()
	assert.Equal(t, Closed, state)
	assert.Equal(t, 2, failures)

	require.True(t, b.Admit())
	b.Failure()
	state, _, _, _ = b.Snapshot()
	assert.Equal(t, Open, state)

	assert.False(t, b.Admit(), "open breaker must reject admission")
}

func TestBreaker_SuccessResetsCounterWhenClosed(t *testing.T) {
	b := New(Config{FailureThreshold: 3})
	b.Admit()
	b.Failure()
	b.Admit()
	b.Failure()
	b.Admit()
	b.Success()

	state, failures, _, _ := b.Snapshot()
	assert.Equal(t, Closed, state)
	assert.Equal(t, 0, failures)
}

func TestBreaker_HalfOpenAfterOpenDuration(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenDuration: time.Millisecond})
	b.Admit()
	b.Failure()

	state, _, _, _ := b.Snapshot()
	require.Equal(t, Open, state)

	time.Sleep(2 * time.Millisecond)
	assert.True(t, b.Admit(), "half-open probe should be admitted once open_until has passed")
	state, _, _, _ = b.Snapshot()
	assert.Equal(t, HalfOpen, state)
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenDuration: time.Millisecond, HalfOpenProbes: 1})
	b.Admit()
	b.Failure()
	time.Sleep(2 * time.Millisecond)

	require.True(t, b.Admit())
	assert.False(t, b.Admit(), "only half_open_probes concurrent requests should be admitted")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, OpenDuration: time.Millisecond})
	b.Admit()
	b.Failure()
	time.Sleep(2 * time.Millisecond)

	require.True(t, b.Admit())
	b.Failure()

	state, _, _, _ := b.Snapshot()
	assert.Equal(t, Open, state)
}

func TestBreaker_IsolatedPerPrinter(t *testing.T) {
	a := New(Config{FailureThreshold: 1})
	bee := New(Config{FailureThreshold: 1})

	a.Admit()
	a.Failure()

	stateA, _, _, _ := a.Snapshot()
	stateB, _, _, _ := bee.Snapshot()
	assert.Equal(t, Open, stateA)
	assert.Equal(t, Closed, stateB)
}
