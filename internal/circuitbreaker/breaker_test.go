package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failing() error { return errUpstream }
func healthy() error { return nil }

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", ShouldTrip: func(c Counts) bool {
		return c.ConsecutiveFailures >= 3
	}})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(failing), errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())

	// Open circuit rejects without invoking the function.
	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New(Config{Name: "test", ShouldTrip: func(c Counts) bool {
		return c.ConsecutiveFailures >= 3
	}})

	require.Error(t, b.Do(failing))
	require.Error(t, b.Do(failing))
	require.NoError(t, b.Do(healthy))
	require.Error(t, b.Do(failing))
	require.Error(t, b.Do(failing))

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New(Config{
		Name:     "test",
		Cooldown: 10 * time.Millisecond,
		ShouldTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 1
		},
	})

	require.Error(t, b.Do(failing))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// A successful probe closes the circuit again.
	require.NoError(t, b.Do(healthy))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Config{
		Name:     "test",
		Cooldown: 10 * time.Millisecond,
		ShouldTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 1
		},
	})

	require.Error(t, b.Do(failing))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, b.Do(failing), errUpstream)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b := New(Config{
		Name:     "test",
		Probes:   1,
		Cooldown: 10 * time.Millisecond,
		ShouldTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 1
		},
	})

	require.Error(t, b.Do(failing))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// First probe admitted, a concurrent second one is not.
	gen, err := b.before()
	require.NoError(t, err)
	assert.ErrorIs(t, b.Do(healthy), ErrOpen)
	b.after(gen, true)
	assert.Equal(t, StateClosed, b.State())
}
