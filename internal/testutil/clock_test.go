package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsFrozen(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestFakeClock_ZeroStartUsesDefault(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, DefaultStart, clock.Now())
}

func TestFakeClock_AdvanceFiresDueWaiters(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	short := clock.After(time.Minute)
	long := clock.After(time.Hour)
	assert.Equal(t, 2, clock.Waiters())

	clock.Advance(30 * time.Second)
	select {
	case <-short:
		t.Fatal("short waiter fired early")
	default:
	}

	clock.Advance(30 * time.Second)
	select {
	case fired := <-short:
		assert.Equal(t, DefaultStart.Add(time.Minute), fired)
	default:
		t.Fatal("short waiter did not fire")
	}
	assert.Equal(t, 1, clock.Waiters())

	clock.Advance(time.Hour)
	select {
	case <-long:
	default:
		t.Fatal("long waiter did not fire")
	}
	assert.Equal(t, 0, clock.Waiters())
}

func TestFakeClock_NonPositiveAfterFiresImmediately(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	select {
	case <-clock.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
	assert.Equal(t, 0, clock.Waiters())
}

func TestFakeClock_BlockUntilWaiters(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	go func() {
		time.Sleep(5 * time.Millisecond)
		clock.After(time.Second)
	}()

	require.True(t, clock.BlockUntilWaiters(1, time.Second))
	assert.False(t, clock.BlockUntilWaiters(2, 10*time.Millisecond))
}
