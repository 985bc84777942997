package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_SleepCompletes(t *testing.T) {
	var c RealClock
	start := time.Now()
	require.NoError(t, c.Sleep(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestRealClock_SleepInterrupted(t *testing.T) {
	var c RealClock
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRealClock_SleepNonPositive(t *testing.T) {
	var c RealClock
	assert.NoError(t, c.Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Sleep(ctx, -time.Second), context.Canceled)
}

func TestRealClock_Ticker(t *testing.T) {
	var c RealClock
	tk := c.NewTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	require.NoError(t, c.Sleep(context.Background(), 5*time.Second))
	require.NoError(t, c.Sleep(context.Background(), 500*time.Millisecond))

	assert.Equal(t, []time.Duration{5 * time.Second, 500 * time.Millisecond}, c.Sleeps())
	assert.Equal(t, start.Add(5500*time.Millisecond), c.Now())
	assert.Equal(t, 5500*time.Millisecond, c.Since(start))
}

func TestMockClock_SleepCancelled(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Sleep(ctx, time.Hour), context.Canceled)
	assert.Empty(t, c.Sleeps())
	assert.Equal(t, start, c.Now())
}

func TestMockClock_TickerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-tk.C():
		assert.Equal(t, time.Unix(1, 0), got)
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_Set(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	target := time.Unix(100, 0)
	c.Set(target)
	assert.Equal(t, target, c.Now())
}
