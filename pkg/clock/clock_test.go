package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystem_Now(t *testing.T) {
	t.Parallel()

	c := NewSystem()
	before := time.Now()
	now := c.Now()
	after := time.Now()

	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
}

func TestSystem_SleepCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewSystem()
	err := c.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFake_AdvanceAndNow(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	assert.Equal(t, start, f.Now())

	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())
}

func TestFake_SleepAdvancesWithoutBlocking(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	require.NoError(t, f.Sleep(context.Background(), 5*time.Second))
	require.NoError(t, f.Sleep(context.Background(), 10*time.Second))

	assert.Equal(t, start.Add(15*time.Second), f.Now())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, f.Sleeps())
}

func TestFake_SleepCancelled(t *testing.T) {
	t.Parallel()

	f := NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.Sleeps())
}
