package round

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var startedAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestRemaining(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		limit int
		want  int
	}{
		{"at start", 0, 60, 60},
		{"partial second floors", 1500 * time.Millisecond, 60, 59},
		{"one second left", 59 * time.Second, 60, 1},
		{"just before end", 59*time.Second + 999*time.Millisecond, 60, 1},
		{"at end", 60 * time.Second, 60, 0},
		{"long after end", 10 * time.Minute, 60, 0},
		{"clock behind start", -2 * time.Second, 60, 60},
		{"three minute clash", 179 * time.Second, 180, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Remaining(startedAt, tt.limit, startedAt.Add(tt.after)))
		})
	}
}

func recvEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for round event")
	}
	return Event{}
}

func recvNoEvent(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s %d", ev.Kind, ev.Remaining)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_TicksThenOverOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(startedAt)
	c := NewController(clock, 0)
	defer c.Stop()

	require.True(t, c.Observe(ctx, &startedAt, 3))
	assert.Equal(t, Event{Kind: EventTick, Remaining: 3}, recvEvent(t, c))

	for _, want := range []int{2, 1} {
		require.NoError(t, clock.BlockUntilContext(ctx, 2))
		clock.Advance(time.Second)
		assert.Equal(t, Event{Kind: EventTick, Remaining: want}, recvEvent(t, c))
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(time.Second)
	assert.Equal(t, EventOver, recvEvent(t, c).Kind)
	recvNoEvent(t, c)
}

func TestController_IgnoresRedundantStarts(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(startedAt)
	c := NewController(clock, 0)
	defer c.Stop()

	assert.False(t, c.Observe(ctx, nil, 60))
	require.True(t, c.Observe(ctx, &startedAt, 60))
	recvEvent(t, c)

	later := startedAt.Add(30 * time.Second)
	assert.False(t, c.Observe(ctx, &startedAt, 60))
	assert.False(t, c.Observe(ctx, &later, 60))
	recvNoEvent(t, c)
}

func TestController_LateJoinerSeesOverImmediately(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(startedAt.Add(2 * time.Minute))
	c := NewController(clock, 0)
	defer c.Stop()

	require.True(t, c.Observe(ctx, &startedAt, 60))
	assert.Equal(t, EventOver, recvEvent(t, c).Kind)
	recvNoEvent(t, c)
}

func TestController_MidRoundJoinStartsFromRemaining(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(startedAt.Add(42*time.Second + 300*time.Millisecond))
	c := NewController(clock, 0)
	defer c.Stop()

	require.True(t, c.Observe(ctx, &startedAt, 60))
	assert.Equal(t, Event{Kind: EventTick, Remaining: 18}, recvEvent(t, c))
}

func TestController_SkewTolerance(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(startedAt)
	c := NewController(clock, 5*time.Second) // clamped to one second
	defer c.Stop()

	require.True(t, c.Observe(ctx, &startedAt, 2))
	assert.Equal(t, 2, recvEvent(t, c).Remaining)

	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(time.Second)
	ev := recvEvent(t, c)
	assert.Equal(t, EventOver, ev.Kind, "over fires at limit-1 with full tolerance")
	recvNoEvent(t, c)
}

func TestController_StopHaltsTicks(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(startedAt)
	c := NewController(clock, 0)

	require.True(t, c.Observe(ctx, &startedAt, 60))
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	c.Stop()
	clock.Advance(5 * time.Second)

	// the tick buffered before Stop is the only one allowed through
	stale := 0
	for {
		select {
		case <-c.Events():
			stale++
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	assert.LessOrEqual(t, stale, 1)
}

func TestCountdown(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(startedAt)

	beats := make(chan int, CountdownBeats)
	done := make(chan error, 1)
	go func() {
		done <- Countdown(ctx, clock, CountdownBeats, func(n int) { beats <- n })
	}()

	for _, want := range []int{3, 2, 1} {
		assert.Equal(t, want, <-beats)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("countdown did not finish")
	}
}

func TestCountdown_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClockAt(startedAt)

	done := make(chan error, 1)
	go func() {
		done <- Countdown(ctx, clock, CountdownBeats, func(int) {})
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
