// Package round times a battle round against the shared startedAt stamp.
// Every client derives the remaining time from its own clock; nothing here
// writes to the document.
package round

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// MaxSkewTolerance caps how early a round may be called over
	MaxSkewTolerance = time.Second
	// CountdownBeats is the length of the pre-round 3-2-1
	CountdownBeats = 3
)

// Remaining returns the whole seconds left in a round of limit seconds that
// started at startedAt, never below zero
func Remaining(startedAt time.Time, limit int, now time.Time) int {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		return limit
	}
	left := limit - int(elapsed/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// EventKind tags controller events
type EventKind int

const (
	EventTick EventKind = iota
	EventOver
)

func (k EventKind) String() string {
	if k == EventOver {
		return "over"
	}
	return "tick"
}

// Event is one controller emission
type Event struct {
	Kind      EventKind
	Remaining int
}

// Controller turns the first observed startedAt into a once-per-second
// tick stream followed by exactly one Over event
type Controller struct {
	clock     clockwork.Clock
	tolerance time.Duration
	events    chan Event

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewController creates a controller. tolerance is clamped to
// [0, MaxSkewTolerance].
func NewController(clock clockwork.Clock, tolerance time.Duration) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if tolerance < 0 {
		tolerance = 0
	}
	if tolerance > MaxSkewTolerance {
		tolerance = MaxSkewTolerance
	}
	return &Controller{
		clock:     clock,
		tolerance: tolerance,
		events:    make(chan Event, 1),
	}
}

// Events returns the tick/over stream. Ticks are dropped in favour of
// newer ones when the reader falls behind; Over is never dropped.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Observe launches the round the first time it sees a non-nil startedAt.
// Later calls, including redundant snapshots of the same start, do nothing.
// It reports whether this call launched the round.
func (c *Controller) Observe(ctx context.Context, startedAt *time.Time, limit int) bool {
	if startedAt == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return false
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, *startedAt, limit, c.done)
	return true
}

// Stop halts ticking and waits for the timing goroutine to exit. A tick
// already buffered may still be read afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) deadline(startedAt time.Time, limit int) time.Time {
	return startedAt.Add(time.Duration(limit)*time.Second - c.tolerance)
}

func (c *Controller) run(ctx context.Context, startedAt time.Time, limit int, done chan struct{}) {
	defer close(done)

	deadline := c.deadline(startedAt, limit)
	over := func(now time.Time) bool {
		return Remaining(startedAt, limit, now) == 0 || !now.Before(deadline)
	}

	now := c.clock.Now()
	if over(now) {
		c.emitOver(ctx)
		return
	}
	c.emitTick(Remaining(startedAt, limit, now))

	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()
	timer := c.clock.NewTimer(deadline.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			c.emitOver(ctx)
			return
		case <-ticker.Chan():
			now := c.clock.Now()
			if over(now) {
				c.emitOver(ctx)
				return
			}
			c.emitTick(Remaining(startedAt, limit, now))
		}
	}
}

func (c *Controller) emitTick(remaining int) {
	log.Debug().Int("remaining", remaining).Msg("round tick")
	ev := Event{Kind: EventTick, Remaining: remaining}
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case c.events <- ev:
			return
		default:
		}
		// replace the stale tick the reader has not taken yet
		select {
		case <-c.events:
		default:
		}
	}
}

func (c *Controller) emitOver(ctx context.Context) {
	select {
	case c.events <- Event{Kind: EventOver}:
		log.Debug().Msg("round over")
	case <-ctx.Done():
	}
}

// Countdown calls onBeat with from, from-1, ..., 1 one second apart and
// returns one second after the last beat
func Countdown(ctx context.Context, clock clockwork.Clock, from int, onBeat func(n int)) error {
	for n := from; n > 0; n-- {
		onBeat(n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(time.Second):
		}
	}
	return nil
}
