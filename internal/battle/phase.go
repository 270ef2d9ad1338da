package battle

import (
	"errors"
	"fmt"
)

// Phase is where a participant is in a battle
type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseCountdown Phase = "countdown"
	PhaseActive    Phase = "active"
	PhaseEnded     Phase = "ended"
)

// Trigger moves a Phase forward
type Trigger string

const (
	TriggerStart         Trigger = "start"          // startedAt observed
	TriggerCountdownDone Trigger = "countdown_done" // 3-2-1 finished
	TriggerRoundOver     Trigger = "round_over"     // clock ran out
	TriggerGameOver      Trigger = "game_over"      // roster decided it
)

var ErrIllegalTransition = errors.New("illegal phase transition")

var transitions = map[Phase]map[Trigger]Phase{
	PhaseLobby: {
		TriggerStart: PhaseCountdown,
	},
	PhaseCountdown: {
		TriggerCountdownDone: PhaseActive,
		TriggerRoundOver:     PhaseEnded,
		TriggerGameOver:      PhaseEnded,
	},
	PhaseActive: {
		TriggerRoundOver: PhaseEnded,
		TriggerGameOver:  PhaseEnded,
	},
}

// Advance returns the phase reached from p by t
func (p Phase) Advance(t Trigger) (Phase, error) {
	next, ok := transitions[p][t]
	if !ok {
		return p, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, t, p)
	}
	return next, nil
}

// DefaultLives is how many misses a survival player can take
const DefaultLives = 3

// Lives is the client-local survival counter. It is never persisted; only
// the resulting elimination reaches the document.
type Lives struct {
	left int
}

// NewLives starts a counter at n, DefaultLives when n is not positive
func NewLives(n int) *Lives {
	if n <= 0 {
		n = DefaultLives
	}
	return &Lives{left: n}
}

// Left returns the lives remaining
func (l *Lives) Left() int {
	return l.left
}

// Miss takes a life and reports whether that was the last one
func (l *Lives) Miss() bool {
	if l.left == 0 {
		return false
	}
	l.left--
	return l.left == 0
}
