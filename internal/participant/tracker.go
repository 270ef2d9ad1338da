package participant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"multiplymonsters/internal/battle"
	"multiplymonsters/internal/model"
	"multiplymonsters/internal/repository"
	"multiplymonsters/internal/round"
)

// DefaultSquadRoundSeconds is the length of quickClash and epicDuel rounds
const DefaultSquadRoundSeconds = 180

var ErrNotActive = errors.New("round is not active")

// Config describes the participant a Tracker follows
type Config struct {
	Role       model.Role
	Collection string
	Code       string
	Name       string

	Clock     clockwork.Clock
	Tolerance time.Duration
	// CountdownBeats is the pre-round 3-2-1; zero skips it
	CountdownBeats    int
	SquadRoundSeconds int
	Lives             int

	// OnRoundOver runs for playing roles that answered at least once when
	// their round ends, typically to submit the final score
	OnRoundOver func(ctx context.Context, s State)
	// OnTerminated runs once when the document disappears
	OnTerminated func(s State)
}

// Tracker turns a snapshot stream into participant events. Run owns the
// state; RecordAnswer and State may be called from other goroutines.
type Tracker struct {
	cfg    Config
	ctrl   *round.Controller
	lives  *battle.Lives
	events chan Event

	beats         chan int
	countdownDone chan struct{}

	mu       sync.Mutex
	state    State
	policy   battle.Policy
	gameOver bool
	// seeded is set once the tally has been loaded from the roster entry
	seeded   bool
	answered bool
}

// New creates a tracker in the lobby
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SquadRoundSeconds <= 0 {
		cfg.SquadRoundSeconds = DefaultSquadRoundSeconds
	}
	lives := battle.NewLives(cfg.Lives)
	return &Tracker{
		cfg:           cfg,
		ctrl:          round.NewController(cfg.Clock, cfg.Tolerance),
		lives:         lives,
		events:        make(chan Event, 16),
		beats:         make(chan int, 1),
		countdownDone: make(chan struct{}, 1),
		policy:        battle.Accumulating{},
		state: State{
			Role:       cfg.Role,
			Collection: cfg.Collection,
			Code:       cfg.Code,
			Name:       cfg.Name,
			Screen:     ScreenLobby,
			Phase:      battle.PhaseLobby,
			Lives:      lives.Left(),
		},
	}
}

// Events returns the outgoing event stream; it is closed when Run returns
func (t *Tracker) Events() <-chan Event {
	return t.events
}

// State returns a copy of the current state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run consumes snapshots until ctx ends, the stream closes or the document
// is deleted
func (t *Tracker) Run(ctx context.Context, snaps <-chan repository.Snapshot) error {
	ctx, cancel := context.WithCancel(ctx)
	defer close(t.events)
	defer t.ctrl.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			done, err := t.handleSnapshot(ctx, snap)
			if err != nil || done {
				return err
			}

		case ev := <-t.ctrl.Events():
			t.handleRound(ctx, ev)

		case beat := <-t.beats:
			t.emit(ctx, Event{Type: EventCountdown, Payload: CountdownPayload{Beat: beat}})

		case <-t.countdownDone:
			t.advance(battle.TriggerCountdownDone, ScreenActive)
		}
	}
}

func (t *Tracker) handleSnapshot(ctx context.Context, snap repository.Snapshot) (bool, error) {
	if snap.Err != nil {
		t.emit(ctx, Event{Type: EventError, Payload: ErrorPayload{Message: snap.Err.Error()}})
		return true, snap.Err
	}
	if snap.Deleted() {
		t.terminate(ctx)
		return true, nil
	}

	switch t.cfg.Collection {
	case model.CollectionSquadBattles:
		var b model.SquadBattle
		if err := snap.Decode(&b); err != nil {
			return true, err
		}
		t.onBattle(ctx, &b)
	default:
		var s model.Session
		if err := snap.Decode(&s); err != nil {
			return true, err
		}
		t.onSession(ctx, &s)
	}
	return false, nil
}

func (t *Tracker) onSession(ctx context.Context, s *model.Session) {
	t.mu.Lock()
	if i := s.StudentIndex(t.cfg.Name); i >= 0 && !t.seeded {
		st := s.Students[i]
		t.state.Correct = st.Score.Correct
		t.state.Total = st.Score.Total
		t.state.Streak = st.CurrentStreak
		t.seeded = true
	}
	t.mu.Unlock()

	t.emit(ctx, Event{Type: EventSnapshot, Payload: SnapshotPayload{
		Session:  s,
		Students: battle.RankStudents(s.Students),
	}})

	if s.StartedAt != nil {
		t.start(ctx, s.StartedAt, s.TimeLimit, true)
	}
	if s.EndedAt != nil {
		t.roundOver(ctx)
	}
}

func (t *Tracker) onBattle(ctx context.Context, b *model.SquadBattle) {
	policy := battle.PolicyFor(b.BattleType)
	t.mu.Lock()
	t.policy = policy
	if i := b.PlayerIndex(t.cfg.Name); i >= 0 {
		p := b.Players[i]
		if p.IsEliminated {
			t.state.Eliminated = true
		}
		if !t.seeded {
			t.state.Correct = p.Score
			t.state.Streak = p.CurrentStreak
			t.seeded = true
		}
	}
	t.mu.Unlock()

	t.emit(ctx, Event{Type: EventSnapshot, Payload: SnapshotPayload{
		Battle:  b,
		Players: policy.Rank(b.Players),
	}})

	if b.IsStarted && b.StartedAt != nil {
		t.start(ctx, b.StartedAt, t.cfg.SquadRoundSeconds, policy.Accumulating())
		if policy.GameOver(b.Players) {
			t.endGame(ctx)
		}
	}
	if b.EndedAt != nil {
		t.roundOver(ctx)
	}
}

// start reacts to the first startedAt only
func (t *Tracker) start(ctx context.Context, startedAt *time.Time, limit int, timed bool) {
	t.mu.Lock()
	if t.state.Started {
		t.mu.Unlock()
		return
	}
	t.state.Started = true
	t.state.Phase, _ = t.state.Phase.Advance(battle.TriggerStart)
	t.state.Screen = ScreenCountdown
	if timed {
		t.state.Remaining = round.Remaining(*startedAt, limit, t.cfg.Clock.Now())
	}
	state := t.state
	t.mu.Unlock()

	log.Info().
		Str("code", t.cfg.Code).
		Str("name", t.cfg.Name).
		Str("role", string(t.cfg.Role)).
		Msg("round started")
	t.emit(ctx, Event{Type: EventRoundStarted, Payload: StatePayload{State: state}})

	if timed {
		t.ctrl.Observe(ctx, startedAt, limit)
	}

	if t.cfg.CountdownBeats <= 0 || t.cfg.Role.Monitoring() {
		t.advance(battle.TriggerCountdownDone, ScreenActive)
		return
	}
	go func() {
		err := round.Countdown(ctx, t.cfg.Clock, t.cfg.CountdownBeats, func(n int) {
			select {
			case t.beats <- n:
			case <-ctx.Done():
			}
		})
		if err == nil {
			t.countdownDone <- struct{}{}
		}
	}()
}

func (t *Tracker) handleRound(ctx context.Context, ev round.Event) {
	switch ev.Kind {
	case round.EventTick:
		t.mu.Lock()
		if t.state.Phase == battle.PhaseEnded {
			t.mu.Unlock()
			return
		}
		t.state.Remaining = ev.Remaining
		t.mu.Unlock()
		t.emit(ctx, Event{Type: EventTick, Payload: TickPayload{Remaining: ev.Remaining}})
	case round.EventOver:
		t.roundOver(ctx)
	}
}

// roundOver ends the round locally. Monitoring roles only stop their clock;
// playing roles hand their final state to OnRoundOver.
func (t *Tracker) roundOver(ctx context.Context) {
	state, ok := t.finish(battle.TriggerRoundOver)
	if !ok {
		return
	}
	t.ctrl.Stop()
	t.emit(ctx, Event{Type: EventRoundOver, Payload: StatePayload{State: state}})

	if t.cfg.Role.Monitoring() {
		log.Info().Str("code", t.cfg.Code).Msg("round over, monitor stopped")
		return
	}
	log.Info().Str("code", t.cfg.Code).Str("name", t.cfg.Name).Int("correct", state.Correct).Msg("round over")
	t.submit(ctx, state)
}

func (t *Tracker) endGame(ctx context.Context) {
	t.mu.Lock()
	if t.gameOver {
		t.mu.Unlock()
		return
	}
	t.gameOver = true
	t.mu.Unlock()

	state, ok := t.finish(battle.TriggerGameOver)
	if !ok {
		return
	}
	t.ctrl.Stop()
	t.emit(ctx, Event{Type: EventGameOver, Payload: StatePayload{State: state}})
	if !t.cfg.Role.Monitoring() {
		t.submit(ctx, state)
	}
}

// submit hands the final state to OnRoundOver. A participant who never
// answered on this connection has nothing newer than the stored entry.
func (t *Tracker) submit(ctx context.Context, state State) {
	t.mu.Lock()
	answered := t.answered
	t.mu.Unlock()
	if !answered || t.cfg.OnRoundOver == nil {
		return
	}
	t.cfg.OnRoundOver(ctx, state)
}

// finish moves to the ended phase once; false means it already ended or
// never started
func (t *Tracker) finish(trigger battle.Trigger) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := t.state.Phase.Advance(trigger)
	if err != nil {
		return t.state, false
	}
	t.state.Phase = next
	t.state.Screen = ScreenResults
	if trigger == battle.TriggerRoundOver {
		t.state.Remaining = 0
	}
	return t.state, true
}

func (t *Tracker) advance(trigger battle.Trigger, screen Screen) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := t.state.Phase.Advance(trigger)
	if err != nil {
		return
	}
	t.state.Phase = next
	t.state.Screen = screen
}

func (t *Tracker) terminate(ctx context.Context) {
	t.ctrl.Stop()
	t.mu.Lock()
	t.state.Screen = ScreenTerminated
	state := t.state
	t.mu.Unlock()

	log.Info().Str("code", t.cfg.Code).Str("name", t.cfg.Name).Msg("document deleted, participant terminated")
	t.emit(ctx, Event{Type: EventTerminated, Payload: StatePayload{State: state}})
	if t.cfg.OnTerminated != nil {
		t.cfg.OnTerminated(state)
	}
}

// RecordAnswer updates the local tally. In elimination battles a wrong
// answer costs a life and the last life knocks the player out.
func (t *Tracker) RecordAnswer(correct bool) (AnswerOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Phase != battle.PhaseActive || t.state.Eliminated {
		return AnswerOutcome{}, ErrNotActive
	}

	t.answered = true
	t.state.Total++
	out := AnswerOutcome{}
	if correct {
		t.state.Correct++
		t.state.Streak++
	} else {
		t.state.Streak = 0
		if !t.policy.Accumulating() && t.lives.Miss() {
			t.state.Eliminated = true
			out.KnockedOut = true
		}
	}
	t.state.Lives = t.lives.Left()

	out.Correct = t.state.Correct
	out.Total = t.state.Total
	out.Streak = t.state.Streak
	out.LivesLeft = t.state.Lives
	out.Eliminated = t.state.Eliminated
	return out, nil
}

func (t *Tracker) emit(ctx context.Context, ev Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}
