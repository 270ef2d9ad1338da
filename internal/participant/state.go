// Package participant follows one client through a battle: it consumes the
// document snapshots that client would see and keeps its screen, round
// clock and lives in one explicit state value.
package participant

import (
	"multiplymonsters/internal/battle"
	"multiplymonsters/internal/model"
)

// Screen is what the client is showing
type Screen string

const (
	ScreenLobby      Screen = "lobby"
	ScreenCountdown  Screen = "countdown"
	ScreenActive     Screen = "active"
	ScreenResults    Screen = "results"
	ScreenTerminated Screen = "terminated"
)

// State is the whole client-side view of one participant
type State struct {
	Role       model.Role   `json:"role"`
	Collection string       `json:"collection"`
	Code       string       `json:"code"`
	Name       string       `json:"name"`
	Screen     Screen       `json:"screen"`
	Phase      battle.Phase `json:"phase"`
	Remaining  int          `json:"remaining"`
	Started    bool         `json:"started"` // set on the first startedAt seen, never cleared
	Lives      int          `json:"lives"`
	Eliminated bool         `json:"eliminated"`
	Correct    int          `json:"correct"`
	Total      int          `json:"total"`
	Streak     int          `json:"streak"`
}

// EventType names tracker events on the wire
type EventType string

const (
	EventSnapshot     EventType = "snapshot"
	EventRoundStarted EventType = "round_started"
	EventCountdown    EventType = "countdown"
	EventTick         EventType = "tick"
	EventRoundOver    EventType = "round_over"
	EventGameOver     EventType = "game_over"
	EventTerminated   EventType = "terminated"
	EventAnswer       EventType = "answer"
	EventError        EventType = "error"
)

// Event is the {type, payload} envelope sent to clients
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// SnapshotPayload carries a document and its current ranking
type SnapshotPayload struct {
	Session  *model.Session     `json:"session,omitempty"`
	Battle   *model.SquadBattle `json:"battle,omitempty"`
	Students []model.Student    `json:"students,omitempty"`
	Players  []model.Player     `json:"players,omitempty"`
}

type TickPayload struct {
	Remaining int `json:"remaining"`
}

type CountdownPayload struct {
	Beat int `json:"beat"`
}

// StatePayload reports the participant state at a phase change
type StatePayload struct {
	State State `json:"state"`
}

// AnswerOutcome is the local result of one answer
type AnswerOutcome struct {
	Correct    int  `json:"correct"`
	Total      int  `json:"total"`
	Streak     int  `json:"streak"`
	LivesLeft  int  `json:"livesLeft"`
	Eliminated bool `json:"eliminated"`
	KnockedOut bool `json:"knockedOut"` // this answer took the last life
}

type ErrorPayload struct {
	Message string `json:"message"`
}
