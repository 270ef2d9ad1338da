package model

import "time"

// Collection names in the document store
const (
	CollectionSessions     = "sessions"
	CollectionSquadBattles = "squadBattles"
)

// GameMode is the teacher-selected flavour of a classroom battle
type GameMode string

const (
	GameModeTimed    GameMode = "timed"
	GameModeAdvanced GameMode = "advanced"
	GameModeTraining GameMode = "training"
)

// Valid reports whether m is one of the known game modes
func (m GameMode) Valid() bool {
	switch m {
	case GameModeTimed, GameModeAdvanced, GameModeTraining:
		return true
	}
	return false
}

// Score is a student's running tally for the round
type Score struct {
	Correct int `json:"correct" bson:"correct"`
	Total   int `json:"total" bson:"total"`
}

// Student is one roster entry of a classroom session, keyed by Name
type Student struct {
	Name          string    `json:"name" bson:"name"`
	Score         Score     `json:"score" bson:"score"`
	JoinedAt      time.Time `json:"joinedAt" bson:"joinedAt"`
	IsReady       bool      `json:"isReady" bson:"isReady"`
	CurrentStreak int       `json:"currentStreak" bson:"currentStreak"`
	BestStreak    int       `json:"bestStreak" bson:"bestStreak"`
}

// NewStudent returns a zeroed roster entry for a student joining now
func NewStudent(name string, joinedAt time.Time) Student {
	return Student{
		Name:     name,
		Score:    Score{},
		JoinedAt: joinedAt,
	}
}

// Session is a teacher-led classroom battle document
type Session struct {
	Code        string     `json:"code" bson:"code"`
	TeacherName string     `json:"teacherName" bson:"teacherName"`
	GameMode    GameMode   `json:"gameMode" bson:"gameMode"`
	TimeLimit   int        `json:"timeLimit" bson:"timeLimit"` // seconds
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	IsActive    bool       `json:"isActive" bson:"isActive"`
	Students    []Student  `json:"students" bson:"students"`
	StartedAt   *time.Time `json:"startedAt" bson:"startedAt"`
	EndedAt     *time.Time `json:"endedAt" bson:"endedAt"`

	// Revision is maintained by the store and bumped on every write
	Revision int64 `json:"revision" bson:"revision"`
}

// CurrentRevision implements repository.Versioned
func (s *Session) CurrentRevision() int64 {
	return s.Revision
}

// StudentIndex returns the roster position of name, or -1
func (s *Session) StudentIndex(name string) int {
	for i := range s.Students {
		if s.Students[i].Name == name {
			return i
		}
	}
	return -1
}

// HasStarted reports whether the round start signal has been written
func (s *Session) HasStarted() bool {
	return s.StartedAt != nil
}
