package model

import "time"

// BattleType selects the roster interpretation of a squad battle
type BattleType string

const (
	BattleQuickClash BattleType = "quickClash"
	BattleEpicDuel   BattleType = "epicDuel"
	BattleSurvival   BattleType = "survival"
)

// Valid reports whether t is one of the known battle types
func (t BattleType) Valid() bool {
	switch t {
	case BattleQuickClash, BattleEpicDuel, BattleSurvival:
		return true
	}
	return false
}

// Eliminating is true for variants that knock players out instead of
// timing the round
func (t BattleType) Eliminating() bool {
	return t == BattleSurvival
}

// Player is one roster entry of a squad battle, keyed by Name
type Player struct {
	Name          string    `json:"name" bson:"name"`
	Score         int       `json:"score" bson:"score"`
	IsReady       bool      `json:"isReady" bson:"isReady"`
	IsHost        bool      `json:"isHost" bson:"isHost"`
	JoinedAt      time.Time `json:"joinedAt" bson:"joinedAt"`
	IsEliminated  bool      `json:"isEliminated" bson:"isEliminated"`
	CurrentStreak int       `json:"currentStreak" bson:"currentStreak"`
	BestStreak    int       `json:"bestStreak" bson:"bestStreak"`
}

// NewPlayer returns a zeroed roster entry
func NewPlayer(name string, isHost bool, joinedAt time.Time) Player {
	return Player{
		Name:     name,
		IsHost:   isHost,
		JoinedAt: joinedAt,
	}
}

// SquadBattle is a peer-initiated small-group battle document
type SquadBattle struct {
	Code         string     `json:"code" bson:"code"`
	HostName     string     `json:"hostName" bson:"hostName"`
	BattleType   BattleType `json:"battleType" bson:"battleType"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	IsActive     bool       `json:"isActive" bson:"isActive"`
	IsStarted    bool       `json:"isStarted" bson:"isStarted"`
	Players      []Player   `json:"players" bson:"players"`
	StartedAt    *time.Time `json:"startedAt" bson:"startedAt"`
	EndedAt      *time.Time `json:"endedAt" bson:"endedAt"`
	ReadyPlayers []string   `json:"readyPlayers" bson:"readyPlayers"`

	Revision int64 `json:"revision" bson:"revision"`
}

// CurrentRevision implements repository.Versioned
func (b *SquadBattle) CurrentRevision() int64 {
	return b.Revision
}

// PlayerIndex returns the roster position of name, or -1
func (b *SquadBattle) PlayerIndex(name string) int {
	for i := range b.Players {
		if b.Players[i].Name == name {
			return i
		}
	}
	return -1
}

// ActivePlayerCount returns the number of players not yet eliminated
func ActivePlayerCount(players []Player) int {
	count := 0
	for _, p := range players {
		if !p.IsEliminated {
			count++
		}
	}
	return count
}

// AllReady reports whether every player on the roster has readied up
func (b *SquadBattle) AllReady() bool {
	for _, p := range b.Players {
		if !p.IsReady {
			return false
		}
	}
	return len(b.Players) > 0
}
