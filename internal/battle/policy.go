// Package battle holds the roster interpretations layered over the shared
// document: how players are ranked and when a game is over.
package battle

import (
	"sort"

	"multiplymonsters/internal/model"
)

// Policy interprets a squad roster
type Policy interface {
	// Rank orders players for the leaderboard; ties keep roster order
	Rank(players []model.Player) []model.Player
	// GameOver reports whether the roster alone ends the game
	GameOver(players []model.Player) bool
	// Accumulating is true when only the clock ends a round
	Accumulating() bool
}

// PolicyFor returns the policy of a battle type. Unknown types are treated
// as accumulating.
func PolicyFor(t model.BattleType) Policy {
	if t.Eliminating() {
		return Elimination{}
	}
	return Accumulating{}
}

// Accumulating ranks by score; the round ends on the clock
type Accumulating struct{}

func (Accumulating) Rank(players []model.Player) []model.Player {
	out := append([]model.Player(nil), players...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func (Accumulating) GameOver([]model.Player) bool { return false }

func (Accumulating) Accumulating() bool { return true }

// Elimination is last-player-standing
type Elimination struct{}

func (Elimination) Rank(players []model.Player) []model.Player {
	out := append([]model.Player(nil), players...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsEliminated != out[j].IsEliminated {
			return !out[i].IsEliminated
		}
		return out[i].Score > out[j].Score
	})
	return out
}

func (Elimination) GameOver(players []model.Player) bool {
	return model.ActivePlayerCount(players) <= 1
}

func (Elimination) Accumulating() bool { return false }

// RankStudents orders a classroom roster by correct answers
func RankStudents(students []model.Student) []model.Student {
	out := append([]model.Student(nil), students...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.Correct > out[j].Score.Correct
	})
	return out
}
