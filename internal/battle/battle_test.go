package battle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplymonsters/internal/model"
)

func names(players []model.Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Name
	}
	return out
}

func TestAccumulating_RankStableOnTies(t *testing.T) {
	roster := []model.Player{
		{Name: "Alex", Score: 5},
		{Name: "Sam", Score: 9},
		{Name: "Kim", Score: 5},
		{Name: "Lu", Score: 0},
	}
	ranked := Accumulating{}.Rank(roster)
	assert.Equal(t, []string{"Sam", "Alex", "Kim", "Lu"}, names(ranked))
	assert.Equal(t, "Alex", roster[0].Name, "input roster is not reordered")
	assert.False(t, Accumulating{}.GameOver(roster))
	assert.True(t, Accumulating{}.Accumulating())
}

func TestElimination_Rank(t *testing.T) {
	roster := []model.Player{
		{Name: "Alex", Score: 20, IsEliminated: true},
		{Name: "Sam", Score: 3},
		{Name: "Kim", Score: 8},
		{Name: "Lu", Score: 30, IsEliminated: true},
	}
	ranked := Elimination{}.Rank(roster)
	assert.Equal(t, []string{"Kim", "Sam", "Lu", "Alex"}, names(ranked))
}

func TestElimination_GameOver(t *testing.T) {
	tests := []struct {
		name       string
		eliminated []bool
		want       bool
	}{
		{"all standing", []bool{false, false, false}, false},
		{"two standing", []bool{true, false, false}, false},
		{"last one standing", []bool{true, false, true}, true},
		{"nobody standing", []bool{true, true}, true},
		{"solo", []bool{false}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roster := make([]model.Player, len(tt.eliminated))
			for i, e := range tt.eliminated {
				roster[i] = model.Player{Name: string(rune('A' + i)), IsEliminated: e}
			}
			assert.Equal(t, tt.want, Elimination{}.GameOver(roster))
		})
	}
}

func TestPolicyFor(t *testing.T) {
	assert.IsType(t, Elimination{}, PolicyFor(model.BattleSurvival))
	assert.IsType(t, Accumulating{}, PolicyFor(model.BattleQuickClash))
	assert.IsType(t, Accumulating{}, PolicyFor(model.BattleEpicDuel))
}

func TestRankStudents(t *testing.T) {
	ranked := RankStudents([]model.Student{
		{Name: "Ana", Score: model.Score{Correct: 3, Total: 4}},
		{Name: "Ben", Score: model.Score{Correct: 7, Total: 9}},
		{Name: "Cy", Score: model.Score{Correct: 3, Total: 3}},
	})
	got := make([]string, len(ranked))
	for i, s := range ranked {
		got[i] = s.Name
	}
	assert.Equal(t, []string{"Ben", "Ana", "Cy"}, got)
}

func TestPhase_Advance(t *testing.T) {
	p := PhaseLobby
	var err error
	for _, step := range []struct {
		trigger Trigger
		want    Phase
	}{
		{TriggerStart, PhaseCountdown},
		{TriggerCountdownDone, PhaseActive},
		{TriggerRoundOver, PhaseEnded},
	} {
		p, err = p.Advance(step.trigger)
		require.NoError(t, err)
		assert.Equal(t, step.want, p)
	}

	_, err = PhaseEnded.Advance(TriggerStart)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = PhaseLobby.Advance(TriggerRoundOver)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	next, err := PhaseActive.Advance(TriggerStart)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, PhaseActive, next)
}

func TestLives(t *testing.T) {
	l := NewLives(0)
	assert.Equal(t, DefaultLives, l.Left())
	assert.False(t, l.Miss())
	assert.False(t, l.Miss())
	assert.True(t, l.Miss())
	assert.Equal(t, 0, l.Left())
	assert.False(t, l.Miss(), "elimination is reported once")
}
