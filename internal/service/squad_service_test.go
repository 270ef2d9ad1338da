package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplymonsters/internal/model"
)

func (f *fixture) battle(t *testing.T, code string) *model.SquadBattle {
	t.Helper()
	b, err := f.squads.GetSquadBattle(context.Background(), code)
	require.NoError(t, err)
	return b
}

func TestCreateSquadBattle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleQuickClash)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{3}$`), code)

	b := f.battle(t, code)
	assert.Equal(t, "Alex", b.HostName)
	assert.True(t, b.IsActive)
	assert.False(t, b.IsStarted)
	assert.Nil(t, b.StartedAt)
	assert.Empty(t, b.ReadyPlayers)

	_, err = f.squads.CreateSquadBattle(ctx, "Alex", model.BattleType("chess"))
	assert.ErrorIs(t, err, ErrInvalidBattleType)
	_, err = f.squads.CreateSquadBattle(ctx, "", model.BattleSurvival)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestSquadBattle_SurvivalHostHandOff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleSurvival)
	require.NoError(t, err)

	b := f.battle(t, code)
	require.Len(t, b.Players, 1)
	alex := b.Players[0]
	assert.Equal(t, "Alex", alex.Name)
	assert.True(t, alex.IsHost)
	assert.False(t, alex.IsEliminated)
	assert.Equal(t, 0, alex.Score)

	_, err = f.squads.JoinSquadBattle(ctx, code, "Sam")
	require.NoError(t, err)
	b = f.battle(t, code)
	require.Len(t, b.Players, 2)
	assert.False(t, b.Players[1].IsHost)

	require.NoError(t, f.squads.LeaveSquadBattle(ctx, code, "Alex"))
	b = f.battle(t, code)
	assert.Equal(t, "Sam", b.HostName)
	require.Len(t, b.Players, 1)
	assert.Equal(t, "Sam", b.Players[0].Name)
	assert.True(t, b.Players[0].IsHost)

	require.NoError(t, f.squads.LeaveSquadBattle(ctx, code, "Sam"))
	_, err = f.squads.GetSquadBattle(ctx, code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSquadBattle_JoinThenLeaveRestoresRoster(t *testing.T) {
	for _, strategy := range []MergeStrategy{MergeTransactional, MergeOverwrite} {
		t.Run(string(strategy), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, func(o *Options) { o.Strategy = strategy })
			code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleQuickClash)
			require.NoError(t, err)
			_, err = f.squads.JoinSquadBattle(ctx, code, "Sam")
			require.NoError(t, err)
			_, err = f.squads.UpdatePlayerReady(ctx, code, "Sam", true)
			require.NoError(t, err)
			before := f.battle(t, code)

			f.clock.Advance(3 * time.Second)
			_, err = f.squads.JoinSquadBattle(ctx, code, "Kim")
			require.NoError(t, err)
			require.NoError(t, f.squads.LeaveSquadBattle(ctx, code, "Kim"))

			after := f.battle(t, code)
			assert.Equal(t, before.Players, after.Players)
			assert.Equal(t, before.HostName, after.HostName)
			assert.Equal(t, before.ReadyPlayers, after.ReadyPlayers)
		})
	}
}

func TestJoinSquadBattle_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleQuickClash)
	require.NoError(t, err)

	_, err = f.squads.JoinSquadBattle(ctx, code, "Alex")
	assert.ErrorIs(t, err, ErrDuplicateName)

	for i := 1; i < DefaultSquadCapacity; i++ {
		_, err := f.squads.JoinSquadBattle(ctx, code, fmt.Sprintf("P%d", i))
		require.NoError(t, err)
	}
	before := f.battle(t, code)
	_, err = f.squads.JoinSquadBattle(ctx, code, "Late")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, before.Revision, f.battle(t, code).Revision)

	_, err = f.squads.JoinSquadBattle(ctx, "ZZZ", "Sam")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinSquadBattle_AfterStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code := startedBattle(t, f, model.BattleQuickClash, "Alex", "Sam")

	_, err := f.squads.JoinSquadBattle(ctx, code, "Kim")
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	require.NoError(t, f.squads.EndSquadBattle(ctx, code))
	_, err = f.squads.JoinSquadBattle(ctx, code, "Kim")
	assert.ErrorIs(t, err, ErrInactiveSession)
}

func startedBattle(t *testing.T, f *fixture, battleType model.BattleType, host string, others ...string) string {
	t.Helper()
	ctx := context.Background()
	code, err := f.squads.CreateSquadBattle(ctx, host, battleType)
	require.NoError(t, err)
	for _, name := range others {
		_, err := f.squads.JoinSquadBattle(ctx, code, name)
		require.NoError(t, err)
	}
	for _, name := range append([]string{host}, others...) {
		_, err := f.squads.UpdatePlayerReady(ctx, code, name, true)
		require.NoError(t, err)
	}
	require.NoError(t, f.squads.StartSquadBattle(ctx, code, host))
	return code
}

func TestStartSquadBattle_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleQuickClash)
	require.NoError(t, err)

	_, err = f.squads.UpdatePlayerReady(ctx, code, "Alex", true)
	require.NoError(t, err)
	assert.ErrorIs(t, f.squads.StartSquadBattle(ctx, code, "Alex"), ErrNotEnoughPlayers)

	_, err = f.squads.JoinSquadBattle(ctx, code, "Sam")
	require.NoError(t, err)
	assert.ErrorIs(t, f.squads.StartSquadBattle(ctx, code, "Alex"), ErrPlayersNotReady)

	b, err := f.squads.UpdatePlayerReady(ctx, code, "Sam", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alex", "Sam"}, b.ReadyPlayers)
	assert.ErrorIs(t, f.squads.StartSquadBattle(ctx, code, "Sam"), ErrNotHost)

	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.squads.StartSquadBattle(ctx, code, "Alex"))
	b = f.battle(t, code)
	assert.True(t, b.IsStarted)
	require.NotNil(t, b.StartedAt)
	assert.True(t, b.StartedAt.Equal(epoch.Add(2*time.Second)))

	assert.ErrorIs(t, f.squads.StartSquadBattle(ctx, code, "Alex"), ErrAlreadyStarted)
}

func TestUpdatePlayerReady_RecomputesReadyPlayers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleQuickClash)
	require.NoError(t, err)
	_, err = f.squads.JoinSquadBattle(ctx, code, "Sam")
	require.NoError(t, err)

	b, err := f.squads.UpdatePlayerReady(ctx, code, "Sam", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sam"}, b.ReadyPlayers)

	b, err = f.squads.UpdatePlayerReady(ctx, code, "Sam", false)
	require.NoError(t, err)
	assert.Empty(t, b.ReadyPlayers)

	_, err = f.squads.UpdatePlayerReady(ctx, code, "Kim", true)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSquadScoresAndElimination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code := startedBattle(t, f, model.BattleSurvival, "Alex", "Sam", "Kim")

	p, err := f.squads.UpdateSquadPlayerScore(ctx, code, "Sam", 12, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, p.Score)
	assert.Equal(t, 5, p.BestStreak)

	p, err = f.squads.UpdateSquadPlayerScore(ctx, code, "Sam", 13, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, p.CurrentStreak)
	assert.Equal(t, 5, p.BestStreak)

	p, err = f.squads.EliminatePlayer(ctx, code, "Kim")
	require.NoError(t, err)
	assert.True(t, p.IsEliminated)

	b := f.battle(t, code)
	assert.Equal(t, 2, model.ActivePlayerCount(b.Players))
	assert.Equal(t, 13, b.Players[1].Score)

	_, err = f.squads.EliminatePlayer(ctx, code, "Nobody")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestEndSquadBattle_KeepsStartedFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code := startedBattle(t, f, model.BattleEpicDuel, "Alex", "Sam")

	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.squads.EndSquadBattle(ctx, code))

	b := f.battle(t, code)
	assert.False(t, b.IsActive)
	assert.True(t, b.IsStarted)
	require.NotNil(t, b.EndedAt)
	assert.True(t, b.EndedAt.Equal(epoch.Add(3*time.Minute)))
}

func TestListenToSquadBattle_DeliversDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleQuickClash)
	require.NoError(t, err)

	stream, err := f.squads.ListenToSquadBattle(ctx, code)
	require.NoError(t, err)
	defer stream.Close()

	b, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alex", b.HostName)

	require.NoError(t, f.squads.LeaveSquadBattle(ctx, code, "Alex"))
	b, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestConcurrentSquadReadiness(t *testing.T) {
	tests := []struct {
		strategy  MergeStrategy
		wantReady []string
	}{
		{MergeTransactional, []string{"Alex", "Sam"}},
		{MergeOverwrite, []string{"Alex"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, func(o *Options) { o.Strategy = tt.strategy })
			code, err := f.squads.CreateSquadBattle(ctx, "Alex", model.BattleQuickClash)
			require.NoError(t, err)
			_, err = f.squads.JoinSquadBattle(ctx, code, "Sam")
			require.NoError(t, err)

			opts := DefaultOptions()
			opts.Strategy = tt.strategy
			sam := NewSquadService(f.store, f.registry, f.clock, opts)
			racing := &interleavingStore{DocumentStore: f.store, between: func() {
				_, err := sam.UpdatePlayerReady(ctx, code, "Sam", true)
				require.NoError(t, err)
			}}
			alex := NewSquadService(racing, f.registry, f.clock, opts)

			_, err = alex.UpdatePlayerReady(ctx, code, "Alex", true)
			require.NoError(t, err)

			assert.Equal(t, tt.wantReady, f.battle(t, code).ReadyPlayers)
		})
	}
}
