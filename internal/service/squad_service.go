package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"multiplymonsters/internal/cache"
	"multiplymonsters/internal/model"
	"multiplymonsters/internal/repository"
)

// SquadService handles peer-hosted squad battles
type SquadService struct {
	store repository.DocumentStore
	codes *codeIssuer
	clock clockwork.Clock
	opts  Options
}

// NewSquadService creates a new squad service. registry may be nil.
func NewSquadService(
	store repository.DocumentStore,
	registry cache.CodeRegistry,
	clock clockwork.Clock,
	opts Options,
) *SquadService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SquadService{
		store: store,
		codes: newCodeIssuer(store, registry, opts.CollisionCheck),
		clock: clock,
		opts:  opts,
	}
}

// CreateSquadBattle writes a new battle whose only player is the host
func (s *SquadService) CreateSquadBattle(ctx context.Context, hostName string, battleType model.BattleType) (string, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return "", ErrInvalidName
	}
	if !battleType.Valid() {
		return "", ErrInvalidBattleType
	}

	code, err := s.codes.create(ctx, model.CollectionSquadBattles, SquadCodeLen, func(code string) (interface{}, error) {
		fields, err := repository.ToFields(&model.SquadBattle{
			Code:         code,
			HostName:     hostName,
			BattleType:   battleType,
			IsActive:     true,
			Players:      []model.Player{model.NewPlayer(hostName, true, s.clock.Now().UTC())},
			ReadyPlayers: []string{},
		})
		if err != nil {
			return nil, err
		}
		fields["createdAt"] = repository.ServerTimestamp
		return fields, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create squad battle: %w", err)
	}

	log.Info().
		Str("code", code).
		Str("host", hostName).
		Str("battle_type", string(battleType)).
		Msg("squad battle created")
	return code, nil
}

// GetSquadBattle reads the current battle document
func (s *SquadService) GetSquadBattle(ctx context.Context, code string) (*model.SquadBattle, error) {
	var battle model.SquadBattle
	if err := s.store.Read(ctx, model.CollectionSquadBattles, code, &battle); err != nil {
		return nil, err
	}
	return &battle, nil
}

// JoinSquadBattle appends name to a battle still in its lobby
func (s *SquadService) JoinSquadBattle(ctx context.Context, code, name string) (*model.SquadBattle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidName
	}

	battle, err := merge(ctx, s.store, s.opts.Strategy, model.CollectionSquadBattles, code, func(doc *model.SquadBattle) (bson.M, error) {
		switch {
		case !doc.IsActive:
			return nil, ErrInactiveSession
		case doc.IsStarted:
			return nil, ErrAlreadyStarted
		case doc.PlayerIndex(name) >= 0:
			return nil, ErrDuplicateName
		case len(doc.Players) >= s.opts.SquadCapacity:
			return nil, ErrCapacityExceeded
		}
		doc.Players = append(doc.Players, model.NewPlayer(name, false, s.clock.Now().UTC()))
		return bson.M{"players": doc.Players}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("code", code).Str("name", name).Int("players", len(battle.Players)).Msg("player joined squad battle")
	return battle, nil
}

// LeaveSquadBattle removes name. When the host leaves, the first remaining
// player takes over; when nobody remains the battle is deleted.
func (s *SquadService) LeaveSquadBattle(ctx context.Context, code, name string) error {
	empty := false
	_, err := merge(ctx, s.store, s.opts.Strategy, model.CollectionSquadBattles, code, func(doc *model.SquadBattle) (bson.M, error) {
		empty = false
		if doc.PlayerIndex(name) < 0 {
			return nil, nil
		}
		players := removePlayer(doc.Players, name)
		if len(players) == 0 {
			empty = true
			return nil, nil
		}

		if doc.HostName == name || !hasHost(players) {
			for i := range players {
				players[i].IsHost = i == 0
			}
			doc.HostName = players[0].Name
		}
		doc.Players = players
		doc.ReadyPlayers = readyPlayers(players)
		return bson.M{
			"players":      doc.Players,
			"hostName":     doc.HostName,
			"readyPlayers": doc.ReadyPlayers,
		}, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if empty {
		if err := s.store.Remove(ctx, model.CollectionSquadBattles, code); err != nil {
			return fmt.Errorf("failed to delete empty squad battle: %w", err)
		}
		s.codes.release(ctx, model.CollectionSquadBattles, code)
		log.Info().Str("code", code).Msg("squad battle deleted, last player left")
		return nil
	}

	log.Info().Str("code", code).Str("name", name).Msg("player left squad battle")
	return nil
}

// Abandon leaves in the background, logging failures
func (s *SquadService) Abandon(code, name string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
		defer cancel()
		if err := s.LeaveSquadBattle(ctx, code, name); err != nil {
			log.Warn().Err(err).Str("code", code).Str("name", name).Msg("failed to leave abandoned squad battle")
		}
	}()
}

// UpdatePlayerReady flips name's ready flag and refreshes readyPlayers
func (s *SquadService) UpdatePlayerReady(ctx context.Context, code, name string, ready bool) (*model.SquadBattle, error) {
	return merge(ctx, s.store, s.opts.Strategy, model.CollectionSquadBattles, code, func(doc *model.SquadBattle) (bson.M, error) {
		players, found := patchPlayers(doc.Players, name, PlayerPatch{IsReady: &ready})
		if !found {
			return nil, ErrNotParticipant
		}
		doc.Players = players
		doc.ReadyPlayers = readyPlayers(players)
		return bson.M{
			"players":      doc.Players,
			"readyPlayers": doc.ReadyPlayers,
		}, nil
	})
}

// StartSquadBattle is the host's start action. Everyone must be ready and
// at least MinSquadPlayers must be present.
func (s *SquadService) StartSquadBattle(ctx context.Context, code, requester string) error {
	_, err := repository.Transact(ctx, s.store, model.CollectionSquadBattles, code, func(doc *model.SquadBattle) (bson.M, error) {
		switch {
		case doc.HostName != requester:
			return nil, ErrNotHost
		case !doc.IsActive:
			return nil, ErrInactiveSession
		case doc.IsStarted:
			return nil, ErrAlreadyStarted
		case len(doc.Players) < s.opts.MinSquadPlayers:
			return nil, ErrNotEnoughPlayers
		case !doc.AllReady():
			return nil, ErrPlayersNotReady
		}
		return bson.M{
			"isStarted": true,
			"startedAt": repository.ServerTimestamp,
		}, nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("code", code).Str("host", requester).Msg("squad battle started")
	return nil
}

// UpdateSquadPlayerScore replaces name's score and streak
func (s *SquadService) UpdateSquadPlayerScore(ctx context.Context, code, name string, score, streak int) (*model.Player, error) {
	return s.patchPlayer(ctx, code, name, PlayerPatch{Score: &score, CurrentStreak: &streak})
}

// EliminatePlayer marks name as knocked out of a survival battle
func (s *SquadService) EliminatePlayer(ctx context.Context, code, name string) (*model.Player, error) {
	eliminated := true
	player, err := s.patchPlayer(ctx, code, name, PlayerPatch{IsEliminated: &eliminated})
	if err != nil {
		return nil, err
	}
	log.Info().Str("code", code).Str("name", name).Msg("player eliminated")
	return player, nil
}

func (s *SquadService) patchPlayer(ctx context.Context, code, name string, patch PlayerPatch) (*model.Player, error) {
	battle, err := merge(ctx, s.store, s.opts.Strategy, model.CollectionSquadBattles, code, func(doc *model.SquadBattle) (bson.M, error) {
		players, found := patchPlayers(doc.Players, name, patch)
		if !found {
			return nil, ErrNotParticipant
		}
		doc.Players = players
		return bson.M{"players": players}, nil
	})
	if err != nil {
		return nil, err
	}
	i := battle.PlayerIndex(name)
	if i < 0 {
		return nil, ErrNotParticipant
	}
	player := battle.Players[i]
	return &player, nil
}

// EndSquadBattle stamps endedAt; isStarted stays set
func (s *SquadService) EndSquadBattle(ctx context.Context, code string) error {
	err := s.store.Update(ctx, model.CollectionSquadBattles, code, bson.M{
		"endedAt":  repository.ServerTimestamp,
		"isActive": false,
	})
	if err != nil {
		return err
	}

	log.Info().Str("code", code).Msg("squad battle ended")
	return nil
}

// ListenToSquadBattle streams battle states; nil means it was deleted
func (s *SquadService) ListenToSquadBattle(ctx context.Context, code string) (*SquadStream, error) {
	sub, err := s.store.Subscribe(ctx, model.CollectionSquadBattles, code)
	if err != nil {
		return nil, err
	}
	return &SquadStream{sub: sub}, nil
}

func hasHost(players []model.Player) bool {
	for _, p := range players {
		if p.IsHost {
			return true
		}
	}
	return false
}
