package service

import (
	"errors"

	"multiplymonsters/internal/repository"
)

// Store failures surface unchanged so callers can classify them with
// errors.Is against either package
var (
	ErrNotFound     = repository.ErrNotFound
	ErrAccessDenied = repository.ErrAccessDenied
	ErrUnavailable  = repository.ErrUnavailable
)

var (
	ErrInactiveSession   = errors.New("session is no longer active")
	ErrAlreadyStarted    = errors.New("battle has already started")
	ErrDuplicateName     = errors.New("a participant with that name already joined")
	ErrCapacityExceeded  = errors.New("battle is full")
	ErrNotParticipant    = errors.New("no participant with that name")
	ErrNotHost           = errors.New("only the host can do that")
	ErrPlayersNotReady   = errors.New("not every player is ready")
	ErrNotEnoughPlayers  = errors.New("not enough players to start")
	ErrInvalidName       = errors.New("name must not be empty")
	ErrInvalidBattleType = errors.New("unknown battle type")
	ErrInvalidGameMode   = errors.New("unknown game mode")
	ErrCodesExhausted    = errors.New("failed to generate unique code")
)
