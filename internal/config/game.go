package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"multiplymonsters/internal/battle"
	"multiplymonsters/internal/participant"
	"multiplymonsters/internal/round"
	"multiplymonsters/internal/service"
)

// GameConfig holds the tunable rules of a battle
type GameConfig struct {
	// MergeStrategy is "transactional" or "overwrite"
	MergeStrategy string `yaml:"merge_strategy"`

	// CollisionCheck false lets a new document replace one with the same code
	CollisionCheck bool `yaml:"collision_check"`

	// ClockSkewToleranceMS delays the local round end, capped at one second
	ClockSkewToleranceMS int `yaml:"clock_skew_tolerance_ms"`

	SessionTimeLimit  int `yaml:"session_time_limit"`  // seconds
	SquadRoundSeconds int `yaml:"squad_round_seconds"` // quickClash and epicDuel
	SquadCapacity     int `yaml:"squad_capacity"`
	MinSquadPlayers   int `yaml:"min_squad_players"`
	SurvivalLives     int `yaml:"survival_lives"`
	CountdownBeats    int `yaml:"countdown_beats"`
}

// DefaultGameConfig returns the settings used when no file is given
func DefaultGameConfig() *GameConfig {
	return &GameConfig{
		MergeStrategy:     string(service.MergeTransactional),
		CollisionCheck:    true,
		SessionTimeLimit:  service.DefaultTimeLimit,
		SquadRoundSeconds: participant.DefaultSquadRoundSeconds,
		SquadCapacity:     service.DefaultSquadCapacity,
		MinSquadPlayers:   service.DefaultMinSquadPlayers,
		SurvivalLives:     battle.DefaultLives,
		CountdownBeats:    round.CountdownBeats,
	}
}

// LoadGameConfig reads path over the defaults; keys absent from the file
// keep their default value
func LoadGameConfig(path string) (*GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game config: %w", err)
	}

	cfg := DefaultGameConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse game config: %w", err)
	}
	if _, err := service.ParseMergeStrategy(cfg.MergeStrategy); err != nil {
		return nil, err
	}
	if cfg.ClockSkewToleranceMS < 0 {
		return nil, errors.New("clock_skew_tolerance_ms must not be negative")
	}
	return cfg, nil
}

// ServiceOptions converts the settings for the session and squad services
func (g *GameConfig) ServiceOptions() service.Options {
	strategy, err := service.ParseMergeStrategy(g.MergeStrategy)
	if err != nil {
		strategy = service.MergeTransactional
	}
	return service.Options{
		Strategy:         strategy,
		CollisionCheck:   g.CollisionCheck,
		DefaultTimeLimit: g.SessionTimeLimit,
		SquadCapacity:    g.SquadCapacity,
		MinSquadPlayers:  g.MinSquadPlayers,
	}
}

// SkewTolerance returns the round-end tolerance, clamped by the controller
func (g *GameConfig) SkewTolerance() time.Duration {
	d := time.Duration(g.ClockSkewToleranceMS) * time.Millisecond
	if d > round.MaxSkewTolerance {
		d = round.MaxSkewTolerance
	}
	return d
}
