// Package config loads server settings from .env, the environment, an
// optional YAML game settings file and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers accepted by -store and STORE_DRIVER
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Port        int
	MongoURI    string
	MongoDB     string
	RedisAddr   string
	JWTSecret   string
	StoreDriver string
	LogLevel    string
	LogFormat   string
	GamePath    string
	Game        *GameConfig
}

// Load reads .env when present, then the environment, then args
func Load(args []string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getEnv("MONGO_DB", "multiplymonsters"),
		RedisAddr:   strings.TrimPrefix(getEnv("REDIS_URI", "localhost:6379"), "redis://"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		StoreDriver: getEnv("STORE_DRIVER", StoreMongo),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		GamePath:    os.Getenv("GAME_CONFIG"),
	}
	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, errors.New("invalid PORT env variable")
	}
	cfg.Port = port

	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case StoreMongo, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET required")
	}

	cfg.Game = DefaultGameConfig()
	if cfg.GamePath != "" {
		game, err := LoadGameConfig(cfg.GamePath)
		if err != nil {
			return nil, err
		}
		cfg.Game = game
	}
	return cfg, nil
}

// parseFlags overrides env values with any flags given
func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("multiplymonsters", flag.ContinueOnError)
	fs.IntVar(&c.Port, "p", c.Port, "Server port")
	fs.StringVar(&c.GamePath, "config", c.GamePath, "Game settings YAML file")
	fs.StringVar(&c.StoreDriver, "store", c.StoreDriver, "Document store (mongo or memory)")
	return fs.Parse(args)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
