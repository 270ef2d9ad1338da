// Package app wires the document store, caches and services selected by
// the configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"multiplymonsters/internal/cache"
	"multiplymonsters/internal/config"
	"multiplymonsters/internal/repository"
	"multiplymonsters/internal/service"
	"multiplymonsters/internal/transport/rest"
	"multiplymonsters/internal/transport/ws"
)

const connectTimeout = 5 * time.Second

type App struct {
	Store    repository.DocumentStore
	Registry cache.CodeRegistry
	Sessions *service.SessionService
	Squads   *service.SquadService
	Auth     *service.AuthService
	Hub      *ws.Hub
	Settings ws.Settings

	closers []func(context.Context) error
}

// New connects the configured backends and builds the services
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	clock := clockwork.NewRealClock()
	a := &App{}

	var base repository.DocumentStore
	switch cfg.StoreDriver {
	case config.StoreMemory:
		base = repository.NewMemoryStore(clock)
		a.Registry = cache.NewMemoryCodeRegistry()
		log.Warn().Msg("using in-memory document store, state is lost on restart")

	default:
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		a.closers = append(a.closers, mongoClient.Disconnect)

		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		store := repository.NewMongoStore(mongoClient, cfg.MongoDB, cache.NewChangeFeed(rdb), clock)
		if err := store.Ping(pingCtx); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		log.Info().Str("db", cfg.MongoDB).Msg("connected to MongoDB")

		if err := rdb.Ping(pingCtx).Err(); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to ping Redis: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		base = store
		a.Registry = cache.NewCodeRegistry(rdb)
	}

	a.Store = repository.WithRetry(repository.NewGuard(base), repository.DefaultRetryPolicy())

	opts := cfg.Game.ServiceOptions()
	a.Auth = service.NewAuthService(cfg.JWTSecret, clock)
	a.Sessions = service.NewSessionService(a.Store, a.Registry, clock, opts)
	a.Squads = service.NewSquadService(a.Store, a.Registry, clock, opts)
	a.Hub = ws.NewHub()
	a.Settings = ws.Settings{
		Clock:             clock,
		Tolerance:         cfg.Game.SkewTolerance(),
		CountdownBeats:    cfg.Game.CountdownBeats,
		SquadRoundSeconds: cfg.Game.SquadRoundSeconds,
		Lives:             cfg.Game.SurvivalLives,
	}

	log.Info().
		Str("store", cfg.StoreDriver).
		Str("merge_strategy", string(opts.Strategy)).
		Bool("collision_check", opts.CollisionCheck).
		Dur("skew_tolerance", a.Settings.Tolerance).
		Msg("game settings")
	return a, nil
}

// Router returns the HTTP handler serving the app
func (a *App) Router() http.Handler {
	return rest.NewRouter(&rest.Container{
		AuthService:    a.Auth,
		SessionService: a.Sessions,
		SquadService:   a.Squads,
		WSHub:          a.Hub,
		WSSettings:     a.Settings,
	})
}

// Close releases backend connections in reverse order
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("failed to close backend")
		}
	}
	a.closers = nil
}
