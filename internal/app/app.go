package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
	"github.com/3-stardust-7/JarNox/internal/infra/database"
	"github.com/3-stardust-7/JarNox/internal/infra/database/postgres"
	pgmarket "github.com/3-stardust-7/JarNox/internal/infra/database/postgres/market"
	"github.com/3-stardust-7/JarNox/internal/infra/database/sqlite"
	"github.com/3-stardust-7/JarNox/internal/infra/external/upstream"
	"github.com/3-stardust-7/JarNox/internal/infra/external/wikipedia"
	"github.com/3-stardust-7/JarNox/internal/infra/external/yahoo"
	"github.com/3-stardust-7/JarNox/internal/pkg/config"
	"github.com/3-stardust-7/JarNox/internal/service/marketdata"
	"github.com/3-stardust-7/JarNox/internal/service/warmer"
)

// Store is a market store that can report its own health
type Store interface {
	market.Store
	Health(ctx context.Context) *database.HealthStatus
}

// App wires the store, upstream and cache policy together.
// Caller must call Close when shutting down.
type App struct {
	Config  *config.Config
	Store   Store
	Service *marketdata.Service
	Warmer  *warmer.Warmer // nil when no warm schedule is configured
}

// New builds the application graph from cfg. ctx bounds background warm runs.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(ctx, cfg, store, NewUpstream(cfg.Upstream))
}

// NewWithStore builds the graph over an already opened store and upstream
func NewWithStore(ctx context.Context, cfg *config.Config, store Store, up market.Upstream) (*App, error) {
	service := marketdata.NewService(store, up, PolicyConfig(cfg))

	a := &App{
		Config:  cfg,
		Store:   store,
		Service: service,
	}

	if cfg.Warmer.Cron != "" {
		w := warmer.New(ctx, service, cfg.Warmer.Delay)
		if err := w.Register(cfg.Warmer.Cron); err != nil {
			store.Close()
			return nil, err
		}
		a.Warmer = w
	}

	return a, nil
}

// OpenStore opens the configured backend and applies its schema
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Database, cfg.Logging)
		if err != nil {
			return nil, err
		}
		return pgmarket.NewStore(pool), nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.Database.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (use: postgres, sqlite)", cfg.Database.Driver)
	}
}

// NewUpstream creates the constituent list + chart API provider
func NewUpstream(cfg config.UpstreamConfig) *upstream.Provider {
	quotes := yahoo.NewClient(yahoo.Config{
		BaseURL:   cfg.YahooBaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Retries:   cfg.Retries,
		RetryWait: cfg.RateLimitBackoff,
	})
	symbols := wikipedia.NewClient(cfg.UniverseURL, cfg.UserAgent, cfg.Timeout)

	return upstream.New(symbols, quotes, upstream.Config{
		NameLookupDelay:  cfg.NameLookupDelay,
		RateLimitBackoff: cfg.RateLimitBackoff,
	})
}

// PolicyConfig maps file/env configuration onto the cache policy
func PolicyConfig(cfg *config.Config) *marketdata.Config {
	return &marketdata.Config{
		UniverseSize:      cfg.Upstream.UniverseSize,
		FreshnessDays:     cfg.Cache.FreshnessDays,
		DefaultWindowDays: cfg.Cache.DefaultWindowDays,
		FallbackLimit:     cfg.Cache.FallbackLimit,
		UpstreamTimeout:   cfg.Upstream.Timeout,
	}
}

// Start begins background work
func (a *App) Start() {
	if a.Warmer != nil {
		a.Warmer.Start()
	}
}

// Close stops the warmer and releases the store
func (a *App) Close() {
	if a.Warmer != nil {
		a.Warmer.Stop()
	}
	a.Store.Close()
	log.Info().Str("driver", a.Config.Database.Driver).Msg("Application closed")
}
