package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog/log"

	"github.com/3-stardust-7/JarNox/internal/pkg/config"
	applogger "github.com/3-stardust-7/JarNox/internal/pkg/logger"
)

// Pool wraps pgxpool.Pool
type Pool struct {
	*pgxpool.Pool

	schemaMu sync.Mutex
	migrated bool
}

// NewPool creates a PostgreSQL connection pool and applies the schema.
// An unreachable server is not fatal: the pool is returned and the schema
// is applied on first use through EnsureSchema.
func NewPool(ctx context.Context, dbCfg config.DatabaseConfig, logCfg config.LoggingConfig) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Uint16("port", poolConfig.ConnConfig.Port).
		Str("database", poolConfig.ConnConfig.Database).
		Str("user", poolConfig.ConnConfig.User).
		Msg("Connecting to PostgreSQL...")

	poolConfig.MaxConns = dbCfg.MaxConns
	poolConfig.MinConns = dbCfg.MinConns
	poolConfig.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbCfg.MaxConnIdleTime

	if logCfg.FileEnabled {
		queryLogger := applogger.NewQueryLogger(logCfg.FilePath, logCfg.RotationSize, logCfg.RetentionDays)

		// debug: every pgx event via tracelog, otherwise per-query timing only
		if logCfg.Level == "debug" || logCfg.Level == "trace" {
			poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
				Logger:   NewPgxZerologAdapter(queryLogger),
				LogLevel: tracelog.LogLevelDebug,
			}
		} else {
			poolConfig.ConnConfig.Tracer = NewQueryLogger(queryLogger)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	p := &Pool{Pool: pool}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("PostgreSQL unreachable, schema deferred to first use")
		return p, nil
	}

	if err := p.EnsureSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("Schema not applied, retrying on first use")
		return p, nil
	}

	log.Info().Msg("PostgreSQL connected")

	return p, nil
}

// EnsureSchema applies the schema once; failures are retried on the next call
func (p *Pool) EnsureSchema(ctx context.Context) error {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()

	if p.migrated {
		return nil
	}
	if err := p.Migrate(ctx); err != nil {
		return err
	}
	p.migrated = true
	return nil
}

// Close closes the connection pool
func (p *Pool) Close() {
	log.Info().Msg("Closing PostgreSQL connection pool...")
	p.Pool.Close()
}
