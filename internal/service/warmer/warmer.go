package warmer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3-stardust-7/JarNox/internal/service/marketdata"
)

// Cache is the part of the cache policy the warmer drives
type Cache interface {
	GetCompanies(ctx context.Context) (*marketdata.CompaniesResult, error)
	GetHistorical(ctx context.Context, q marketdata.HistoricalQuery) (*marketdata.HistoricalResult, error)
}

// Summary outcome of one warm run, by result source
type Summary struct {
	Tickers int
	Sources map[marketdata.Source]int
	Failed  int
}

// Warmer walks the company list on a cron schedule so requests hit fresh rows
type Warmer struct {
	cron  *cron.Cron
	cache Cache
	delay time.Duration
	ctx   context.Context
}

// New creates a warmer; ctx bounds every scheduled run
func New(ctx context.Context, cache Cache, delay time.Duration) *Warmer {
	logger := cronLogger{log.Logger.With().Str("component", "warmer").Logger()}
	return &Warmer{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cache: cache,
		delay: delay,
		ctx:   ctx,
	}
}

// Register schedules the warm run (6-field cron expression with seconds)
func (w *Warmer) Register(schedule string) error {
	if _, err := w.cron.AddFunc(schedule, func() { w.RunOnce(w.ctx) }); err != nil {
		return fmt.Errorf("register warmer %q: %w", schedule, err)
	}
	return nil
}

// Start starts the cron scheduler
func (w *Warmer) Start() {
	w.cron.Start()
	log.Info().Int("jobs", len(w.cron.Entries())).Msg("Cache warmer started")
}

// Stop stops scheduling and waits for a running warm to finish
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
	log.Info().Msg("Cache warmer stopped")
}

// RunOnce refreshes every known ticker that has gone stale
func (w *Warmer) RunOnce(ctx context.Context) Summary {
	start := time.Now()
	summary := Summary{Sources: make(map[marketdata.Source]int)}

	companies, err := w.cache.GetCompanies(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Cache warm: listing companies failed")
		summary.Failed++
		return summary
	}

	for i, c := range companies.Companies {
		if i > 0 && w.delay > 0 {
			select {
			case <-ctx.Done():
				log.Warn().Err(ctx.Err()).Int("done", i).Msg("Cache warm cancelled")
				return summary
			case <-time.After(w.delay):
			}
		}
		if ctx.Err() != nil {
			return summary
		}

		summary.Tickers++
		res, err := w.cache.GetHistorical(ctx, marketdata.HistoricalQuery{Ticker: c.Ticker})
		if err != nil {
			summary.Failed++
			log.Warn().Err(err).Str("ticker", c.Ticker).Msg("Cache warm failed")
			continue
		}
		summary.Sources[res.Source]++

		log.Debug().
			Str("ticker", c.Ticker).
			Str("source", string(res.Source)).
			Int("bars", len(res.Bars)).
			Msg("Cache warmed")
	}

	log.Info().
		Int("tickers", summary.Tickers).
		Int("refreshed", summary.Sources[marketdata.SourceRefreshed]).
		Int("failed", summary.Failed).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Cache warm completed")

	return summary
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
