package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
)

// SymbolSource lists index constituents in rank order
type SymbolSource interface {
	FetchSymbols(ctx context.Context) ([]string, error)
}

// QuoteSource resolves names and daily history per ticker
type QuoteSource interface {
	FetchName(ctx context.Context, ticker string) (string, error)
	FetchHistory(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error)
}

// Config throttling between per-ticker lookups
type Config struct {
	NameLookupDelay  time.Duration // between successive name lookups
	RateLimitBackoff time.Duration // after a rate-limited lookup
}

// DefaultConfig returns the provider's default throttling
func DefaultConfig() Config {
	return Config{
		NameLookupDelay:  50 * time.Millisecond,
		RateLimitBackoff: time.Second,
	}
}

// Provider implements market.Upstream over a symbol list and a quote source
type Provider struct {
	symbols SymbolSource
	quotes  QuoteSource
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ market.Upstream = (*Provider)(nil)

// New creates a provider
func New(symbols SymbolSource, quotes QuoteSource, cfg Config) *Provider {
	return &Provider{
		symbols: symbols,
		quotes:  quotes,
		cfg:     cfg,
		sleep:   sleep,
	}
}

// FetchCompanyUniverse returns the first limit constituents with display names.
// A failed name lookup uses the ticker as the name. Once ctx is done the
// remaining lookups are skipped and those tickers keep their symbol as name.
func (p *Provider) FetchCompanyUniverse(ctx context.Context, limit int) ([]market.Company, error) {
	symbols, err := p.symbols.FetchSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(symbols) > limit {
		symbols = symbols[:limit]
	}

	companies := make([]market.Company, 0, len(symbols))
	for i, ticker := range symbols {
		if err := p.waitBeforeLookup(ctx, i); err != nil {
			log.Warn().Err(err).
				Int("resolved", i).
				Int("remaining", len(symbols)-i).
				Msg("Name lookups stopped, using tickers for the rest")
			return withTickerNames(companies, symbols[i:]), nil
		}

		name, err := p.quotes.FetchName(ctx, ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Name lookup failed, using ticker")
			name = ticker

			if errors.Is(err, market.ErrRateLimited) {
				log.Warn().Dur("backoff", p.cfg.RateLimitBackoff).Msg("Rate limited, backing off")
				if err := p.sleep(ctx, p.cfg.RateLimitBackoff); err != nil {
					companies = append(companies, market.Company{Ticker: ticker, Name: name})
					log.Warn().Err(err).Int("remaining", len(symbols)-i-1).Msg("Name lookups stopped, using tickers for the rest")
					return withTickerNames(companies, symbols[i+1:]), nil
				}
			}
		}

		if name == "" {
			name = ticker
		}

		companies = append(companies, market.Company{Ticker: ticker, Name: name})
	}

	return companies, nil
}

// waitBeforeLookup throttles every lookup after the first
func (p *Provider) waitBeforeLookup(ctx context.Context, i int) error {
	if i == 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, p.cfg.NameLookupDelay)
}

func withTickerNames(companies []market.Company, tickers []string) []market.Company {
	for _, t := range tickers {
		companies = append(companies, market.Company{Ticker: t, Name: t})
	}
	return companies
}

// FetchHistory delegates to the quote source
func (p *Provider) FetchHistory(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	return p.quotes.FetchHistory(ctx, ticker, window)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
