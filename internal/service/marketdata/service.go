package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
)

// Source tells where a result came from
type Source string

const (
	SourceCache     Source = "cache"     // fresh stored rows
	SourceRefreshed Source = "refreshed" // stored rows after an upstream refresh
	SourceStale     Source = "stale"     // stored rows kept after a failed refresh
	SourceUpstream  Source = "upstream"  // unpersisted upstream rows
)

// ErrInvalidRange start date after end date
var ErrInvalidRange = errors.New("start date is after end date")

// Config cache policy constants
type Config struct {
	UniverseSize      int           // companies fetched on populate
	FreshnessDays     int           // stored bars older than this are refreshed
	DefaultWindowDays int           // refresh window when no dates are given
	FallbackLimit     int           // max rows on a direct upstream fallback
	UpstreamTimeout   time.Duration // per upstream call
}

// DefaultConfig returns the policy defaults
func DefaultConfig() *Config {
	return &Config{
		UniverseSize:      10,
		FreshnessDays:     7,
		DefaultWindowDays: 30,
		FallbackLimit:     30,
		UpstreamTimeout:   15 * time.Second,
	}
}

// Service read-through cache over a Store and an Upstream
type Service struct {
	store    market.Store
	upstream market.Upstream
	cfg      *Config
	now      func() time.Time

	// concurrent refreshes of the same ticker and window share one upstream call
	refreshes singleflight.Group
}

// NewService creates the cache policy
func NewService(store market.Store, upstream market.Upstream, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		store:    store,
		upstream: upstream,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CompaniesResult companies and where they came from
type CompaniesResult struct {
	Companies []market.Company
	Source    Source
}

// PopulateResult outcome of a forced populate
type PopulateResult struct {
	Fetched  int
	Inserted int
	Total    int64
}

// HistoricalQuery optional dates are zero when not given
type HistoricalQuery struct {
	Ticker string
	Start  time.Time
	End    time.Time
}

// HistoricalResult bars ordered by date descending
type HistoricalResult struct {
	Ticker string
	Bars   []market.PriceBar
	Source Source
}

// =============================================================================
// Companies
// =============================================================================

// GetCompanies returns stored companies, populating an empty store first.
// Any store failure bypasses the store and returns the upstream universe.
func (s *Service) GetCompanies(ctx context.Context) (*CompaniesResult, error) {
	companies, storeErr := s.store.ListCompanies(ctx)
	if storeErr == nil && len(companies) > 0 {
		return &CompaniesResult{Companies: companies, Source: SourceCache}, nil
	}

	var universe []market.Company
	if storeErr == nil {
		var err error
		universe, err = s.fetchUniverse(ctx)
		if err != nil {
			return nil, market.UnavailableError("companies", err)
		}

		if _, storeErr = s.store.UpsertCompanies(ctx, universe); storeErr == nil {
			companies, storeErr = s.store.ListCompanies(ctx)
			if storeErr == nil && len(companies) > 0 {
				return &CompaniesResult{Companies: companies, Source: SourceRefreshed}, nil
			}
		}
	}

	if universe == nil {
		var err error
		universe, err = s.fetchUniverse(ctx)
		if err != nil {
			return nil, market.UnavailableError("companies", errors.Join(storeErr, err))
		}
	}

	return &CompaniesResult{Companies: universe, Source: SourceUpstream}, nil
}

// Populate fetches the universe and inserts tickers not yet stored
func (s *Service) Populate(ctx context.Context) (*PopulateResult, error) {
	universe, err := s.fetchUniverse(ctx)
	if err != nil {
		return nil, err
	}

	inserted, err := s.store.UpsertCompanies(ctx, universe)
	if err != nil {
		return nil, err
	}

	total, err := s.store.CountCompanies(ctx)
	if err != nil {
		return nil, err
	}

	return &PopulateResult{Fetched: len(universe), Inserted: inserted, Total: total}, nil
}

func (s *Service) fetchUniverse(ctx context.Context) ([]market.Company, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()

	universe, err := s.upstream.FetchCompanyUniverse(ctx, s.cfg.UniverseSize)
	if err != nil {
		return nil, err
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("empty company universe: %w", market.ErrUpstream)
	}
	return universe, nil
}

// =============================================================================
// Historical bars
// =============================================================================

// GetHistorical answers from the store while fresh, refreshes stale or missing
// bars from upstream, and degrades to stale rows or a capped direct fetch.
func (s *Service) GetHistorical(ctx context.Context, q HistoricalQuery) (*HistoricalResult, error) {
	ticker := market.NormalizeTicker(q.Ticker)
	requested := market.DateRange{Start: q.Start, End: q.End}
	today := market.Day(s.now())
	window := s.fetchWindow(requested, today)
	// a start date past today with no end date lands here too
	if window.Start.After(window.End) {
		return nil, ErrInvalidRange
	}

	if _, err := s.store.GetCompany(ctx, ticker); err != nil {
		if errors.Is(err, market.ErrNotFound) {
			return nil, err
		}
		return s.direct(ctx, ticker, window, err)
	}

	stored, err := s.store.ListPriceBars(ctx, ticker, requested)
	if err != nil {
		return s.direct(ctx, ticker, window, err)
	}

	if len(stored) > 0 && s.isFresh(stored[0].Date, requested, today) {
		return &HistoricalResult{Ticker: ticker, Bars: stored, Source: SourceCache}, nil
	}

	fetched, refreshErr := s.refresh(ctx, ticker, window)
	if refreshErr == nil {
		bars, err := s.store.ListPriceBars(ctx, ticker, requested)
		if err == nil && len(bars) > 0 {
			return &HistoricalResult{Ticker: ticker, Bars: bars, Source: SourceRefreshed}, nil
		}
		refreshErr = err
	}

	if len(stored) > 0 {
		return &HistoricalResult{Ticker: ticker, Bars: stored, Source: SourceStale}, nil
	}

	// upstream already answered; serve that instead of asking again
	if fetched != nil {
		if bars := s.capped(fetched, window); len(bars) > 0 {
			return &HistoricalResult{Ticker: ticker, Bars: bars, Source: SourceUpstream}, nil
		}
		return nil, market.UnavailableError("history "+ticker, errors.Join(refreshErr,
			fmt.Errorf("no upstream data for %s", window)))
	}

	return s.direct(ctx, ticker, window, refreshErr)
}

// isFresh compares the newest bar with today, or with the end date of a past window
func (s *Service) isFresh(latest time.Time, requested market.DateRange, today time.Time) bool {
	reference := today
	if !requested.End.IsZero() && market.Day(requested.End).Before(today) {
		reference = market.Day(requested.End)
	}
	return market.DaysBetween(latest, reference) <= s.cfg.FreshnessDays
}

// fetchWindow fills missing bounds: end defaults to today, start to end minus the default window
func (s *Service) fetchWindow(requested market.DateRange, today time.Time) market.DateRange {
	w := market.DateRange{Start: market.Day(requested.Start), End: market.Day(requested.End)}
	if requested.End.IsZero() {
		w.End = today
	}
	if requested.Start.IsZero() {
		w.Start = w.End.AddDate(0, 0, -s.cfg.DefaultWindowDays)
	}
	return w
}

// refresh fetches window and stores it. fetched is nil when the upstream call failed.
func (s *Service) refresh(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	key := ticker + "|" + window.String()

	v, err, _ := s.refreshes.Do(key, func() (interface{}, error) {
		// a cancelled leader must not fail the callers sharing this flight
		flightCtx := context.WithoutCancel(ctx)

		fetched, err := s.fetchHistory(flightCtx, ticker, window)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.InsertPriceBars(flightCtx, ticker, fetched); err != nil {
			return fetched, err
		}
		return fetched, nil
	})

	fetched, _ := v.([]market.PriceBar)
	return fetched, err
}

// direct serves unpersisted upstream bars, capped to FallbackLimit
func (s *Service) direct(ctx context.Context, ticker string, window market.DateRange, cause error) (*HistoricalResult, error) {
	fetched, err := s.fetchHistory(ctx, ticker, window)
	if err != nil {
		return nil, market.UnavailableError("history "+ticker, errors.Join(cause, err))
	}

	bars := s.capped(fetched, window)
	if len(bars) == 0 {
		return nil, market.UnavailableError("history "+ticker, errors.Join(cause,
			fmt.Errorf("no upstream data for %s", window)))
	}

	return &HistoricalResult{Ticker: ticker, Bars: bars, Source: SourceUpstream}, nil
}

func (s *Service) fetchHistory(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()

	bars, err := s.upstream.FetchHistory(ctx, ticker, window)
	if err != nil {
		return nil, err
	}
	if bars == nil {
		bars = []market.PriceBar{}
	}
	return bars, nil
}

// capped copies bars inside window, newest first, at most FallbackLimit rows
func (s *Service) capped(bars []market.PriceBar, window market.DateRange) []market.PriceBar {
	out := make([]market.PriceBar, 0, len(bars))
	for _, b := range bars {
		if window.Contains(b.Date) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > s.cfg.FallbackLimit {
		out = out[:s.cfg.FallbackLimit]
	}
	return out
}

// =============================================================================
// Diagnostics
// =============================================================================

// DBStatus counts rows and samples a few tickers
func (s *Service) DBStatus(ctx context.Context) (*market.DBStatus, error) {
	companies, err := s.store.CountCompanies(ctx)
	if err != nil {
		return nil, err
	}
	bars, err := s.store.CountPriceBars(ctx)
	if err != nil {
		return nil, err
	}
	sample, err := s.store.SampleTickers(ctx, 5)
	if err != nil {
		return nil, err
	}
	return &market.DBStatus{Companies: companies, PriceBars: bars, SampleTickers: sample}, nil
}
