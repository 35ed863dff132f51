package marketdata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
	"github.com/3-stardust-7/JarNox/internal/infra/external/upstream"
)

var today = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var universe = []market.Company{
	{Ticker: "AAPL", Name: "Apple Inc."},
	{Ticker: "MSFT", Name: "Microsoft Corporation"},
	{Ticker: "GOOGL", Name: "Alphabet Inc."},
}

func newTestService(store *fakeStore, up *fakeUpstream) *Service {
	svc := NewService(store, up, DefaultConfig())
	svc.now = func() time.Time { return today.Add(15 * time.Hour) }
	return svc
}

// withCompanies seeds the store with the universe
func withCompanies(store *fakeStore) *fakeStore {
	_, _ = store.UpsertCompanies(context.Background(), universe)
	store.calls = make(map[string]int)
	return store
}

// =============================================================================
// GetCompanies
// =============================================================================

func TestGetCompanies_CacheHit(t *testing.T) {
	store := withCompanies(newFakeStore())
	up := &fakeUpstream{}

	res, err := newTestService(store, up).GetCompanies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceCache, res.Source)
	assert.Len(t, res.Companies, 3)
	assert.Zero(t, up.universeCalls)
}

func TestGetCompanies_EmptyStorePopulates(t *testing.T) {
	store := newFakeStore()
	up := &fakeUpstream{universe: universe}
	svc := newTestService(store, up)

	res, err := svc.GetCompanies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceRefreshed, res.Source)
	assert.Len(t, res.Companies, 3)
	assert.Equal(t, 1, up.universeCalls)

	res, err = svc.GetCompanies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, 1, up.universeCalls)
}

func TestGetCompanies_UniverseSizeLimit(t *testing.T) {
	store := newFakeStore()
	up := &fakeUpstream{universe: universe}
	svc := newTestService(store, up)
	svc.cfg.UniverseSize = 2

	res, err := svc.GetCompanies(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Companies, 2)
}

func TestGetCompanies_StoreUnreachable(t *testing.T) {
	store := newFakeStore()
	store.errs["ListCompanies"] = fmt.Errorf("dial: %w", market.ErrStore)
	up := &fakeUpstream{universe: universe}

	res, err := newTestService(store, up).GetCompanies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceUpstream, res.Source)
	assert.Equal(t, universe, res.Companies)
	assert.Equal(t, 1, up.universeCalls)
}

func TestGetCompanies_UpsertFailsReusesUniverse(t *testing.T) {
	store := newFakeStore()
	store.errs["UpsertCompanies"] = fmt.Errorf("tx: %w", market.ErrStore)
	up := &fakeUpstream{universe: universe}

	res, err := newTestService(store, up).GetCompanies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceUpstream, res.Source)
	assert.Len(t, res.Companies, 3)
	assert.Equal(t, 1, up.universeCalls)
}

func TestGetCompanies_Exhausted(t *testing.T) {
	t.Run("store down and upstream down", func(t *testing.T) {
		store := newFakeStore()
		store.errs["ListCompanies"] = market.ErrStore
		up := &fakeUpstream{universeErr: market.ErrUpstream}

		_, err := newTestService(store, up).GetCompanies(context.Background())
		assert.ErrorIs(t, err, market.ErrUnavailable)
		assert.ErrorIs(t, err, market.ErrStore)
		assert.ErrorIs(t, err, market.ErrUpstream)
	})

	t.Run("empty store and upstream down", func(t *testing.T) {
		up := &fakeUpstream{universeErr: market.ErrUpstream}

		_, err := newTestService(newFakeStore(), up).GetCompanies(context.Background())
		assert.ErrorIs(t, err, market.ErrUnavailable)
	})

	t.Run("empty universe", func(t *testing.T) {
		_, err := newTestService(newFakeStore(), &fakeUpstream{}).GetCompanies(context.Background())
		assert.ErrorIs(t, err, market.ErrUnavailable)
	})
}

// slowNames resolves a fixed set of names and hangs on the rest until ctx is done
type slowNames struct {
	names map[string]string
}

func (q slowNames) FetchSymbols(ctx context.Context) ([]string, error) {
	return []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA"}, nil
}

func (q slowNames) FetchName(ctx context.Context, ticker string) (string, error) {
	if name, ok := q.names[ticker]; ok {
		return name, nil
	}
	<-ctx.Done()
	return "", fmt.Errorf("chart %s: %w: %w", ticker, market.ErrUpstream, ctx.Err())
}

func (q slowNames) FetchHistory(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	return nil, nil
}

func TestGetCompanies_UniverseDeadlineMidLookup(t *testing.T) {
	src := slowNames{names: map[string]string{"AAPL": "Apple Inc.", "MSFT": "Microsoft Corporation"}}
	cfg := DefaultConfig()
	cfg.UpstreamTimeout = 50 * time.Millisecond

	store := newFakeStore()
	svc := NewService(store, upstream.New(src, src, upstream.Config{NameLookupDelay: time.Millisecond}), cfg)

	res, err := svc.GetCompanies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceRefreshed, res.Source)
	require.Len(t, res.Companies, 5)
	assert.Equal(t, "Apple Inc.", res.Companies[0].Name)
	assert.Equal(t, "Microsoft Corporation", res.Companies[1].Name)
	for _, c := range res.Companies[2:] {
		assert.Equal(t, c.Ticker, c.Name)
	}
}

func TestPopulate_NoDuplicates(t *testing.T) {
	store := newFakeStore()
	up := &fakeUpstream{universe: universe}
	svc := newTestService(store, up)

	first, err := svc.Populate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PopulateResult{Fetched: 3, Inserted: 3, Total: 3}, first)

	second, err := svc.Populate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PopulateResult{Fetched: 3, Inserted: 0, Total: 3}, second)

	res, err := svc.GetCompanies(context.Background())
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, c := range res.Companies {
		seen[c.Ticker]++
	}
	for _, c := range universe {
		assert.Equal(t, 1, seen[c.Ticker], c.Ticker)
	}
}

func TestPopulate_Errors(t *testing.T) {
	t.Run("upstream", func(t *testing.T) {
		_, err := newTestService(newFakeStore(), &fakeUpstream{universeErr: market.ErrUpstream}).Populate(context.Background())
		assert.ErrorIs(t, err, market.ErrUpstream)
	})

	t.Run("store", func(t *testing.T) {
		store := newFakeStore()
		store.errs["UpsertCompanies"] = market.ErrStore
		_, err := newTestService(store, &fakeUpstream{universe: universe}).Populate(context.Background())
		assert.ErrorIs(t, err, market.ErrStore)
	})
}

// =============================================================================
// GetHistorical
// =============================================================================

func TestGetHistorical_FreshIsPureCacheHit(t *testing.T) {
	store := withCompanies(newFakeStore())
	_, _ = store.InsertPriceBars(context.Background(), "AAPL", dailyBars("AAPL", today.AddDate(0, 0, -5), today))
	up := &fakeUpstream{}

	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "aapl"})
	require.NoError(t, err)

	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "AAPL", res.Ticker)
	assert.Len(t, res.Bars, 6)
	assert.Equal(t, today, res.Bars[0].Date)
	assert.Zero(t, up.historyCount())
}

func TestGetHistorical_FreshnessBoundary(t *testing.T) {
	tests := []struct {
		name        string
		latest      time.Time
		wantSource  Source
		wantFetches int
	}{
		{"seven days old is fresh", today.AddDate(0, 0, -7), SourceCache, 0},
		{"eight days old refreshes once", today.AddDate(0, 0, -8), SourceRefreshed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := withCompanies(newFakeStore())
			_, _ = store.InsertPriceBars(context.Background(), "AAPL", dailyBars("AAPL", tt.latest.AddDate(0, 0, -3), tt.latest))
			up := &fakeUpstream{history: map[string][]market.PriceBar{
				"AAPL": dailyBars("AAPL", today.AddDate(0, 0, -60), today),
			}}

			res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
			require.NoError(t, err)

			assert.Equal(t, tt.wantSource, res.Source)
			assert.Equal(t, tt.wantFetches, up.historyCount())
		})
	}
}

func TestGetHistorical_DefaultWindow(t *testing.T) {
	store := withCompanies(newFakeStore())
	up := &fakeUpstream{history: map[string][]market.PriceBar{
		"MSFT": dailyBars("MSFT", today.AddDate(0, 0, -90), today),
	}}

	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "MSFT"})
	require.NoError(t, err)

	require.Len(t, up.windows, 1)
	assert.Equal(t, market.DateRange{Start: today.AddDate(0, 0, -30), End: today}, up.windows[0])
	assert.Equal(t, SourceRefreshed, res.Source)
	assert.Len(t, res.Bars, 31)
	assert.Equal(t, 31, store.storedBars("MSFT"))
}

func TestGetHistorical_UnknownTicker(t *testing.T) {
	store := withCompanies(newFakeStore())
	up := &fakeUpstream{}

	_, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "ZZZZ"})
	assert.ErrorIs(t, err, market.ErrNotFound)
	assert.Zero(t, up.historyCount())
	assert.Zero(t, store.count("ListPriceBars"))
}

func TestGetHistorical_StoreUnreachable(t *testing.T) {
	store := newFakeStore()
	store.errs["GetCompany"] = fmt.Errorf("dial tcp: %w", market.ErrStore)
	up := &fakeUpstream{history: map[string][]market.PriceBar{
		"AAPL": dailyBars("AAPL", day(2023, 10, 1), day(2023, 12, 31)),
	}}

	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{
		Ticker: "AAPL",
		Start:  day(2023, 10, 1),
		End:    day(2023, 12, 31),
	})
	require.NoError(t, err)

	assert.Equal(t, SourceUpstream, res.Source)
	require.Len(t, res.Bars, 30)
	assert.Equal(t, day(2023, 12, 31), res.Bars[0].Date)
	assert.Equal(t, day(2023, 12, 2), res.Bars[29].Date)
	assert.Zero(t, store.count("InsertPriceBars"))
}

func TestGetHistorical_ExplicitWindowEmptyStore(t *testing.T) {
	store := withCompanies(newFakeStore())
	up := &fakeUpstream{history: map[string][]market.PriceBar{
		"AAPL": dailyBars("AAPL", day(2023, 12, 1), day(2024, 2, 29)),
	}}

	start, end := day(2024, 1, 1), day(2024, 1, 31)
	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL", Start: start, End: end})
	require.NoError(t, err)

	assert.Equal(t, SourceRefreshed, res.Source)
	require.Len(t, res.Bars, 31)
	assert.Equal(t, end, res.Bars[0].Date)
	assert.Equal(t, start, res.Bars[30].Date)
	for i := 1; i < len(res.Bars); i++ {
		assert.True(t, res.Bars[i-1].Date.After(res.Bars[i].Date))
	}
	assert.Equal(t, market.DateRange{Start: start, End: end}, up.windows[0])
	assert.Equal(t, 31, store.storedBars("AAPL"))
}

func TestGetHistorical_PastWindowAlreadyStored(t *testing.T) {
	store := withCompanies(newFakeStore())
	_, _ = store.InsertPriceBars(context.Background(), "AAPL", dailyBars("AAPL", day(2024, 1, 1), day(2024, 1, 29)))
	up := &fakeUpstream{}

	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{
		Ticker: "AAPL",
		Start:  day(2024, 1, 1),
		End:    day(2024, 1, 31),
	})
	require.NoError(t, err)

	assert.Equal(t, SourceCache, res.Source)
	assert.Zero(t, up.historyCount())
}

func TestGetHistorical_RefreshFailsServesStale(t *testing.T) {
	store := withCompanies(newFakeStore())
	stale := dailyBars("AAPL", today.AddDate(0, 0, -40), today.AddDate(0, 0, -20))
	_, _ = store.InsertPriceBars(context.Background(), "AAPL", stale)
	up := &fakeUpstream{historyErr: market.ErrUpstream}

	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
	require.NoError(t, err)

	assert.Equal(t, SourceStale, res.Source)
	assert.Len(t, res.Bars, len(stale))
	assert.Equal(t, today.AddDate(0, 0, -20), res.Bars[0].Date)
	assert.Equal(t, 1, up.historyCount())
}

func TestGetHistorical_InsertFailsServesFetched(t *testing.T) {
	store := withCompanies(newFakeStore())
	store.errs["InsertPriceBars"] = fmt.Errorf("tx: %w", market.ErrStore)
	up := &fakeUpstream{history: map[string][]market.PriceBar{
		"AAPL": dailyBars("AAPL", today.AddDate(0, 0, -60), today),
	}}

	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
	require.NoError(t, err)

	assert.Equal(t, SourceUpstream, res.Source)
	assert.Len(t, res.Bars, 30)
	assert.Equal(t, today, res.Bars[0].Date)
	assert.Equal(t, 1, up.historyCount())
}

func TestGetHistorical_Exhausted(t *testing.T) {
	t.Run("refresh and direct both fail", func(t *testing.T) {
		store := withCompanies(newFakeStore())
		up := &fakeUpstream{historyErr: fmt.Errorf("timeout: %w", market.ErrUpstream)}

		_, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
		assert.ErrorIs(t, err, market.ErrUnavailable)
		assert.ErrorIs(t, err, market.ErrUpstream)
		assert.Equal(t, 2, up.historyCount())
	})

	t.Run("upstream has no data", func(t *testing.T) {
		store := withCompanies(newFakeStore())
		up := &fakeUpstream{}

		_, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
		assert.ErrorIs(t, err, market.ErrUnavailable)
		assert.Equal(t, 1, up.historyCount())
	})

	t.Run("store down and upstream down", func(t *testing.T) {
		store := newFakeStore()
		store.errs["GetCompany"] = market.ErrStore
		up := &fakeUpstream{historyErr: market.ErrUpstream}

		_, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
		assert.ErrorIs(t, err, market.ErrUnavailable)
		assert.ErrorIs(t, err, market.ErrStore)
	})
}

func TestGetHistorical_ListFailsFallsBackDirect(t *testing.T) {
	store := withCompanies(newFakeStore())
	store.errs["ListPriceBars"] = market.ErrStore
	up := &fakeUpstream{history: map[string][]market.PriceBar{
		"AAPL": dailyBars("AAPL", today.AddDate(0, 0, -10), today),
	}}

	res, err := newTestService(store, up).GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, res.Source)
	assert.Len(t, res.Bars, 11)
}

func TestGetHistorical_InvalidRange(t *testing.T) {
	tests := []struct {
		name  string
		query HistoricalQuery
	}{
		{"start after end", HistoricalQuery{Ticker: "AAPL", Start: day(2024, 2, 1), End: day(2024, 1, 1)}},
		{"start after today without end", HistoricalQuery{Ticker: "AAPL", Start: today.AddDate(0, 0, 3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{}
			_, err := newTestService(withCompanies(newFakeStore()), up).GetHistorical(context.Background(), tt.query)
			assert.ErrorIs(t, err, ErrInvalidRange)
			assert.Zero(t, up.historyCount())
		})
	}
}

func TestGetHistorical_ConcurrentRefreshCoalesces(t *testing.T) {
	store := withCompanies(newFakeStore())
	up := &fakeUpstream{
		history: map[string][]market.PriceBar{"AAPL": dailyBars("AAPL", today.AddDate(0, 0, -30), today)},
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	svc := newTestService(store, up)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*HistoricalResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.GetHistorical(context.Background(), HistoricalQuery{Ticker: "AAPL"})
		}(i)
	}

	<-up.entered
	time.Sleep(100 * time.Millisecond) // let the other callers join the flight
	close(up.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i].Bars, 31)
	}
	assert.Equal(t, 1, up.historyCount())
	assert.Equal(t, 31, store.storedBars("AAPL"))
}

// =============================================================================
// DBStatus
// =============================================================================

func TestDBStatus(t *testing.T) {
	store := withCompanies(newFakeStore())
	_, _ = store.InsertPriceBars(context.Background(), "AAPL", dailyBars("AAPL", day(2024, 1, 1), day(2024, 1, 10)))

	status, err := newTestService(store, &fakeUpstream{}).DBStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), status.Companies)
	assert.Equal(t, int64(10), status.PriceBars)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL"}, status.SampleTickers)

	store.errs["CountPriceBars"] = market.ErrStore
	_, err = newTestService(store, &fakeUpstream{}).DBStatus(context.Background())
	assert.ErrorIs(t, err, market.ErrStore)
}
