package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
)

// fakeStore in-memory market.Store with injectable per-method errors
type fakeStore struct {
	mu        sync.Mutex
	companies []market.Company
	bars      map[string]map[time.Time]market.PriceBar
	errs      map[string]error
	calls     map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bars:  make(map[string]map[time.Time]market.PriceBar),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeStore) enter(method string) error {
	f.mu.Lock()
	f.calls[method]++
	return f.errs[method]
}

func (f *fakeStore) ListCompanies(ctx context.Context) ([]market.Company, error) {
	err := f.enter("ListCompanies")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return append([]market.Company(nil), f.companies...), nil
}

func (f *fakeStore) UpsertCompanies(ctx context.Context, companies []market.Company) (int, error) {
	err := f.enter("UpsertCompanies")
	defer f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, c := range companies {
		if f.indexOf(c.Ticker) >= 0 {
			continue
		}
		c.ID = int64(len(f.companies) + 1)
		f.companies = append(f.companies, c)
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) indexOf(ticker string) int {
	for i, c := range f.companies {
		if c.Ticker == ticker {
			return i
		}
	}
	return -1
}

func (f *fakeStore) GetCompany(ctx context.Context, ticker string) (*market.Company, error) {
	err := f.enter("GetCompany")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	i := f.indexOf(ticker)
	if i < 0 {
		return nil, market.NotFoundError(ticker)
	}
	c := f.companies[i]
	return &c, nil
}

func (f *fakeStore) ListPriceBars(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	err := f.enter("ListPriceBars")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]market.PriceBar, 0)
	for _, b := range f.bars[ticker] {
		if window.Contains(b.Date) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (f *fakeStore) InsertPriceBars(ctx context.Context, ticker string, bars []market.PriceBar) (int, error) {
	err := f.enter("InsertPriceBars")
	defer f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if f.indexOf(ticker) < 0 {
		return 0, market.NotFoundError(ticker)
	}
	if f.bars[ticker] == nil {
		f.bars[ticker] = make(map[time.Time]market.PriceBar)
	}
	inserted := 0
	for _, b := range bars {
		if _, ok := f.bars[ticker][b.Date]; ok {
			continue
		}
		f.bars[ticker][b.Date] = b
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) CountCompanies(ctx context.Context) (int64, error) {
	err := f.enter("CountCompanies")
	defer f.mu.Unlock()
	return int64(len(f.companies)), err
}

func (f *fakeStore) CountPriceBars(ctx context.Context) (int64, error) {
	err := f.enter("CountPriceBars")
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.bars {
		n += len(m)
	}
	return int64(n), err
}

func (f *fakeStore) SampleTickers(ctx context.Context, limit int) ([]string, error) {
	err := f.enter("SampleTickers")
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, limit)
	for i := 0; i < len(f.companies) && i < limit; i++ {
		out = append(out, f.companies[i].Ticker)
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	err := f.enter("Ping")
	defer f.mu.Unlock()
	return err
}

func (f *fakeStore) Close() {}

func (f *fakeStore) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeStore) storedBars(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bars[ticker])
}

// fakeUpstream serves a fixed universe and per-ticker history
type fakeUpstream struct {
	mu            sync.Mutex
	universe      []market.Company
	universeErr   error
	history       map[string][]market.PriceBar
	historyErr    error
	universeCalls int
	historyCalls  int
	windows       []market.DateRange

	// when set, FetchHistory signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (f *fakeUpstream) FetchCompanyUniverse(ctx context.Context, limit int) ([]market.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.universeCalls++
	if f.universeErr != nil {
		return nil, f.universeErr
	}
	out := f.universe
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]market.Company(nil), out...), nil
}

func (f *fakeUpstream) FetchHistory(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	f.mu.Lock()
	f.historyCalls++
	f.windows = append(f.windows, window)
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]market.PriceBar, 0)
	for _, b := range f.history[ticker] {
		if window.Contains(b.Date) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (f *fakeUpstream) historyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

// dailyBars one bar per calendar day from..to inclusive
func dailyBars(ticker string, from, to time.Time) []market.PriceBar {
	var bars []market.PriceBar
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		price := float64(100 + d.YearDay())
		bars = append(bars, market.PriceBar{
			Ticker: ticker,
			Date:   d,
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price + 0.5,
			Volume: 1_000_000,
		})
	}
	return bars
}
