package market

import "context"

// Store persists companies and their daily bars.
// Implementations wrap failures in ErrStore unless noted otherwise.
type Store interface {
	// ListCompanies returns all companies in insertion order
	ListCompanies(ctx context.Context) ([]Company, error)

	// UpsertCompanies inserts tickers not already present and never overwrites.
	// Returns the number of new rows.
	UpsertCompanies(ctx context.Context, companies []Company) (int, error)

	// GetCompany returns ErrNotFound when the ticker is unknown
	GetCompany(ctx context.Context, ticker string) (*Company, error)

	// ListPriceBars returns bars ordered by date descending.
	// A zero DateRange returns every stored bar.
	ListPriceBars(ctx context.Context, ticker string, window DateRange) ([]PriceBar, error)

	// InsertPriceBars appends bars in one transaction, silently skipping
	// duplicate (company, date) rows and logging malformed rows.
	// Returns ErrNotFound when the ticker is unknown.
	InsertPriceBars(ctx context.Context, ticker string, bars []PriceBar) (int, error)

	CountCompanies(ctx context.Context) (int64, error)
	CountPriceBars(ctx context.Context) (int64, error)
	SampleTickers(ctx context.Context, limit int) ([]string, error)

	Ping(ctx context.Context) error
	Close()
}

// Upstream is the external market-data provider
type Upstream interface {
	// FetchCompanyUniverse returns the first limit constituents with display names.
	// A failed name lookup falls back to the ticker.
	FetchCompanyUniverse(ctx context.Context, limit int) ([]Company, error)

	// FetchHistory returns daily bars inside window, date descending.
	// An empty window is an empty slice, not an error.
	FetchHistory(ctx context.Context, ticker string, window DateRange) ([]PriceBar, error)
}
