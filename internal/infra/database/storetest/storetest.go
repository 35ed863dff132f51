// Package storetest holds behaviour tests shared by every market.Store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
)

// Factory returns an empty store; cleanup is the factory's responsibility
type Factory func(t *testing.T) market.Store

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func bar(date time.Time, close float64) market.PriceBar {
	return market.PriceBar{Date: date, Open: close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 1000}
}

// Run executes the shared store suite
func Run(t *testing.T, newStore Factory) {
	t.Run("empty store", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		companies, err := s.ListCompanies(ctx)
		require.NoError(t, err)
		assert.Empty(t, companies)

		n, err := s.CountCompanies(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.CountPriceBars(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = s.GetCompany(ctx, "AAPL")
		assert.ErrorIs(t, err, market.ErrNotFound)

		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("upsert companies never duplicates or overwrites", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		n, err := s.UpsertCompanies(ctx, []market.Company{
			{Ticker: "AAPL", Name: "Apple Inc."},
			{Ticker: "msft", Name: "Microsoft Corporation"},
			{Ticker: "", Name: "skipped"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.UpsertCompanies(ctx, []market.Company{
			{Ticker: "AAPL", Name: "Renamed"},
			{Ticker: "GOOGL", Name: ""},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		companies, err := s.ListCompanies(ctx)
		require.NoError(t, err)
		require.Len(t, companies, 3)
		assert.Equal(t, "AAPL", companies[0].Ticker)
		assert.Equal(t, "Apple Inc.", companies[0].Name)
		assert.Equal(t, "MSFT", companies[1].Ticker)
		assert.Equal(t, "GOOGL", companies[2].Name)

		c, err := s.GetCompany(ctx, "msft")
		require.NoError(t, err)
		assert.Equal(t, "Microsoft Corporation", c.Name)

		sample, err := s.SampleTickers(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"AAPL", "MSFT"}, sample)
	})

	t.Run("insert price bars is idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.UpsertCompanies(ctx, []market.Company{{Ticker: "AAPL", Name: "Apple Inc."}})
		require.NoError(t, err)

		bars := []market.PriceBar{
			bar(day(2024, 1, 2), 185),
			bar(day(2024, 1, 3), 184),
			bar(day(2024, 1, 4), 181),
		}

		n, err := s.InsertPriceBars(ctx, "AAPL", bars)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.InsertPriceBars(ctx, "AAPL", bars[1:])
		require.NoError(t, err)
		assert.Zero(t, n)

		total, err := s.CountPriceBars(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})

	t.Run("malformed rows are skipped and the rest commits", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.UpsertCompanies(ctx, []market.Company{{Ticker: "AAPL", Name: "Apple Inc."}})
		require.NoError(t, err)

		bad := bar(day(2024, 1, 3), 184)
		bad.Volume = -5

		n, err := s.InsertPriceBars(ctx, "AAPL", []market.PriceBar{
			bar(day(2024, 1, 2), 185),
			bad,
			{Open: 1, High: 1, Low: 1, Close: 1},
			bar(day(2024, 1, 4), 181),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		stored, err := s.ListPriceBars(ctx, "AAPL", market.DateRange{})
		require.NoError(t, err)
		assert.Len(t, stored, 2)
	})

	t.Run("insert for unknown ticker", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.InsertPriceBars(ctx, "ZZZZ", []market.PriceBar{bar(day(2024, 1, 2), 1)})
		assert.ErrorIs(t, err, market.ErrNotFound)
	})

	t.Run("list price bars orders descending and honours the window", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.UpsertCompanies(ctx, []market.Company{
			{Ticker: "AAPL", Name: "Apple Inc."},
			{Ticker: "MSFT", Name: "Microsoft Corporation"},
		})
		require.NoError(t, err)

		_, err = s.InsertPriceBars(ctx, "AAPL", []market.PriceBar{
			bar(day(2023, 12, 29), 192),
			bar(day(2024, 1, 2), 185),
			bar(day(2024, 1, 31), 184),
			bar(day(2024, 2, 1), 186),
		})
		require.NoError(t, err)
		_, err = s.InsertPriceBars(ctx, "MSFT", []market.PriceBar{bar(day(2024, 1, 2), 370)})
		require.NoError(t, err)

		all, err := s.ListPriceBars(ctx, "AAPL", market.DateRange{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, day(2024, 2, 1), all[0].Date)
		assert.Equal(t, day(2023, 12, 29), all[3].Date)
		assert.Equal(t, "AAPL", all[0].Ticker)
		assert.Equal(t, 186.0, all[0].Close)

		january, err := s.ListPriceBars(ctx, "AAPL", market.DateRange{Start: day(2024, 1, 1), End: day(2024, 1, 31)})
		require.NoError(t, err)
		require.Len(t, january, 2)
		assert.Equal(t, day(2024, 1, 31), january[0].Date)
		assert.Equal(t, day(2024, 1, 2), january[1].Date)

		since, err := s.ListPriceBars(ctx, "AAPL", market.DateRange{Start: day(2024, 1, 31)})
		require.NoError(t, err)
		assert.Len(t, since, 2)

		none, err := s.ListPriceBars(ctx, "GOOGL", market.DateRange{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
