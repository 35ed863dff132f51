package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
	"github.com/3-stardust-7/JarNox/internal/infra/database"
	"github.com/3-stardust-7/JarNox/internal/infra/database/postgres"
)

// Store PostgreSQL store for companies and historical_prices
type Store struct {
	pool *postgres.Pool
}

// NewStore creates a store over an open pool
func NewStore(pool *postgres.Pool) *Store {
	return &Store{pool: pool}
}

var _ market.Store = (*Store)(nil)

// =============================================================================
// Companies
// =============================================================================

// ListCompanies returns all companies ordered by id
func (s *Store) ListCompanies(ctx context.Context) ([]market.Company, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, ticker, name FROM companies ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, storeErr("query companies", err)
	}
	defer rows.Close()

	companies := make([]market.Company, 0)
	for rows.Next() {
		var c market.Company
		if err := rows.Scan(&c.ID, &c.Ticker, &c.Name); err != nil {
			return nil, storeErr("scan company", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate companies", err)
	}

	return companies, nil
}

// UpsertCompanies inserts unknown tickers in one transaction; existing rows are untouched
func (s *Store) UpsertCompanies(ctx context.Context, companies []market.Company) (int, error) {
	if len(companies) == 0 {
		return 0, nil
	}
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	query := `
		INSERT INTO companies (ticker, name)
		VALUES ($1, $2)
		ON CONFLICT (ticker) DO NOTHING
	`

	inserted := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, c := range companies {
			ticker := market.NormalizeTicker(c.Ticker)
			if ticker == "" {
				log.Warn().Msg("Skipping company with empty ticker")
				continue
			}
			name := strings.TrimSpace(c.Name)
			if name == "" {
				name = ticker
			}

			n, err := execRow(ctx, tx, query, ticker, name)
			if err != nil {
				if isRowError(err) {
					log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping company row")
					continue
				}
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("upsert companies", err)
	}

	return inserted, nil
}

// GetCompany returns market.ErrNotFound for unknown tickers
func (s *Store) GetCompany(ctx context.Context, ticker string) (*market.Company, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, ticker, name FROM companies WHERE ticker = $1`

	var c market.Company
	err := s.pool.QueryRow(ctx, query, market.NormalizeTicker(ticker)).Scan(&c.ID, &c.Ticker, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, market.NotFoundError(ticker)
		}
		return nil, storeErr("get company", err)
	}

	return &c, nil
}

// =============================================================================
// Price bars
// =============================================================================

// ListPriceBars returns bars ordered by date descending; zero bounds are open
func (s *Store) ListPriceBars(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT c.ticker, p.date, p.open_price, p.high_price, p.low_price, p.close_price, p.volume
		FROM historical_prices p
		JOIN companies c ON c.id = p.company_id
		WHERE c.ticker = $1
		  AND ($2::date IS NULL OR p.date >= $2::date)
		  AND ($3::date IS NULL OR p.date <= $3::date)
		ORDER BY p.date DESC
	`

	rows, err := s.pool.Query(ctx, query, market.NormalizeTicker(ticker), dateArg(window.Start), dateArg(window.End))
	if err != nil {
		return nil, storeErr("query prices", err)
	}
	defer rows.Close()

	bars := make([]market.PriceBar, 0)
	for rows.Next() {
		var b market.PriceBar
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, storeErr("scan price", err)
		}
		b.Date = market.Day(b.Date)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate prices", err)
	}

	return bars, nil
}

// InsertPriceBars appends bars in one transaction.
// Duplicate (company, date) rows are skipped; malformed rows are logged and skipped.
func (s *Store) InsertPriceBars(ctx context.Context, ticker string, bars []market.PriceBar) (int, error) {
	ticker = market.NormalizeTicker(ticker)
	if len(bars) == 0 {
		return 0, nil
	}
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	query := `
		INSERT INTO historical_prices
			(company_id, date, open_price, high_price, low_price, close_price, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id, date) DO NOTHING
	`

	inserted := 0
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var companyID int64
		err := tx.QueryRow(ctx, `SELECT id FROM companies WHERE ticker = $1`, ticker).Scan(&companyID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return market.NotFoundError(ticker)
			}
			return fmt.Errorf("resolve company: %w", err)
		}

		for _, b := range bars {
			if err := b.Validate(); err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping invalid price bar")
				continue
			}

			n, err := execRow(ctx, tx, query,
				companyID, market.Day(b.Date),
				b.Open, b.High, b.Low, b.Close, b.Volume,
			)
			if err != nil {
				if isRowError(err) {
					log.Warn().Err(err).
						Str("ticker", ticker).
						Str("date", b.Date.Format(market.DateLayout)).
						Msg("Skipping price row")
					continue
				}
				return err
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, market.ErrNotFound) {
			return 0, err
		}
		return 0, storeErr("insert prices", err)
	}

	return inserted, nil
}

// =============================================================================
// Diagnostics
// =============================================================================

func (s *Store) CountCompanies(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM companies`)
}

func (s *Store) CountPriceBars(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM historical_prices`)
}

// SampleTickers returns the first limit tickers by id
func (s *Store) SampleTickers(ctx context.Context, limit int) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT ticker FROM companies ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, storeErr("query sample tickers", err)
	}
	defer rows.Close()

	tickers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("scan sample tickers", err)
	}
	return tickers, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) *database.HealthStatus {
	return s.pool.Health(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// ready applies the schema if startup could not reach the server
func (s *Store) ready(ctx context.Context) error {
	if err := s.pool.EnsureSchema(ctx); err != nil {
		return storeErr("schema", err)
	}
	return nil
}

func (s *Store) count(ctx context.Context, query string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

// inTx runs fn in a transaction, rolling back on error
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// execRow runs one statement inside a savepoint so a failing row
// leaves the outer transaction usable
func execRow(ctx context.Context, tx pgx.Tx, query string, args ...any) (int, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("savepoint: %w", err)
	}

	tag, err := sp.Exec(ctx, query, args...)
	if err != nil {
		_ = sp.Rollback(ctx)
		return 0, err
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, fmt.Errorf("release savepoint: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// isRowError reports data exceptions (22xxx) and integrity violations (23xxx)
func isRowError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	class := pgErr.Code[:2]
	return class == "22" || class == "23"
}

func dateArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := market.Day(t)
	return &d
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, market.ErrStore, err)
}
