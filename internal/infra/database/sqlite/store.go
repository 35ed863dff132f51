package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/3-stardust-7/JarNox/internal/domain/market"
	"github.com/3-stardust-7/JarNox/internal/infra/database"
)

// Store persists companies and price bars in an embedded SQLite file.
// A single connection serialises writers.
type Store struct {
	db   *sql.DB
	path string
}

var _ market.Store = (*Store)(nil)

// Open opens (or creates) the database file and runs migrations
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite store opened")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker     TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS historical_prices (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			company_id  INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			date        TEXT NOT NULL,
			open_price  REAL NOT NULL CHECK (open_price >= 0),
			high_price  REAL NOT NULL CHECK (high_price >= 0),
			low_price   REAL NOT NULL CHECK (low_price >= 0),
			close_price REAL NOT NULL CHECK (close_price >= 0),
			volume      REAL NOT NULL CHECK (volume >= 0),
			created_at  INTEGER NOT NULL,
			UNIQUE (company_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_historical_prices_company_date ON historical_prices(company_id, date DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ListCompanies returns all companies ordered by id
func (s *Store) ListCompanies(ctx context.Context) ([]market.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ticker, name FROM companies ORDER BY id`)
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

	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().Unix()
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

			res, err := tx.ExecContext(ctx,
				`INSERT INTO companies (ticker, name, created_at) VALUES (?, ?, ?) ON CONFLICT(ticker) DO NOTHING`,
				ticker, name, now)
			if err != nil {
				if isRowError(err) {
					log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping company row")
					continue
				}
				return err
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
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
	var c market.Company
	err := s.db.QueryRowContext(ctx, `SELECT id, ticker, name FROM companies WHERE ticker = ?`,
		market.NormalizeTicker(ticker)).Scan(&c.ID, &c.Ticker, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, market.NotFoundError(ticker)
		}
		return nil, storeErr("get company", err)
	}
	return &c, nil
}

// ListPriceBars returns bars ordered by date descending; zero bounds are open
func (s *Store) ListPriceBars(ctx context.Context, ticker string, window market.DateRange) ([]market.PriceBar, error) {
	query := `
		SELECT c.ticker, p.date, p.open_price, p.high_price, p.low_price, p.close_price, p.volume
		FROM historical_prices p
		JOIN companies c ON c.id = p.company_id
		WHERE c.ticker = ?`
	args := []any{market.NormalizeTicker(ticker)}

	if !window.Start.IsZero() {
		query += ` AND p.date >= ?`
		args = append(args, window.Start.Format(market.DateLayout))
	}
	if !window.End.IsZero() {
		query += ` AND p.date <= ?`
		args = append(args, window.End.Format(market.DateLayout))
	}
	query += ` ORDER BY p.date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query prices", err)
	}
	defer rows.Close()

	bars := make([]market.PriceBar, 0)
	for rows.Next() {
		var (
			b    market.PriceBar
			date string
		)
		if err := rows.Scan(&b.Ticker, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, storeErr("scan price", err)
		}
		if b.Date, err = market.ParseDate(date); err != nil {
			return nil, storeErr("parse price date", err)
		}
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

	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var companyID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM companies WHERE ticker = ?`, ticker).Scan(&companyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return market.NotFoundError(ticker)
			}
			return fmt.Errorf("resolve company: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO historical_prices
				(company_id, date, open_price, high_price, low_price, close_price, volume, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(company_id, date) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, b := range bars {
			if err := b.Validate(); err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping invalid price bar")
				continue
			}

			res, err := stmt.ExecContext(ctx, companyID, b.Date.Format(market.DateLayout),
				b.Open, b.High, b.Low, b.Close, b.Volume, now)
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
			n, _ := res.RowsAffected()
			inserted += int(n)
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

func (s *Store) CountCompanies(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM companies`)
}

func (s *Store) CountPriceBars(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM historical_prices`)
}

// SampleTickers returns the first limit tickers by id
func (s *Store) SampleTickers(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker FROM companies ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("query sample tickers", err)
	}
	defer rows.Close()

	tickers := make([]string, 0, limit)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, storeErr("scan sample tickers", err)
		}
		tickers = append(tickers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate sample tickers", err)
	}
	return tickers, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Health reports file path and connection stats
func (s *Store) Health(ctx context.Context) *database.HealthStatus {
	start := time.Now()
	status := &database.HealthStatus{
		Status:    database.StatusHealthy,
		Driver:    "sqlite",
		CheckedAt: start,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := s.db.PingContext(pingCtx); err != nil {
		status.Status = database.StatusUnhealthy
		status.Error = fmt.Sprintf("ping failed: %v", err)
	}

	stats := s.db.Stats()
	status.ResponseTime = time.Since(start).String()
	status.Details = map[string]interface{}{
		"path":         s.path,
		"open_conns":   stats.OpenConnections,
		"in_use_conns": stats.InUse,
		"wait_count":   stats.WaitCount,
	}
	return status
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close SQLite store")
	}
}

func (s *Store) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

// inTx runs fn in a transaction, rolling back on error.
// fn must use tx only; the single pooled connection is held by it.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// isRowError reports constraint failures; SQLite rolls back only the statement
func isRowError(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, market.ErrStore, err)
}
