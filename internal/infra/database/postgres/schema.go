package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id         BIGSERIAL PRIMARY KEY,
		ticker     VARCHAR(16) NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS historical_prices (
		id          BIGSERIAL PRIMARY KEY,
		company_id  BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
		date        DATE NOT NULL,
		open_price  DOUBLE PRECISION NOT NULL CHECK (open_price >= 0),
		high_price  DOUBLE PRECISION NOT NULL CHECK (high_price >= 0),
		low_price   DOUBLE PRECISION NOT NULL CHECK (low_price >= 0),
		close_price DOUBLE PRECISION NOT NULL CHECK (close_price >= 0),
		volume      DOUBLE PRECISION NOT NULL CHECK (volume >= 0),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (company_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_historical_prices_company_date
		ON historical_prices (company_id, date DESC)`,
}

// Migrate creates tables and indexes if they do not exist
func (p *Pool) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
