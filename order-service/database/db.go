package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sdbondi/bn-api/order-service/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(cfg config.DBConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := CreateSchema(ctx, db); err != nil {
		return nil, err
	}

	logger.Info("Database connection established", zap.String("database", cfg.Name))
	return db, nil
}

// CreateSchema bootstraps the tables used by the checkout engine. Every
// statement is idempotent.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		first_name TEXT,
		last_name TEXT,
		email TEXT UNIQUE,
		phone TEXT,
		is_stub BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS fee_schedule_ranges (
		id UUID PRIMARY KEY,
		fee_schedule_id UUID NOT NULL,
		min_price BIGINT NOT NULL,
		fee_in_cents BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		fee_schedule_id UUID
	)`,
	`CREATE TABLE IF NOT EXISTS user_scopes (
		user_id UUID NOT NULL REFERENCES users (id),
		organization_id UUID NOT NULL REFERENCES organizations (id),
		scope TEXT NOT NULL,
		PRIMARY KEY (user_id, organization_id, scope)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		organization_id UUID NOT NULL REFERENCES organizations (id),
		name TEXT NOT NULL,
		status VARCHAR(50) NOT NULL DEFAULT 'draft'
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_types (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL REFERENCES events (id),
		name TEXT NOT NULL,
		price_in_cents BIGINT NOT NULL,
		box_office_price_in_cents BIGINT NOT NULL,
		sales_start TIMESTAMP,
		sales_end TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS holds (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		redemption_code TEXT NOT NULL UNIQUE,
		ticket_type_id UUID NOT NULL REFERENCES ticket_types (id),
		discount_in_cents BIGINT NOT NULL DEFAULT 0,
		max_per_order BIGINT,
		end_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		id UUID PRIMARY KEY,
		organization_id UUID REFERENCES organizations (id),
		user_id UUID REFERENCES users (id),
		name TEXT NOT NULL,
		secret_key TEXT NOT NULL,
		public_key TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id UUID PRIMARY KEY,
		ticket_type_id UUID NOT NULL REFERENCES ticket_types (id),
		blockchain_asset_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users (id),
		on_behalf_of_user_id UUID REFERENCES users (id),
		status VARCHAR(50) NOT NULL DEFAULT 'draft',
		version BIGINT NOT NULL DEFAULT 0,
		note TEXT,
		checkout_url TEXT,
		checkout_url_expires TIMESTAMP,
		paid_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS index_orders_one_draft_per_user ON orders (user_id) WHERE status = 'draft'`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id UUID PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders (id),
		ticket_type_id UUID NOT NULL REFERENCES ticket_types (id),
		event_id UUID NOT NULL REFERENCES events (id),
		quantity BIGINT NOT NULL,
		unit_price_in_cents BIGINT NOT NULL,
		fee_in_cents BIGINT NOT NULL DEFAULT 0,
		hold_id UUID REFERENCES holds (id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_instances (
		id UUID PRIMARY KEY,
		asset_id UUID NOT NULL REFERENCES assets (id),
		token_id BIGINT NOT NULL,
		wallet_id UUID NOT NULL REFERENCES wallets (id),
		order_item_id UUID REFERENCES order_items (id),
		reserved_until TIMESTAMP,
		status VARCHAR(50) NOT NULL DEFAULT 'available',
		UNIQUE (asset_id, token_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders (id),
		created_by UUID NOT NULL REFERENCES users (id),
		status VARCHAR(50) NOT NULL,
		payment_method VARCHAR(50) NOT NULL,
		provider TEXT NOT NULL,
		external_reference TEXT,
		amount BIGINT NOT NULL,
		provider_data JSONB,
		url_nonce TEXT,
		refund_data JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS index_payments_provider_reference ON payments (provider, external_reference)`,
	`CREATE TABLE IF NOT EXISTS payment_methods (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users (id),
		name TEXT NOT NULL,
		provider TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		provider_data JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, name)
	)`,
}
