package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Migration struct {
	Version int
	Up      string
}

// Migrations are applied in order; each runs in its own transaction.
var Migrations = []Migration{
	{Version: 1, Up: migrationV1},
	{Version: 2, Up: migrationV2},
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS products (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    price          NUMERIC(10,2) NOT NULL CHECK (price >= 0),
    category       TEXT NOT NULL DEFAULT '',
    stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
    id            BIGSERIAL PRIMARY KEY,
    customer_name TEXT NOT NULL,
    total_amount  NUMERIC(10,2) NOT NULL CHECK (total_amount >= 0),
    status        TEXT NOT NULL DEFAULT 'pending'
                  CHECK (status IN ('pending', 'preparing', 'completed')),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at DESC);

-- Items belong to their order; products referenced by history cannot be deleted.
CREATE TABLE IF NOT EXISTS order_items (
    id         BIGSERIAL PRIMARY KEY,
    order_id   BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
    quantity   INTEGER NOT NULL CHECK (quantity > 0),
    unit_price NUMERIC(10,2) NOT NULL CHECK (unit_price >= 0)
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
`

// Retried checkouts carry a client key; NULLs (no key) do not collide.
const migrationV2 = `
ALTER TABLE orders ADD COLUMN IF NOT EXISTS idempotency_key TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS orders_idempotency_key_uniq ON orders(idempotency_key);
`

// Migrate applies every migration newer than the recorded schema version.
// It returns the versions it applied.
func Migrate(ctx context.Context, db *pgxpool.Pool) ([]int, error) {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	var applied []int
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_version(version) VALUES ($1)`, m.Version)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d: %w", m.Version, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

type SeedProduct struct {
	Name     string
	Price    decimal.Decimal
	Category string
	Stock    int
}

// DefaultMenu is the sample catalog loaded by "cafectl seed".
var DefaultMenu = []SeedProduct{
	{Name: "Nasi Goreng", Price: decimal.RequireFromString("25000"), Category: "food", Stock: 30},
	{Name: "Mie Ayam", Price: decimal.RequireFromString("20000"), Category: "food", Stock: 30},
	{Name: "Roti Bakar", Price: decimal.RequireFromString("15000"), Category: "snack", Stock: 20},
	{Name: "Es Teh", Price: decimal.RequireFromString("5000"), Category: "drink", Stock: 100},
	{Name: "Kopi Susu", Price: decimal.RequireFromString("18000"), Category: "drink", Stock: 50},
}

// Seed inserts products that are not in the catalog yet and returns how many
// rows were added.
func Seed(ctx context.Context, db *pgxpool.Pool, products []SeedProduct) (int, error) {
	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(`INSERT INTO products(name, price, category, stock_quantity)
		         VALUES ($1, $2, $3, $4)
		         ON CONFLICT (name) DO NOTHING`, p.Name, p.Price, p.Category, p.Stock)
	}
	br := db.SendBatch(ctx, b)
	defer br.Close()

	added := 0
	for _, p := range products {
		ct, err := br.Exec()
		if err != nil {
			return added, fmt.Errorf("seed %q: %w", p.Name, err)
		}
		added += int(ct.RowsAffected())
	}
	return added, nil
}
