package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

const uniqueViolation = "23505"

type pgTx struct{ tx pgx.Tx }

// LockStock: lock stok per product (FOR UPDATE) dalam urutan id, supaya dua
// checkout yang saling overlap tidak deadlock.
func (t *pgTx) LockStock(ctx context.Context, ids []int64) (map[int64]orders.StockRow, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, stock_quantity FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]orders.StockRow, len(ids))
	for rows.Next() {
		var r orders.StockRow
		if err := rows.Scan(&r.ProductID, &r.Name, &r.Stock); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		out[r.ProductID] = r
	}
	return out, rows.Err()
}

func (t *pgTx) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2`, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) OrderByIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key=$1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find order by idempotency key: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(customer_name, total_amount, status, created_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		o.CustomerName, o.TotalAmount, string(o.Status), o.CreatedAt, key,
	).Scan(&o.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_idempotency_key_uniq" {
		return orders.ErrDuplicateRequest
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertItems(ctx context.Context, orderID int64, items []orders.OrderItem) error {
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`INSERT INTO order_items(order_id, product_id, quantity, unit_price)
		         VALUES ($1, $2, $3, $4)`, orderID, it.ProductID, it.Quantity, it.UnitPrice)
	}
	br := t.tx.SendBatch(ctx, b)
	for range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func (t *pgTx) LockOrderStatus(ctx context.Context, orderID int64) (orders.Status, error) {
	var s string
	err := t.tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", orders.ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock order: %w", err)
	}
	return orders.Status(s), nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status orders.Status) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, orderID, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}
