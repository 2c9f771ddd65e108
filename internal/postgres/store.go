package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

// Store implements orders.Store on Postgres. Placement relies on READ
// COMMITTED plus row locks taken by LockStock.
type Store struct{ DB *pgxpool.Pool }

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, price, category, stock_quantity
	                              FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.StockQuantity); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	var o orders.Order
	var status string
	err := s.DB.QueryRow(ctx, `SELECT id, customer_name, total_amount, status, created_at
	                           FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.CustomerName, &o.TotalAmount, &status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = orders.Status(status)

	rows, err := s.DB.Query(ctx, `
		SELECT oi.order_id, oi.product_id, p.name, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, id)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// ActiveOrders returns one row per item from the join and folds them into
// orders, keeping the newest-first order of the query.
func (s *Store) ActiveOrders(ctx context.Context) ([]orders.ActiveOrder, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT o.id, o.customer_name, o.total_amount, o.status, o.created_at,
		       p.name, oi.quantity
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN products p ON p.id = oi.product_id
		WHERE o.status <> 'completed'
		ORDER BY o.created_at DESC, o.id DESC, oi.id`)
	if err != nil {
		return nil, fmt.Errorf("active orders: %w", err)
	}
	defer rows.Close()

	var out []orders.ActiveOrder
	index := map[int64]int{}
	for rows.Next() {
		var (
			o      orders.ActiveOrder
			status string
			line   orders.ItemLine
		)
		if err := rows.Scan(&o.ID, &o.CustomerName, &o.TotalAmount, &status, &o.CreatedAt,
			&line.Name, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan active order: %w", err)
		}
		i, ok := index[o.ID]
		if !ok {
			o.Status = orders.Status(status)
			out = append(out, o)
			i = len(out) - 1
			index[o.ID] = i
		}
		out[i].Items = append(out[i].Items, line)
	}
	return out, rows.Err()
}

func (s *Store) CompletedOrders(ctx context.Context, limit int) ([]orders.HistoryEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT o.id, o.customer_name, o.total_amount, o.created_at,
		       string_agg(oi.quantity || 'x ' || p.name, ', ' ORDER BY oi.id) AS items_summary
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN products p ON p.id = oi.product_id
		WHERE o.status = 'completed'
		GROUP BY o.id
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("order history: %w", err)
	}
	defer rows.Close()

	var out []orders.HistoryEntry
	for rows.Next() {
		var h orders.HistoryEntry
		if err := rows.Scan(&h.ID, &h.CustomerName, &h.TotalAmount, &h.CreatedAt, &h.ItemsSummary); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
