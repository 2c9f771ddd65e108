package orders

import (
	"context"
	"strconv"
	"strings"
)

// Store is the catalog + ledger. WithTx runs fn inside one atomic unit: if fn
// returns an error nothing it did is kept.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context) ([]Product, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ActiveOrders(ctx context.Context) ([]ActiveOrder, error)
	CompletedOrders(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// Tx is the set of writes a placement or status change performs.
type Tx interface {
	// LockStock locks the catalog rows of ids until the transaction ends and
	// returns what it found. Missing ids are simply absent from the map.
	LockStock(ctx context.Context, ids []int64) (map[int64]StockRow, error)
	// DecrementStock subtracts qty only if the row still holds at least qty.
	// It reports false when it did not.
	DecrementStock(ctx context.Context, productID int64, qty int) (bool, error)
	// OrderByIdempotencyKey finds a committed order placed with key.
	OrderByIdempotencyKey(ctx context.Context, key string) (int64, bool, error)
	// InsertOrder returns ErrDuplicateRequest when o.IdempotencyKey is taken.
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, orderID int64, items []OrderItem) error

	// LockOrderStatus returns ErrOrderNotFound for unknown ids.
	LockOrderStatus(ctx context.Context, orderID int64) (Status, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status Status) error
}

// ItemsSummary renders lines as "2x Latte, 1x Bagel".
func ItemsSummary(lines []ItemLine) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(l.Quantity))
		b.WriteString("x ")
		b.WriteString(l.Name)
	}
	return b.String()
}
