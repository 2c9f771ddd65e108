package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Category      string          `json:"category"`
	StockQuantity int             `json:"stock_quantity"`
}

type Order struct {
	ID           int64           `json:"id"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       Status          `json:"status"` // lihat status.go
	CreatedAt    time.Time       `json:"created_at"`
	Items        []OrderItem     `json:"items"`

	// Replayed is set when PlaceOrder returned an order created by an
	// earlier request with the same idempotency key.
	IdempotencyKey string `json:"-"`
	Replayed       bool   `json:"-"`
}

// OrderItem is one cart line. Name is filled from the catalog on read and
// when the order is placed; it is not stored on the line itself.
type OrderItem struct {
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// StockRow is a locked catalog row as seen inside a placement transaction.
type StockRow struct {
	ProductID int64
	Name      string
	Stock     int
}

// ActiveOrder is the kitchen board view of an order that is not completed yet.
type ActiveOrder struct {
	ID           int64           `json:"id"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	Items        []ItemLine      `json:"items"`
}

type ItemLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// HistoryEntry is a completed order with its lines collapsed into one string.
type HistoryEntry struct {
	ID           int64           `json:"id"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	ItemsSummary string          `json:"items_summary"`
}
