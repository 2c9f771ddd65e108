package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MaxItemQuantity bounds the quantity of one product in a cart, summed over
// its lines. It matches the INTEGER quantity and stock columns.
const MaxItemQuantity = math.MaxInt32

const maxIdempotencyKeyLen = 255

// MaxAmount is the largest money value the NUMERIC(10,2) columns hold.
var MaxAmount = decimal.RequireFromString("99999999.99")

type ItemInput struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type PlaceOrderRequest struct {
	CustomerName  string          `json:"customer_name"`
	Items         []ItemInput     `json:"items"`
	DeclaredTotal decimal.Decimal `json:"total_amount"`

	// IdempotencyKey, when set, makes a retried checkout return the order
	// the first attempt created. It comes from the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

// Service places orders, moves them through the kitchen flow and serves the
// read side. Publisher may be nil, in which case no events are emitted.
type Service struct {
	Store     Store
	Publisher Publisher
	Log       *slog.Logger
	// Producer is stamped on every envelope.
	Producer string
	// StrictTransitions rejects status writes that skip or reverse the
	// pending -> preparing -> completed flow.
	StrictTransitions bool
	Now               func() time.Time
}

// PlaceOrder validates the cart, then locks, checks and decrements stock and
// writes the order with its lines in one transaction. The OrderCreated event
// goes out only after commit, and a failed publish does not fail the order.
// A request whose idempotency key already has an order returns that order
// with Replayed set and changes nothing.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	name, key, err := validatePlacement(req)
	if err != nil {
		return nil, err
	}

	// Demand is summed per product so that two lines of the same product
	// cannot each pass the check and jointly overdraw it.
	demand := make(map[int64]int, len(req.Items))
	ids := make([]int64, 0, len(req.Items))
	for _, it := range req.Items {
		if _, seen := demand[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		if demand[it.ProductID] > MaxItemQuantity-it.Quantity {
			return nil, validationf("product %d: total quantity exceeds %d", it.ProductID, MaxItemQuantity)
		}
		demand[it.ProductID] += it.Quantity
	}
	slices.Sort(ids)

	order := &Order{
		CustomerName:   name,
		TotalAmount:    req.DeclaredTotal,
		Status:         StatusPending,
		CreatedAt:      s.now(),
		IdempotencyKey: key,
	}

	var replayID int64
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		rows, err := tx.LockStock(ctx, ids)
		if err != nil {
			return err
		}
		// Looked up after the row locks: a concurrent retry of the same cart
		// waits for the first attempt to commit and then finds its order.
		if key != "" {
			id, found, err := tx.OrderByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if found {
				replayID = id
				return nil
			}
		}
		for _, id := range ids {
			row, ok := rows[id]
			if !ok {
				return fmt.Errorf("%w: %d", ErrProductNotFound, id)
			}
			if row.Stock < demand[id] {
				return &InsufficientStockError{ProductID: id, Requested: demand[id], Available: row.Stock}
			}
		}

		order.Items = make([]OrderItem, 0, len(req.Items))
		for _, it := range req.Items {
			order.Items = append(order.Items, OrderItem{
				ProductID: it.ProductID,
				Name:      rows[it.ProductID].Name,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
			})
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		if err := tx.InsertItems(ctx, order.ID, order.Items); err != nil {
			return err
		}

		for _, id := range ids {
			ok, err := tx.DecrementStock(ctx, id, demand[id])
			if err != nil {
				return err
			}
			if !ok {
				return &InsufficientStockError{ProductID: id, Requested: demand[id], Available: rows[id].Stock}
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateRequest) {
		// Same key, different cart, or the first attempt has not committed.
		replayID, err = s.lookupIdempotent(ctx, key)
	}
	if err != nil {
		return nil, classify(err)
	}
	if replayID != 0 {
		return s.replay(ctx, replayID)
	}

	if sum := lineTotal(order.Items); !sum.Equal(order.TotalAmount) {
		s.log().Warn("declared total differs from line total",
			"order_id", order.ID, "declared", order.TotalAmount.StringFixed(2), "lines", sum.StringFixed(2))
	}

	s.publish(ctx, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:      order.ID,
		CustomerName: order.CustomerName,
		Items:        order.Items,
		TotalAmount:  order.TotalAmount,
		Status:       order.Status,
		CreatedAt:    order.CreatedAt,
	})
	return order, nil
}

func (s *Service) lookupIdempotent(ctx context.Context, key string) (int64, error) {
	var id int64
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		found, ok, err := tx.OrderByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDuplicateRequest
		}
		id = found
		return nil
	})
	return id, err
}

func (s *Service) replay(ctx context.Context, id int64) (*Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	o.Replayed = true
	s.log().Info("idempotent checkout replayed", "order_id", id)
	return o, nil
}

// SetOrderStatus writes status to the order and announces the change.
func (s *Service) SetOrderStatus(ctx context.Context, orderID int64, status Status) error {
	if orderID <= 0 {
		return validationf("order id must be positive")
	}
	if !status.Valid() {
		return validationf("unknown status %q", status)
	}

	err := s.Store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.LockOrderStatus(ctx, orderID)
		if err != nil {
			return err
		}
		if s.StrictTransitions && !CanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
		}
		return tx.UpdateOrderStatus(ctx, orderID, status)
	})
	if err != nil {
		return classify(err)
	}

	s.publish(ctx, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{OrderID: orderID, Status: status})
	return nil
}

func (s *Service) ActiveOrders(ctx context.Context) ([]ActiveOrder, error) {
	out, err := s.Store.ActiveOrders(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// OrderHistory returns the most recent completed orders; limit <= 0 means
// DefaultHistoryLimit.
func (s *Service) OrderHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return nil, validationf("limit must be at most %d", MaxHistoryLimit)
	}
	out, err := s.Store.CompletedOrders(ctx, limit)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	return o, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	ps, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return ps, nil
}

func (s *Service) publish(ctx context.Context, eventType string, orderID int64, payload any) {
	if s.Publisher == nil {
		return
	}
	ev, err := NewEnvelope(ctx, s.Producer, eventType, orderID, payload)
	if err != nil {
		s.log().Error("build event", "event_type", eventType, "order_id", orderID, "error", err)
		return
	}
	// The order is already committed; the caller must not see this error.
	if err := s.Publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log().Warn("publish event", "event_type", eventType, "order_id", orderID, "error", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func validatePlacement(req PlaceOrderRequest) (name, key string, err error) {
	name = strings.TrimSpace(req.CustomerName)
	if name == "" {
		return "", "", validationf("customer name is required")
	}
	key = strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return "", "", validationf("idempotency key longer than %d bytes", maxIdempotencyKeyLen)
	}
	if len(req.Items) == 0 {
		return "", "", validationf("order has no items")
	}
	for i, it := range req.Items {
		if it.ProductID <= 0 {
			return "", "", validationf("item %d: product id must be positive", i)
		}
		if it.Quantity <= 0 {
			return "", "", validationf("item %d: quantity must be positive", i)
		}
		if it.Quantity > MaxItemQuantity {
			return "", "", validationf("item %d: quantity must be at most %d", i, MaxItemQuantity)
		}
		if err := checkAmount(fmt.Sprintf("item %d: unit price", i), it.UnitPrice); err != nil {
			return "", "", err
		}
	}
	if err := checkAmount("total amount", req.DeclaredTotal); err != nil {
		return "", "", err
	}
	return name, key, nil
}

// checkAmount accepts what a NUMERIC(10,2) column stores without rounding.
func checkAmount(what string, d decimal.Decimal) error {
	switch {
	case d.IsNegative():
		return validationf("%s must not be negative", what)
	case !d.Equal(d.Truncate(2)):
		return validationf("%s has more than two decimal places", what)
	case d.GreaterThan(MaxAmount):
		return validationf("%s must be at most %s", what, MaxAmount.StringFixed(2))
	}
	return nil
}

func lineTotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// classify keeps domain errors as they are and marks everything else as a
// storage failure, keeping the cause in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicateRequest),
		errors.Is(err, ErrStorage):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
