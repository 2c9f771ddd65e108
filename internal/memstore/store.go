// Package memstore is an in-process orders.Store. Row locks are per product
// and per order, held until the transaction ends; writes are buffered in the
// transaction and applied only on commit.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

type Store struct {
	mu         sync.Mutex
	products   map[int64]orders.Product
	orders     map[int64]orders.Order
	items      []orders.OrderItem
	productSeq int64
	orderSeq   int64

	// idem maps idempotency keys to order ids, including orders whose
	// transaction has not committed yet.
	idem map[string]int64

	rowLocks   map[int64]*sync.Mutex
	orderLocks map[int64]*sync.Mutex
}

func New() *Store {
	return &Store{
		products:   map[int64]orders.Product{},
		orders:     map[int64]orders.Order{},
		idem:       map[string]int64{},
		rowLocks:   map[int64]*sync.Mutex{},
		orderLocks: map[int64]*sync.Mutex{},
	}
}

// AddProduct stores p under a fresh id and returns it.
func (s *Store) AddProduct(p orders.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productSeq++
	p.ID = s.productSeq
	s.products[p.ID] = p
	return p.ID
}

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{s: s, decrements: map[int64]int{}, statuses: map[int64]orders.Status{}}
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	// A deadline that passed mid-transaction aborts it, like a server-side timeout.
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b orders.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	for _, it := range s.items {
		if it.OrderID == id {
			it.Name = s.products[it.ProductID].Name
			o.Items = append(o.Items, it)
		}
	}
	return &o, nil
}

func (s *Store) ActiveOrders(ctx context.Context) ([]orders.ActiveOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.ActiveOrder
	for _, o := range s.newestFirst() {
		if o.Status == orders.StatusCompleted {
			continue
		}
		out = append(out, orders.ActiveOrder{
			ID:           o.ID,
			CustomerName: o.CustomerName,
			TotalAmount:  o.TotalAmount,
			Status:       o.Status,
			CreatedAt:    o.CreatedAt,
			Items:        s.linesOf(o.ID),
		})
	}
	return out, nil
}

func (s *Store) CompletedOrders(ctx context.Context, limit int) ([]orders.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.HistoryEntry
	for _, o := range s.newestFirst() {
		if o.Status != orders.StatusCompleted {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, orders.HistoryEntry{
			ID:           o.ID,
			CustomerName: o.CustomerName,
			TotalAmount:  o.TotalAmount,
			CreatedAt:    o.CreatedAt,
			ItemsSummary: orders.ItemsSummary(s.linesOf(o.ID)),
		})
	}
	return out, nil
}

// newestFirst must be called with s.mu held.
func (s *Store) newestFirst() []orders.Order {
	all := make([]orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		all = append(all, o)
	}
	slices.SortFunc(all, func(a, b orders.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return all
}

// linesOf must be called with s.mu held.
func (s *Store) linesOf(orderID int64) []orders.ItemLine {
	var lines []orders.ItemLine
	for _, it := range s.items {
		if it.OrderID == orderID {
			lines = append(lines, orders.ItemLine{Name: s.products[it.ProductID].Name, Quantity: it.Quantity})
		}
	}
	return lines
}

func (s *Store) lockFor(locks map[int64]*sync.Mutex, id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := locks[id]
	if !ok {
		m = &sync.Mutex{}
		locks[id] = m
	}
	return m
}
