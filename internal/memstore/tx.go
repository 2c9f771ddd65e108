package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

type tx struct {
	s          *Store
	held       []*sync.Mutex
	heldRows   map[int64]bool
	heldOrders map[int64]bool

	decrements map[int64]int
	newOrders  []orders.Order
	newItems   []orders.OrderItem
	statuses   map[int64]orders.Status
	keys       []string
	committed  bool
}

func (t *tx) LockStock(ctx context.Context, ids []int64) (map[int64]orders.StockRow, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	if t.heldRows == nil {
		t.heldRows = map[int64]bool{}
	}
	for _, id := range sorted {
		if t.heldRows[id] {
			continue
		}
		m := t.s.lockFor(t.s.rowLocks, id)
		m.Lock()
		t.held = append(t.held, m)
		t.heldRows[id] = true
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make(map[int64]orders.StockRow, len(sorted))
	for _, id := range sorted {
		p, ok := t.s.products[id]
		if !ok {
			continue
		}
		out[id] = orders.StockRow{ProductID: id, Name: p.Name, Stock: p.StockQuantity - t.decrements[id]}
	}
	return out, ctx.Err()
}

func (t *tx) DecrementStock(ctx context.Context, productID int64, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("memstore: decrement by %d", qty)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[productID]
	if !ok || p.StockQuantity-t.decrements[productID] < qty {
		return false, nil
	}
	t.decrements[productID] += qty
	return true, ctx.Err()
}

func (t *tx) OrderByIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	id, ok := t.s.idem[key]
	if !ok {
		return 0, false, ctx.Err()
	}
	if _, committed := t.s.orders[id]; !committed {
		return 0, false, ctx.Err()
	}
	return id, true, ctx.Err()
}

// InsertOrder claims o.IdempotencyKey right away, like a unique index would,
// so a concurrent transaction with the same key fails instead of waiting.
func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	t.s.mu.Lock()
	if o.IdempotencyKey != "" {
		if _, taken := t.s.idem[o.IdempotencyKey]; taken {
			t.s.mu.Unlock()
			return orders.ErrDuplicateRequest
		}
	}
	t.s.orderSeq++
	o.ID = t.s.orderSeq
	if o.IdempotencyKey != "" {
		t.s.idem[o.IdempotencyKey] = o.ID
		t.keys = append(t.keys, o.IdempotencyKey)
	}
	t.s.mu.Unlock()

	stored := *o
	stored.Items = nil
	t.newOrders = append(t.newOrders, stored)
	return ctx.Err()
}

func (t *tx) InsertItems(ctx context.Context, orderID int64, items []orders.OrderItem) error {
	for _, it := range items {
		it.OrderID = orderID
		it.Name = ""
		t.newItems = append(t.newItems, it)
	}
	return ctx.Err()
}

func (t *tx) LockOrderStatus(ctx context.Context, orderID int64) (orders.Status, error) {
	if t.heldOrders == nil {
		t.heldOrders = map[int64]bool{}
	}
	if !t.heldOrders[orderID] {
		m := t.s.lockFor(t.s.orderLocks, orderID)
		m.Lock()
		t.held = append(t.held, m)
		t.heldOrders[orderID] = true
	}

	if st, ok := t.statuses[orderID]; ok {
		return st, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[orderID]
	if !ok {
		return "", orders.ErrOrderNotFound
	}
	return o.Status, ctx.Err()
}

func (t *tx) UpdateOrderStatus(ctx context.Context, orderID int64, status orders.Status) error {
	t.s.mu.Lock()
	_, ok := t.s.orders[orderID]
	t.s.mu.Unlock()
	if !ok {
		return orders.ErrOrderNotFound
	}
	t.statuses[orderID] = status
	return ctx.Err()
}

func (t *tx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.committed = true
	for id, qty := range t.decrements {
		p := t.s.products[id]
		p.StockQuantity -= qty
		t.s.products[id] = p
	}
	for _, o := range t.newOrders {
		t.s.orders[o.ID] = o
	}
	t.s.items = append(t.s.items, t.newItems...)
	for id, st := range t.statuses {
		o := t.s.orders[id]
		o.Status = st
		t.s.orders[id] = o
	}
}

func (t *tx) release() {
	if !t.committed && len(t.keys) > 0 {
		t.s.mu.Lock()
		for _, k := range t.keys {
			delete(t.s.idem, k)
		}
		t.s.mu.Unlock()
	}
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}
