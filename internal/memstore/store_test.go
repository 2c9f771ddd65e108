package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

func newStore() (*Store, int64) {
	s := New()
	id := s.AddProduct(orders.Product{Name: "Nasi Goreng", Price: decimal.NewFromInt(25000), StockQuantity: 10})
	return s, id
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	s, id := newStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx orders.Tx) error {
		_, err := tx.LockStock(ctx, []int64{id})
		require.NoError(t, err)
		ok, err := tx.DecrementStock(ctx, id, 4)
		require.NoError(t, err)
		require.True(t, ok)
		o := &orders.Order{CustomerName: "Rina", Status: orders.StatusPending, CreatedAt: time.Now()}
		require.NoError(t, tx.InsertOrder(ctx, o))
		require.NoError(t, tx.InsertItems(ctx, o.ID, []orders.OrderItem{{ProductID: id, Quantity: 4}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ps, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, ps[0].StockQuantity)
	active, err := s.ActiveOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, s.items)
}

func TestWithTx_CommitAppliesWrites(t *testing.T) {
	s, id := newStore()
	ctx := context.Background()

	var orderID int64
	err := s.WithTx(ctx, func(tx orders.Tx) error {
		rows, err := tx.LockStock(ctx, []int64{id, 99})
		if err != nil {
			return err
		}
		assert.Len(t, rows, 1, "unknown ids are left out")
		assert.Equal(t, "Nasi Goreng", rows[id].Name)

		if _, err := tx.DecrementStock(ctx, id, 3); err != nil {
			return err
		}
		o := &orders.Order{CustomerName: "Sari", Status: orders.StatusPending, CreatedAt: time.Now()}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		orderID = o.ID
		return tx.InsertItems(ctx, o.ID, []orders.OrderItem{{ProductID: id, Quantity: 3, UnitPrice: decimal.NewFromInt(25000)}})
	})
	require.NoError(t, err)

	o, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Nasi Goreng", o.Items[0].Name)

	ps, _ := s.ListProducts(ctx)
	assert.Equal(t, 7, ps[0].StockQuantity)
}

func TestDecrementStock_RefusesToGoNegative(t *testing.T) {
	s, id := newStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx orders.Tx) error {
		ok, err := tx.DecrementStock(ctx, id, 8)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.DecrementStock(ctx, id, 3)
		require.NoError(t, err)
		assert.False(t, ok, "8 of 10 already taken in this tx")

		rows, err := tx.LockStock(ctx, []int64{id})
		require.NoError(t, err)
		assert.Equal(t, 2, rows[id].Stock)
		return nil
	})
	require.NoError(t, err)
}

func TestLockStock_SerializesTransactions(t *testing.T) {
	s, id := newStore()
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.WithTx(ctx, func(tx orders.Tx) error {
			_, _ = tx.LockStock(ctx, []int64{id})
			close(locked)
			<-release
			_, err := tx.DecrementStock(ctx, id, 10)
			return err
		})
	}()
	<-locked

	go func() {
		defer close(done)
		_ = s.WithTx(ctx, func(tx orders.Tx) error {
			rows, _ := tx.LockStock(ctx, []int64{id})
			assert.Equal(t, 0, rows[id].Stock, "second tx must see the first one's commit")
			return nil
		})
	}()

	select {
	case <-done:
		t.Fatal("second transaction got the row lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
}

func TestStatusUpdates(t *testing.T) {
	s, id := newStore()
	ctx := context.Background()

	var orderID int64
	require.NoError(t, s.WithTx(ctx, func(tx orders.Tx) error {
		o := &orders.Order{CustomerName: "Tono", Status: orders.StatusPending, CreatedAt: time.Now()}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		orderID = o.ID
		return tx.InsertItems(ctx, o.ID, []orders.OrderItem{{ProductID: id, Quantity: 1}})
	}))

	err := s.WithTx(ctx, func(tx orders.Tx) error {
		_, err := tx.LockOrderStatus(ctx, orderID+100)
		return err
	})
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	require.NoError(t, s.WithTx(ctx, func(tx orders.Tx) error {
		st, err := tx.LockOrderStatus(ctx, orderID)
		if err != nil {
			return err
		}
		assert.Equal(t, orders.StatusPending, st)
		return tx.UpdateOrderStatus(ctx, orderID, orders.StatusCompleted)
	}))

	hist, err := s.CompletedOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "1x Nasi Goreng", hist[0].ItemsSummary)
}

func TestConcurrentDisjointTransactions(t *testing.T) {
	s := New()
	a := s.AddProduct(orders.Product{Name: "A", StockQuantity: 100})
	b := s.AddProduct(orders.Product{Name: "B", StockQuantity: 100})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []int64{a, b}
			if i%2 == 0 {
				ids = []int64{b, a}
			}
			err := s.WithTx(ctx, func(tx orders.Tx) error {
				if _, err := tx.LockStock(ctx, ids); err != nil {
					return err
				}
				for _, id := range ids {
					if _, err := tx.DecrementStock(ctx, id, 1); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ps, _ := s.ListProducts(ctx)
	assert.Equal(t, 60, ps[0].StockQuantity)
	assert.Equal(t, 60, ps[1].StockQuantity)
}

func TestWithTx_CancelledContext(t *testing.T) {
	s, id := newStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithTx(ctx, func(tx orders.Tx) error {
		_, _ = tx.DecrementStock(ctx, id, 1)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	ps, _ := s.ListProducts(context.Background())
	assert.Equal(t, 10, ps[0].StockQuantity)
}

func TestIdempotencyKey_ClaimedUntilRollback(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	boom := errors.New("boom")
	keyed := func() *orders.Order {
		return &orders.Order{CustomerName: "Rina", Status: orders.StatusPending, CreatedAt: time.Now(), IdempotencyKey: "pos-7"}
	}

	err := s.WithTx(ctx, func(tx orders.Tx) error {
		require.NoError(t, tx.InsertOrder(ctx, keyed()))
		_, found, err := tx.OrderByIdempotencyKey(ctx, "pos-7")
		require.NoError(t, err)
		assert.False(t, found, "uncommitted orders are not visible")

		inner := s.WithTx(ctx, func(other orders.Tx) error {
			return other.InsertOrder(ctx, keyed())
		})
		assert.ErrorIs(t, inner, orders.ErrDuplicateRequest)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var id int64
	require.NoError(t, s.WithTx(ctx, func(tx orders.Tx) error {
		o := keyed()
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		id = o.ID
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx orders.Tx) error {
		got, found, err := tx.OrderByIdempotencyKey(ctx, "pos-7")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, id, got)
		return nil
	}))
}
