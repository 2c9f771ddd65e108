package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

type capture struct {
	mu  sync.Mutex
	evs []orders.Envelope
	err error
}

func (c *capture) Publish(ctx context.Context, ev orders.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return c.err
}

type memDedup struct {
	seen map[string]bool
	err  error
}

func (d *memDedup) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	k := service + ":" + eventID
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func message(t *testing.T, ev orders.Envelope) kafkago.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafkago.Message{Topic: orders.TopicFor(ev.EventType), Value: b}
}

func newRelay(pub orders.Publisher, dedup Deduper) *Service {
	return &Service{
		Publisher:   pub,
		Dedup:       dedup,
		ServiceName: "order-api-relay",
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func statusEvent(t *testing.T) orders.Envelope {
	t.Helper()
	ev, err := orders.NewEnvelope(context.Background(), "order-api", orders.EventOrderStatusChanged, 9,
		orders.OrderStatusChangedPayload{OrderID: 9, Status: orders.StatusCompleted})
	require.NoError(t, err)
	return ev
}

func TestHandleEvent_RebroadcastsOnce(t *testing.T) {
	pub := &capture{}
	svc := newRelay(pub, &memDedup{seen: map[string]bool{}})
	ev := statusEvent(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, message(t, ev)))
	require.NoError(t, svc.HandleEvent(ctx, message(t, ev)), "redelivery is acknowledged")

	require.Len(t, pub.evs, 1)
	assert.Equal(t, ev.EventID, pub.evs[0].EventID)
}

func TestHandleEvent_WithoutDedupForwardsEverything(t *testing.T) {
	pub := &capture{}
	svc := newRelay(pub, nil)
	ev := statusEvent(t)

	require.NoError(t, svc.HandleEvent(context.Background(), message(t, ev)))
	require.NoError(t, svc.HandleEvent(context.Background(), message(t, ev)))
	assert.Len(t, pub.evs, 2)
}

func TestHandleEvent_DedupOutageStillForwards(t *testing.T) {
	pub := &capture{}
	svc := newRelay(pub, &memDedup{err: errors.New("redis: connection refused")})

	require.NoError(t, svc.HandleEvent(context.Background(), message(t, statusEvent(t))))
	assert.Len(t, pub.evs, 1)
}

func TestHandleEvent_SkipsWhatCannotBeRetried(t *testing.T) {
	pub := &capture{}
	svc := newRelay(pub, nil)
	ctx := context.Background()

	assert.NoError(t, svc.HandleEvent(ctx, kafkago.Message{Topic: orders.TopicOrderCreated, Value: []byte("{oops")}))
	assert.NoError(t, svc.HandleEvent(ctx, message(t, orders.Envelope{EventID: "x", EventType: "OrderRefunded"})))
	assert.Empty(t, pub.evs)

	pub.err = errors.New("fanout: broadcast queue full")
	assert.NoError(t, svc.HandleEvent(ctx, message(t, statusEvent(t))))
}

func TestHandleEvent_WorksWithoutLogger(t *testing.T) {
	pub := &capture{err: errors.New("fanout: hub closed")}
	svc := &Service{Publisher: pub, Dedup: &memDedup{err: errors.New("redis down")}, ServiceName: "relay"}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		assert.NoError(t, svc.HandleEvent(ctx, kafkago.Message{Value: []byte("{oops")}))
		assert.NoError(t, svc.HandleEvent(ctx, message(t, statusEvent(t))))
	})
	assert.Len(t, pub.evs, 1)
}
