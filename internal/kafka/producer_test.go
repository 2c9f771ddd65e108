package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

type fakeWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	closed  bool
	block   chan struct{} // when set, WriteMessages waits on it
	failErr error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failErr != nil {
		return w.failErr
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	p := newProducer(w, 16, nil)
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish("order.created", []byte("1"), []byte("v")))
	}
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Publish("order.created", nil, nil), ErrProducerClosed)

	close(w.block)
	p.WaitClosed()

	assert.Len(t, w.written(), 5)
	assert.True(t, w.closed)
}

func TestProducer_FlushesOnContextCancel(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Publish("order.status.changed", []byte("7"), []byte("v")))
	cancel()
	p.WaitClosed()

	assert.Len(t, w.written(), 1)
	assert.True(t, w.closed)
}

func TestProducer_FullInboxDoesNotBlock(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	p := newProducer(w, 1, nil)
	p.Start(context.Background())
	defer func() {
		close(w.block)
		p.Close()
		p.WaitClosed()
	}()

	var full error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			if err := p.Publish("order.created", nil, []byte("v")); err != nil {
				full = err
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full inbox")
	}
	assert.ErrorIs(t, full, ErrInboxFull)
}

func TestProducer_WriteErrorsAreLoggedNotFatal(t *testing.T) {
	w := &fakeWriter{failErr: errors.New("leader not available")}
	p := newProducer(w, 4, nil)
	p.Start(context.Background())

	require.NoError(t, p.Publish("order.created", nil, []byte("v")))
	p.Close()
	p.WaitClosed()
	assert.Empty(t, w.written())
}

func TestEventPublisher_WritesToEventTopic(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 4, nil)
	p.Start(context.Background())
	pub := &EventPublisher{Producer: p}

	ev, err := orders.NewEnvelope(context.Background(), "order-api", orders.EventOrderStatusChanged, 31,
		orders.OrderStatusChangedPayload{OrderID: 31, Status: orders.StatusPreparing})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), ev))

	err = pub.Publish(context.Background(), orders.Envelope{EventType: "OrderDeleted"})
	assert.Error(t, err)

	p.Close()
	p.WaitClosed()

	msgs := w.written()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, orders.TopicOrderStatusChanged, m.Topic)
	assert.Equal(t, "31", string(m.Key))
	assert.Contains(t, m.Headers, kafka.Header{Key: "x-event-type", Value: []byte(orders.EventOrderStatusChanged)})
	assert.Contains(t, m.Headers, kafka.Header{Key: "x-event-version", Value: []byte("1")})

	back, err := UnmarshalEnvelope(m.Value)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, back.EventID)

	payload, err := UnwrapPayload[orders.OrderStatusChangedPayload](back.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPreparing, payload.Status)
}

func TestUnmarshalEnvelope_Malformed(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte("not json"))
	assert.Error(t, err)

	_, err = UnwrapPayload[orders.OrderCreatedPayload](json.RawMessage(`{"order_id":"x"}`))
	assert.Error(t, err)
}
