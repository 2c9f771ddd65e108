package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/cafeteria-pos/internal/metrics"
	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

// EventPublisher writes order envelopes to their topic, keyed by order id.
type EventPublisher struct {
	Producer *Producer
}

func (p *EventPublisher) Publish(ctx context.Context, ev orders.Envelope) error {
	topic := orders.TopicFor(ev.EventType)
	if topic == "" {
		return fmt.Errorf("kafka: no topic for event type %q", ev.EventType)
	}
	value, err := marshal(ev)
	if err != nil {
		return err
	}
	err = p.Producer.Publish(topic, orders.PartitionKey(ev.CorrelationID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(ev.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
	if err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues("kafka", ev.EventType).Inc()
	return nil
}
