// Package relay rebroadcasts order events read from Kafka to the viewers of a
// local hub, so extra kitchen screens do not have to hold a socket on the
// order API itself.
package relay

import (
	"context"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/cafeteria-pos/internal/kafka"
	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

// Deduper remembers which event ids were already handled.
type Deduper interface {
	FirstSeen(ctx context.Context, service, eventID string) (bool, error)
}

type Service struct {
	Publisher   orders.Publisher
	Dedup       Deduper // optional
	ServiceName string
	Log         *slog.Logger
}

// HandleEvent dipasang sebagai handler consumer. Malformed and unknown
// messages are skipped (committed) since retrying cannot fix them.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.log().Warn("relay: skip malformed message", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil
	}
	if orders.TopicFor(env.EventType) == "" {
		return nil // ignore
	}

	// 2) dedup via Redis (pakai event_id)
	if s.Dedup != nil && env.EventID != "" {
		first, err := s.Dedup.FirstSeen(ctx, s.ServiceName, env.EventID)
		if err != nil {
			s.log().Warn("relay: dedup unavailable", "event_id", env.EventID, "error", err)
		} else if !first {
			return nil
		}
	}

	// 3) fanout; a busy hub is not worth redelivering for
	if err := s.Publisher.Publish(ctx, env); err != nil {
		s.log().Warn("relay: publish", "event_type", env.EventType, "event_id", env.EventID, "error", err)
	}
	return nil
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
