// Package fanout broadcasts order events to every connected viewer.
//
// Delivery is best-effort and at-most-once: a subscriber only sees messages
// published after it registered, and one that cannot keep up is dropped and
// has to reconnect and re-fetch state on its own.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ariefcatur/cafeteria-pos/internal/metrics"
	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

const (
	defaultBuffer   = 256
	subscriberQueue = 64
)

var (
	ErrHubClosed = errors.New("fanout: hub closed")
	ErrHubBusy   = errors.New("fanout: broadcast queue full")
)

// Subscription receives broadcast messages on C until it is closed, either by
// Unsubscribe or by the hub dropping a slow reader.
type Subscription struct {
	C     <-chan []byte
	c     chan []byte
	hub   *Hub
	since uint64
}

// Unsubscribe detaches the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	select {
	case s.hub.unregister <- s:
	case <-s.hub.done:
	}
}

type message struct {
	seq  uint64
	data []byte
}

type Hub struct {
	seq        atomic.Uint64
	subs       map[*Subscription]bool
	broadcast  chan message
	register   chan *Subscription
	unregister chan *Subscription
	done       chan struct{}
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs:       make(map[*Subscription]bool),
		broadcast:  make(chan message, defaultBuffer),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub event loop. It returns when ctx is cancelled, closing every
// remaining subscription.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for s := range h.subs {
			close(s.c)
			delete(h.subs, s)
		}
		metrics.FanoutSubscribers.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.register:
			h.subs[s] = true
			metrics.FanoutSubscribers.Set(float64(len(h.subs)))
			h.log.Debug("fanout: subscriber joined", "total", len(h.subs))

		case s := <-h.unregister:
			if h.subs[s] {
				delete(h.subs, s)
				close(s.c)
				metrics.FanoutSubscribers.Set(float64(len(h.subs)))
				h.log.Debug("fanout: subscriber left", "total", len(h.subs))
			}

		case msg := <-h.broadcast:
			for s := range h.subs {
				if msg.seq <= s.since {
					continue // queued before s subscribed
				}
				select {
				case s.c <- msg.data:
				default:
					close(s.c)
					delete(h.subs, s)
					metrics.FanoutDropped.Inc()
					h.log.Warn("fanout: dropped slow subscriber", "total", len(h.subs))
				}
			}
			metrics.FanoutSubscribers.Set(float64(len(h.subs)))
		}
	}
}

// Subscribe registers a new subscription. Every message published after it
// returns is delivered to it. A closed hub returns ErrHubClosed.
func (h *Hub) Subscribe() (*Subscription, error) {
	c := make(chan []byte, subscriberQueue)
	s := &Subscription{C: c, c: c, hub: h, since: h.seq.Load()}
	select {
	case h.register <- s:
		return s, nil
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Broadcast queues msg for every current subscriber without waiting for
// delivery. A full queue drops the message and returns ErrHubBusy.
func (h *Hub) Broadcast(msg []byte) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	m := message{seq: h.seq.Add(1), data: msg}
	select {
	case h.broadcast <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	default:
		return ErrHubBusy
	}
}

// Publish implements orders.Publisher.
func (h *Hub) Publish(ctx context.Context, ev orders.Envelope) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("fanout: marshal envelope: %w", err)
	}
	if err := h.Broadcast(b); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues("hub", ev.EventType).Inc()
	return nil
}
