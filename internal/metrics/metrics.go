// Package metrics holds the Prometheus collectors of the order service and
// the registry they are exposed from.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cafeteria"

var (
	// Checkouts counts placement attempts by outcome:
	// "ok" | "replayed" | "validation" | "insufficient_stock" | "unknown_product" |
	// "duplicate" | "storage".
	Checkouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "checkouts_total",
		Help:      "Order placement attempts by outcome.",
	}, []string{"outcome"})

	StatusChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "status_changes_total",
		Help:      "Order status writes by target status.",
	}, []string{"status"})

	FanoutSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "fanout",
		Name:      "subscribers",
		Help:      "Viewers currently connected to the hub.",
	})

	// FanoutDropped counts subscribers cut off because their buffer was full.
	FanoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fanout",
		Name:      "dropped_subscribers_total",
		Help:      "Subscribers disconnected for falling behind.",
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events handed to a sink, by sink and event type.",
	}, []string{"sink", "event_type"})
)

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Checkouts,
		StatusChanges,
		FanoutSubscribers,
		FanoutDropped,
		EventsPublished,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
