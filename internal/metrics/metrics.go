package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"quizzana/internal/domain"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RoomTransitions *prometheus.CounterVec
	Joins           *prometheus.CounterVec
	Answers         *prometheus.CounterVec
	WSConnections   prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RoomTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quizzana",
				Name:      "room_transitions_total",
				Help:      "Room state transitions by target state",
			},
			[]string{"to"},
		),
		Joins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quizzana",
				Name:      "joins_total",
				Help:      "Join attempts by outcome",
			},
			[]string{"outcome"},
		),
		Answers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quizzana",
				Name:      "answers_total",
				Help:      "Answer submissions by outcome",
			},
			[]string{"outcome"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "quizzana",
				Name:      "ws_connections",
				Help:      "Open websocket connections",
			},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quizzana",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Outcome turns an error into a short label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrTransient):
		return "transient"
	}
	return "error"
}
