// Package metrics exports gateway events as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/custodia-labs/integration-gateway/internal/core/domain"
	"github.com/custodia-labs/integration-gateway/internal/core/ports/driven"
)

// Ensure Observer implements EventObserver at compile time
var _ driven.EventObserver = (*Observer)(nil)

// Observer turns events into counters and histograms. Labels stay low
// cardinality: tenant and connection ids are never used.
type Observer struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ConnectionsChanged *prometheus.CounterVec
	OAuth2EventsTotal  *prometheus.CounterVec
}

// NewObserver registers the gateway metrics on reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Outbound requests dispatched through connections",
			},
			[]string{"result", "status_class"}, // succeeded|failed, 2xx..5xx|none
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Time spent on outbound requests including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		ConnectionsChanged: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_connection_changes_total",
				Help: "Connection lifecycle changes",
			},
			[]string{"operation"}, // created, updated, deleted
		),
		OAuth2EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_oauth2_events_total",
				Help: "OAuth2 connection lifecycle events",
			},
			[]string{"event"}, // connected, refreshed, revoked
		),
	}
}

// Notify records one event.
func (o *Observer) Notify(_ context.Context, e domain.Event) {
	switch e.Type {
	case domain.EventRequestSucceeded, domain.EventRequestFailed:
		result := "succeeded"
		if e.Type == domain.EventRequestFailed {
			result = "failed"
		}
		o.RequestsTotal.WithLabelValues(result, statusClass(e.StatusCode)).Inc()
		o.RequestDuration.WithLabelValues(result).Observe(e.Duration.Seconds())
	case domain.EventConnectionCreated:
		o.ConnectionsChanged.WithLabelValues("created").Inc()
	case domain.EventConnectionUpdated:
		o.ConnectionsChanged.WithLabelValues("updated").Inc()
	case domain.EventConnectionDeleted:
		o.ConnectionsChanged.WithLabelValues("deleted").Inc()
	case domain.EventOAuth2Connected:
		o.OAuth2EventsTotal.WithLabelValues("connected").Inc()
	case domain.EventOAuth2Refreshed:
		o.OAuth2EventsTotal.WithLabelValues("refreshed").Inc()
	case domain.EventOAuth2Revoked:
		o.OAuth2EventsTotal.WithLabelValues("revoked").Inc()
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "none"
	}
	return strconv.Itoa(code/100) + "xx"
}
