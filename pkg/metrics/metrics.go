// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "girc_bridge"

// Metrics holds the collectors updated by the bridge.
type Metrics struct {
	// Bindings is the number of open remote sockets
	Bindings prometheus.Gauge

	// Envelopes counts translated envelopes by direction (in/out) and kind
	Envelopes *prometheus.CounterVec

	// Malformed counts inbound envelopes dropped for missing fields
	Malformed prometheus.Counter

	// TransportErrors counts dial, read and write failures on remote sockets
	TransportErrors prometheus.Counter

	// Heartbeats counts keepalive envelopes written
	Heartbeats prometheus.Counter
}

// New registers the bridge collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Bindings: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bindings",
			Help:      "Number of open remote channel sockets",
		}),
		Envelopes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_total",
				Help:      "Envelopes translated between IRC and the remote backend",
			},
			[]string{"direction", "kind"},
		),
		Malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_envelopes_total",
			Help:      "Inbound envelopes dropped because required fields were missing",
		}),
		TransportErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Failures on remote sockets",
		}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Keepalive envelopes written to remote sockets",
		}),
	}
}

// Handler serves the collectors of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
