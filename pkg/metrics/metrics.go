// Package metrics provides Prometheus instrumentation for shadow and
// telemetry connections. Metrics are diagnostic only and never drive
// reconnection decisions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shadowsync-protocol/shadowsync-go/pkg/connection"
)

// Metrics holds the Prometheus metrics for all supervised connections.
// One instance serves any number of devices; series are labeled by
// device id.
type Metrics struct {
	reg prometheus.Registerer

	// ConnectionStatus is the coarse status per device
	// (0=disconnected, 1=connecting, 2=connected).
	ConnectionStatus *prometheus.GaugeVec

	// StateTransitions counts lifecycle transitions per device and
	// target state.
	StateTransitions *prometheus.CounterVec

	// Reconnects counts entries into backoff per device.
	Reconnects *prometheus.CounterVec

	// AuthFailures counts credential rejections per device.
	AuthFailures *prometheus.CounterVec
}

// New creates the metric set. A nil registerer uses the default registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "shadowsync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ConnectionStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_status",
				Help:      "Coarse connection status (0=disconnected, 1=connecting, 2=connected)",
			},
			[]string{"device"},
		),
		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of connection state transitions",
			},
			[]string{"device", "to"},
		),
		Reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total number of reconnection attempts scheduled",
			},
			[]string{"device"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of credential rejections",
			},
			[]string{"device"},
		),
	}
}

// StateHook returns an OnStateChange callback feeding the metrics for one
// device.
func (m *Metrics) StateHook(device string) func(old, new connection.State) {
	return func(old, new connection.State) {
		m.StateTransitions.WithLabelValues(device, new.String()).Inc()
		if new == connection.StateBackoff {
			m.Reconnects.WithLabelValues(device).Inc()
		}

		var status float64
		switch new {
		case connection.StateStreaming:
			status = 2
		case connection.StateConnecting, connection.StateHandshaking,
			connection.StateSubscribing, connection.StateBackoff:
			status = 1
		}
		m.ConnectionStatus.WithLabelValues(device).Set(status)
	}
}

// AuthHook returns an OnAuthError callback feeding the metrics for one
// device.
func (m *Metrics) AuthHook(device string) func(err error) {
	return func(err error) {
		m.AuthFailures.WithLabelValues(device).Inc()
	}
}

// RegisterLiveness registers a seconds-since-last-data gauge for one
// device. lastData returns the zero time while no data has arrived; the
// gauge reports -1 in that case.
func (m *Metrics) RegisterLiveness(namespace, device string, lastData func() time.Time) error {
	if namespace == "" {
		namespace = "shadowsync"
	}
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "seconds_since_last_data",
			Help:        "Seconds since device data last arrived (-1 before any data)",
			ConstLabels: prometheus.Labels{"device": device},
		},
		func() float64 {
			t := lastData()
			if t.IsZero() {
				return -1
			}
			return time.Since(t).Seconds()
		},
	)
	return m.reg.Register(gauge)
}
