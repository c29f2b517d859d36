// Package prometheus implements pkg/metrics interfaces with the Prometheus
// client. Importing it registers the constructors used by pkg/metrics.
package prometheus

import (
	"sync"
	"time"

	"github.com/marmos91/dittoauth/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	metrics.RegisterAuthMetricsConstructor(NewAuthMetrics)
}

// authMetrics is the Prometheus implementation of metrics.AuthMetrics.
type authMetrics struct {
	resolveTotal    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	dispatchTotal   *prometheus.CounterVec
	initTotal       *prometheus.CounterVec
}

var (
	sharedMu  sync.Mutex
	shared    *authMetrics
	sharedReg *prometheus.Registry
)

// NewAuthMetrics returns the Prometheus-backed AuthMetrics for the current
// registry, creating and registering its collectors on first use.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewAuthMetrics() metrics.AuthMetrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil && sharedReg == reg {
		return shared
	}

	m := newAuthMetrics()
	reg.MustRegister(m.resolveTotal, m.resolveDuration, m.dispatchTotal, m.initTotal)
	shared, sharedReg = m, reg
	return m
}

func newAuthMetrics() *authMetrics {
	return &authMetrics{
		resolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoauth_resolve_total",
				Help: "Total number of mechanism resolution attempts by type and outcome",
			},
			[]string{"auth_type", "outcome"},
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoauth_resolve_duration_milliseconds",
				Help: "Duration of mechanism resolution (scan + bind) in milliseconds",
				Buckets: []float64{
					0.1, // builtin, already indexed
					1,
					5,
					25,
					100, // directory scan with plugin opens
					500,
					2500,
				},
			},
			[]string{"auth_type"},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoauth_dispatch_total",
				Help: "Total number of dispatched credential operations by type, operation and outcome",
			},
			[]string{"auth_type", "operation", "outcome"},
		),
		initTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoauth_init_total",
				Help: "Total number of process-wide context initializations by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *authMetrics) ObserveResolve(authType string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(authType, outcome).Inc()
	m.resolveDuration.WithLabelValues(authType).Observe(float64(duration) / float64(time.Millisecond))
}

func (m *authMetrics) ObserveDispatch(authType string, operation string, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(authType, operation, outcome).Inc()
}

func (m *authMetrics) ObserveInit(outcome string) {
	if m == nil {
		return
	}
	m.initTotal.WithLabelValues(outcome).Inc()
}
