package metrics

import "time"

// Outcome labels shared by auth metrics.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeIncomplete  = "incomplete"
	OutcomeUnavailable = "unavailable"
	OutcomeMismatch    = "mismatch"
	OutcomeError       = "error"
)

// AuthMetrics provides observability for mechanism resolution and dispatch.
//
// This interface is optional - pass nil to disable metrics collection.
//
// Example usage:
//
//	metrics.InitRegistry()
//	ctx, err := auth.NewContext("auth/jwt", auth.WithMetrics(metrics.NewAuthMetrics()))
type AuthMetrics interface {
	// ObserveResolve records one resolution attempt of an auth context.
	//
	// Parameters:
	//   - authType: Mechanism type being resolved (e.g., "auth/none")
	//   - outcome: One of the Outcome* labels
	//   - duration: Time spent scanning and binding
	ObserveResolve(authType string, outcome string, duration time.Duration)

	// ObserveDispatch records one dispatched operation.
	//
	// Parameters:
	//   - authType: Mechanism type of the context
	//   - operation: Canonical operation name (e.g., "auth_verify")
	//   - outcome: One of the Outcome* labels
	ObserveDispatch(authType string, operation string, outcome string)

	// ObserveInit records one slow-path initialization of the process-wide
	// context.
	ObserveInit(outcome string)
}

// NewAuthMetrics creates a Prometheus-backed AuthMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called) or no
// implementation has been linked in (import pkg/metrics/prometheus).
func NewAuthMetrics() AuthMetrics {
	if !IsEnabled() || newPrometheusAuthMetrics == nil {
		return nil
	}
	return newPrometheusAuthMetrics()
}

// newPrometheusAuthMetrics is set by pkg/metrics/prometheus at init time.
var newPrometheusAuthMetrics func() AuthMetrics

// RegisterAuthMetricsConstructor registers the Prometheus auth metrics constructor.
func RegisterAuthMetricsConstructor(constructor func() AuthMetrics) {
	newPrometheusAuthMetrics = constructor
}
