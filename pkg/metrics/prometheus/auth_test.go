package prometheus

import (
	"testing"
	"time"

	"github.com/marmos91/dittoauth/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthMetrics_DisabledReturnsNil(t *testing.T) {
	metrics.ResetRegistry()
	assert.Nil(t, NewAuthMetrics())
	assert.Nil(t, metrics.NewAuthMetrics())
}

func TestAuthMetrics_Records(t *testing.T) {
	metrics.ResetRegistry()
	reg := metrics.InitRegistry()
	t.Cleanup(metrics.ResetRegistry)

	am := metrics.NewAuthMetrics()
	require.NotNil(t, am)
	assert.Same(t, am, NewAuthMetrics(), "one collector set per registry")

	am.ObserveResolve("auth/none", metrics.OutcomeOK, 2*time.Millisecond)
	am.ObserveResolve("auth/missing", metrics.OutcomeNotFound, time.Millisecond)
	am.ObserveDispatch("auth/none", "auth_verify", metrics.OutcomeOK)
	am.ObserveDispatch("auth/none", "auth_verify", metrics.OutcomeOK)
	am.ObserveInit(metrics.OutcomeOK)

	m := am.(*authMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolveTotal.WithLabelValues("auth/missing", metrics.OutcomeNotFound)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("auth/none", "auth_verify", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.initTotal.WithLabelValues(metrics.OutcomeOK)))

	n, err := testutil.GatherAndCount(reg, "dittoauth_resolve_duration_milliseconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAuthMetrics_NilReceiver(t *testing.T) {
	var m *authMetrics
	assert.NotPanics(t, func() {
		m.ObserveResolve("auth/none", metrics.OutcomeOK, time.Millisecond)
		m.ObserveDispatch("auth/none", "auth_alloc", metrics.OutcomeOK)
		m.ObserveInit(metrics.OutcomeError)
	})
}
