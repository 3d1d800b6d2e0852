package metrics_test

import (
	"testing"

	"github.com/jrsteele09/choirapp/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAuthMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAuthMetrics(reg)

	m.LoginStarted()
	m.Callback(metrics.ResultSuccess)
	m.Callback(metrics.ResultFailure)
	m.Callback(metrics.ResultFailure)

	require.Equal(t, 1.0, testutil.ToFloat64(m.LoginsStarted))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Callbacks.WithLabelValues(metrics.ResultFailure)))

	count, err := testutil.GatherAndCount(reg, "choirapp_auth_callbacks_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestNilAuthMetrics(t *testing.T) {
	var m *metrics.AuthMetrics
	require.NotPanics(t, func() {
		m.LoginStarted()
		m.Renewal(metrics.ResultFailure)
		m.Logout(metrics.ResultSuccess)
		m.Restore(metrics.ResultEmpty)
	})
}
