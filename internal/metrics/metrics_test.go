package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRefresh("success", 120*time.Millisecond)
	m.ObserveRefresh("success", 80*time.Millisecond)
	m.ObserveRefresh("terminal", time.Second)
	m.SharedRefresh()
	m.TokenRequest("ok")
	m.Reconnection()
	m.SweepAccount("refreshed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("terminal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sharedWaits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps.WithLabelValues("refreshed")))

	count, err := testutil.GatherAndCount(reg, "tokenkeeper_refresh_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRefresh("success", time.Second)
		m.SharedRefresh()
		m.TokenRequest("ok")
		m.Reconnection()
		m.SweepAccount("refreshed")
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	}, "independent instances must not collide")
}
