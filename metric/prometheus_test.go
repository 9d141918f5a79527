package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/funk"
	"github.com/hupe1980/funk/testutil"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPrometheusCollector(reg, "")
	require.NoError(t, err)

	ws := testutil.NewWorkspace(t, 1<<20)
	s, err := funk.New(ws, 1, 0, 4, 16, funk.WithMetricsCollector(c))
	require.NoError(t, err)

	t1, err := s.Prepare(nil, funk.XIDFromUint64(1))
	require.NoError(t, err)
	_, err = s.Prepare(nil, funk.XIDFromUint64(2))
	require.NoError(t, err)
	_, err = s.Prepare(nil, funk.RootXID)
	require.Error(t, err)

	_, err = s.Insert(t1, funk.KeyFromUint64(1))
	require.NoError(t, err)

	n, err := s.Publish(t1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, s.Verify())

	assert.Equal(t, 2.0, promtestutil.ToFloat64(c.ops.WithLabelValues("prepare", "success")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.ops.WithLabelValues("prepare", "error")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.ops.WithLabelValues("insert", "success")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.ops.WithLabelValues("verify", "success")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.published))
	assert.Zero(t, promtestutil.ToFloat64(c.cancelled))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "funk_operation_latency_seconds")
	assert.Contains(t, names, "funk_published_transactions_total")
}

func TestPrometheusCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewPrometheusCollector(reg, "dup")
	require.NoError(t, err)

	_, err = NewPrometheusCollector(reg, "dup")
	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
}
