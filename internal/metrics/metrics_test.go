package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunsTotal.WithLabelValues("ok").Inc()
	m.AlertsTotal.WithLabelValues("Port Scan").Add(3)
	m.IncrementSinkErrors("nats")
	m.PatternsLast.Set(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("Port Scan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkPublishErrors.WithLabelValues("nats")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PatternsLast))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["threatdna_runs_total"])
	assert.True(t, names["threatdna_alerts_total"])
	assert.True(t, names["threatdna_patterns"])
}

func TestNop_Independent(t *testing.T) {
	a, b := Nop(), Nop()
	a.RowsTotal.Add(5)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RowsTotal))
}
