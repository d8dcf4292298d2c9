package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/placementplanner/internal/config"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.WithLabelValues(labels...).(prometheus.Metric).Write(m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.WithLabelValues(labels...).(prometheus.Metric).Write(m))
	return m.GetGauge().GetValue()
}

func TestObserveRunUpdatesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveRun("ilp", 2*time.Second, 0.8, 0.75)

	assert.Equal(t, 1.0, counterValue(t, c.RunsTotal, "ilp"))
	assert.Equal(t, 0.8, gaugeValue(t, c.Objective, "ilp"))
	assert.Equal(t, 0.75, gaugeValue(t, c.Goodput, "ilp"))
}

func TestObserveInfeasibleIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveInfeasible("search")
	c.ObserveInfeasible("search")

	assert.Equal(t, 2.0, counterValue(t, c.InfeasibleTotal, "search"))
}

func TestNewServerDisabledShutdownIsNoop(t *testing.T) {
	s := NewServer(config.MetricsConfig{Enabled: false, Listen: "127.0.0.1:0", Path: "/metrics"})
	s.Start()
	require.NoError(t, s.Shutdown(nil))
}
