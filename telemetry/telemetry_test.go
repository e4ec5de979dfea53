package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetCounters() {
	countersLock.Lock()
	counters = map[string]*prometheus.CounterVec{}
	countersLock.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncStepFileChanged("01_a.param")
	collector.IncParameterWrite("01_a.param", "ok")
	collector.AddValidationMismatches("01_a.param", 2)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	resetCounters()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncStepFileChanged("01_a.param")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metrics, 1)

	metric := metrics[0]
	require.Equal(t, "paramflow_step_file_changed_total", metric.GetName())
	requireCounterValue(t, metric, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.stepFileChanges, again.stepFileChanges)

	again.IncStepFileChanged("01_a.param")

	metrics, err = reg.Gather()
	require.NoError(t, err)
	requireCounterValue(t, metrics[0], 2)
}

func TestPrometheusCollectorReusesForeignRegistration(t *testing.T) {
	resetCounters()
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	resetCounters()
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.deviceResets, second.deviceResets)
}

func TestPrometheusCollectorUploadMetrics(t *testing.T) {
	resetCounters()
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncParameterWrite("02_b.param", "ok")
	collector.IncParameterWrite("02_b.param", "ok")
	collector.IncParameterWrite("02_b.param", "failed")
	collector.IncDeviceReset("ok")
	collector.AddValidationMismatches("02_b.param", 3)
	collector.AddValidationMismatches("02_b.param", 0)
	collector.IncUploadRetry("02_b.param")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		byName[mf.GetName()] = mf
	}
	require.Len(t, byName["paramflow_parameter_writes_total"].Metric, 2)
	requireCounterValue(t, byName["paramflow_device_resets_total"], 1)
	requireCounterValue(t, byName["paramflow_validation_mismatches_total"], 3)
	requireCounterValue(t, byName["paramflow_upload_retries_total"], 1)
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
