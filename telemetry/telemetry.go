package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the synchronization engine.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with every parameter write.
type Collector interface {
	IncStepFileChanged(file string)
	IncParameterWrite(step, outcome string)
	IncDeviceReset(outcome string)
	AddValidationMismatches(step string, count int)
	IncUploadRetry(step string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncStepFileChanged(string)            {}
func (noopCollector) IncParameterWrite(string, string)     {}
func (noopCollector) IncDeviceReset(string)                {}
func (noopCollector) AddValidationMismatches(string, int) {}
func (noopCollector) IncUploadRetry(string)                {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	stepFileChanges *prometheus.CounterVec
	parameterWrites *prometheus.CounterVec
	deviceResets    *prometheus.CounterVec
	mismatches      *prometheus.CounterVec
	uploadRetries   *prometheus.CounterVec
}

var (
	countersLock sync.Mutex
	counters     = map[string]*prometheus.CounterVec{}
)

type counterSpec struct {
	name   string
	help   string
	labels []string
}

var (
	stepFileChangedSpec = counterSpec{
		name:   "paramflow_step_file_changed_total",
		help:   "Number of external modifications detected per step file.",
		labels: []string{"file"},
	}
	parameterWriteSpec = counterSpec{
		name:   "paramflow_parameter_writes_total",
		help:   "Number of parameter writes sent to the flight controller by outcome.",
		labels: []string{"step", "outcome"},
	}
	deviceResetSpec = counterSpec{
		name:   "paramflow_device_resets_total",
		help:   "Number of flight controller reset and reconnect cycles by outcome.",
		labels: []string{"outcome"},
	}
	mismatchSpec = counterSpec{
		name:   "paramflow_validation_mismatches_total",
		help:   "Number of parameters whose device value differed after upload.",
		labels: []string{"step"},
	}
	uploadRetrySpec = counterSpec{
		name:   "paramflow_upload_retries_total",
		help:   "Number of operator confirmed upload retries.",
		labels: []string{"step"},
	}
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	countersLock.Lock()
	defer countersLock.Unlock()

	collector := &PrometheusCollector{}
	targets := []struct {
		spec counterSpec
		dst  **prometheus.CounterVec
	}{
		{stepFileChangedSpec, &collector.stepFileChanges},
		{parameterWriteSpec, &collector.parameterWrites},
		{deviceResetSpec, &collector.deviceResets},
		{mismatchSpec, &collector.mismatches},
		{uploadRetrySpec, &collector.uploadRetries},
	}
	for _, target := range targets {
		counter, err := registerCounter(reg, target.spec)
		if err != nil {
			return nil, err
		}
		*target.dst = counter
	}
	return collector, nil
}

func registerCounter(reg prometheus.Registerer, spec counterSpec) (*prometheus.CounterVec, error) {
	if existing, ok := counters[spec.name]; ok {
		return existing, nil
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: spec.name,
		Help: spec.help,
	}, spec.labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		counter = existing
	}
	counters[spec.name] = counter
	return counter, nil
}

// IncStepFileChanged counts an external modification of a step file.
func (p *PrometheusCollector) IncStepFileChanged(file string) {
	if p == nil || p.stepFileChanges == nil {
		return
	}
	p.stepFileChanges.WithLabelValues(file).Inc()
}

// IncParameterWrite counts a single parameter write.
func (p *PrometheusCollector) IncParameterWrite(step, outcome string) {
	if p == nil || p.parameterWrites == nil {
		return
	}
	p.parameterWrites.WithLabelValues(step, outcome).Inc()
}

// IncDeviceReset counts a reset and reconnect cycle.
func (p *PrometheusCollector) IncDeviceReset(outcome string) {
	if p == nil || p.deviceResets == nil {
		return
	}
	p.deviceResets.WithLabelValues(outcome).Inc()
}

// AddValidationMismatches records parameters that failed post upload validation.
func (p *PrometheusCollector) AddValidationMismatches(step string, count int) {
	if p == nil || p.mismatches == nil || count <= 0 {
		return
	}
	p.mismatches.WithLabelValues(step).Add(float64(count))
}

// IncUploadRetry counts an operator confirmed retry.
func (p *PrometheusCollector) IncUploadRetry(step string) {
	if p == nil || p.uploadRetries == nil {
		return
	}
	p.uploadRetries.WithLabelValues(step).Inc()
}
