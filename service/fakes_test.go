package service

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"github.com/timzifer/paramflow/runtime/device"
	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
)

type memoryStorage struct {
	dir        string
	files      []string
	values     map[string]*params.Dict
	steps      map[string]storage.Step
	docs       map[string]*params.Documentation
	defaults   map[string]float64
	components map[string]interface{}
	phases     []storage.Phase
	exports    map[string]*params.Dict
	writes     map[string]*params.Dict
}

func newMemoryStorage(files ...string) *memoryStorage {
	m := &memoryStorage{
		values:     make(map[string]*params.Dict),
		steps:      make(map[string]storage.Step),
		docs:       make(map[string]*params.Documentation),
		defaults:   make(map[string]float64),
		components: map[string]interface{}{},
		exports:    make(map[string]*params.Dict),
		writes:     make(map[string]*params.Dict),
	}
	for _, file := range files {
		m.addStep(storage.Step{File: file}, params.NewDict())
	}
	return m
}

func (m *memoryStorage) addStep(step storage.Step, values *params.Dict) {
	if _, ok := m.steps[step.File]; !ok {
		m.files = append(m.files, step.File)
		sort.Strings(m.files)
	}
	m.steps[step.File] = step
	m.values[step.File] = values
}

func (m *memoryStorage) StepFiles() []string {
	out := make([]string, len(m.files))
	copy(out, m.files)
	return out
}

func (m *memoryStorage) ParametersForFile(id string) (*params.Dict, error) {
	d, ok := m.values[id]
	if !ok {
		return nil, errors.New("no such file")
	}
	return d.Clone(), nil
}

func (m *memoryStorage) WriteParameters(id string, values *params.Dict) error {
	m.values[id] = values.Clone()
	m.writes[id] = values.Clone()
	return nil
}

func (m *memoryStorage) PathFor(id string) string {
	if m.dir == "" {
		return ""
	}
	return filepath.Join(m.dir, id)
}

func (m *memoryStorage) Step(id string) (storage.Step, bool) {
	step, ok := m.steps[id]
	return step, ok
}

func (m *memoryStorage) DocumentationFor(name string) *params.Documentation {
	return m.docs[name]
}

func (m *memoryStorage) DefaultValueFor(name string) (float64, bool) {
	v, ok := m.defaults[name]
	return v, ok
}

func (m *memoryStorage) ExportParameters(values *params.Dict, destination string, annotate bool) error {
	m.exports[destination] = values.Clone()
	return nil
}

func (m *memoryStorage) JumpTargetsFor(id string) []storage.JumpTarget {
	return m.steps[id].JumpPossible
}

func (m *memoryStorage) MandatoryPercentageTextFor(id string) string {
	return m.steps[id].MandatoryText
}

func (m *memoryStorage) Components() map[string]interface{} { return m.components }

func (m *memoryStorage) Phases() []storage.Phase { return m.phases }

type fakeDevice struct {
	connected  bool
	values     map[string]float64
	cache      map[string]float64
	failWrites map[string]bool
	failReset  bool
	// ignoreWrites are accepted but never change the device value.
	ignoreWrites map[string]bool

	writes    []string
	resets    int
	settle    []int
	downloads int
	// events records writes and resets in call order.
	events []string
}

func newFakeDevice(values map[string]float64) *fakeDevice {
	d := &fakeDevice{
		connected:    true,
		values:       make(map[string]float64),
		cache:        make(map[string]float64),
		failWrites:   make(map[string]bool),
		ignoreWrites: make(map[string]bool),
	}
	for k, v := range values {
		d.values[k] = v
		d.cache[k] = v
	}
	return d
}

func (d *fakeDevice) IsConnected() bool { return d.connected }

func (d *fakeDevice) CachedParameters() map[string]float64 {
	if !d.connected {
		return nil
	}
	out := make(map[string]float64, len(d.cache))
	for k, v := range d.cache {
		out[k] = v
	}
	return out
}

func (d *fakeDevice) SetParameter(_ context.Context, name string, value float64) error {
	d.writes = append(d.writes, name)
	d.events = append(d.events, "write "+name)
	if d.failWrites[name] {
		return errors.New("write rejected")
	}
	if d.ignoreWrites[name] {
		return nil
	}
	d.values[name] = value
	d.cache[name] = value
	return nil
}

func (d *fakeDevice) ResetAndReconnect(_ context.Context, _ device.ProgressFunc, settleSeconds int) error {
	d.settle = append(d.settle, settleSeconds)
	if d.failReset {
		return errors.New("no heartbeat")
	}
	d.resets++
	d.events = append(d.events, "reset")
	d.cache = make(map[string]float64)
	return nil
}

func (d *fakeDevice) DownloadParameters(_ context.Context, progress device.ProgressFunc) (map[string]float64, map[string]float64, error) {
	d.downloads++
	d.cache = make(map[string]float64, len(d.values))
	for k, v := range d.values {
		d.cache[k] = v
	}
	if progress != nil {
		progress(len(d.values), len(d.values))
	}
	return d.CachedParameters(), nil, nil
}

type recordingInteraction struct {
	confirm    bool
	retries    int
	simple     bool
	asked      []string
	retryAsked int
	errors     []string
	infos      []string
}

func (r *recordingInteraction) AskConfirmation(title, _ string) bool {
	r.asked = append(r.asked, title)
	return r.confirm
}

func (r *recordingInteraction) AskRetryOrCancel(_, _ string) bool {
	r.retryAsked++
	return r.retryAsked <= r.retries
}

func (r *recordingInteraction) ReportError(title, _ string) { r.errors = append(r.errors, title) }

func (r *recordingInteraction) ReportInfo(title, _ string) { r.infos = append(r.infos, title) }

func (r *recordingInteraction) Simple() bool { return r.simple }

type memoryProgress struct {
	completed []string
}

func (m *memoryProgress) MarkCompleted(step string) error {
	m.completed = append(m.completed, step)
	return nil
}

func (m *memoryProgress) LastCompleted() (string, bool) {
	if len(m.completed) == 0 {
		return "", false
	}
	return m.completed[len(m.completed)-1], true
}

func dict(pairs ...interface{}) *params.Dict {
	d := params.NewDict()
	for i := 0; i+1 < len(pairs); i += 2 {
		d.Set(pairs[i].(string), params.Value{Value: toFloat(pairs[i+1])})
	}
	return d
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	panic("unsupported value")
}
