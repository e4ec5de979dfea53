package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/paramflow/dsl"
	"github.com/timzifer/paramflow/internal/reload"
	"github.com/timzifer/paramflow/runtime/device"
	"github.com/timzifer/paramflow/runtime/interaction"
	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
	"github.com/timzifer/paramflow/telemetry"
)

// Dependencies are the collaborators a session works with. Progress, Journal
// and Telemetry are optional.
type Dependencies struct {
	Storage     storage.Storage
	Device      device.Client
	Interaction interaction.Interaction
	Progress    ProgressStore
	Journal     Journal
	Telemetry   telemetry.Collector
}

// Options tune a session.
type Options struct {
	Upload            UploadOptions
	OptionalThreshold int
	AlwaysOptional    []string
	Translate         Translator
	DeviceProgress    device.ProgressFunc
	StateObserver     func(UploadState)
}

// StepInfo describes the active step.
type StepInfo struct {
	File          string
	Description   string
	MandatoryText string
	Optional      bool
	Phase         string
	AutoChangedBy string
	// ForcedError is set while a forced parameter of the step is unresolved.
	// Such a step shows its file values and cannot be uploaded.
	ForcedError error
}

// Session owns the active step's parameter set and drives resolution,
// editing, saving, uploading and navigation. It is not safe for concurrent
// use.
type Session struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger

	evaluator    *dsl.Evaluator
	resolver     *Resolver
	builder      *Builder
	navigator    *Navigator
	orchestrator *Orchestrator
	watcher      *reload.Watcher

	current   string
	step      storage.Step
	set       *ParameterSet
	dirty     *DirtyTracker
	forcedErr error
}

// NewSession wires a session.
func NewSession(deps Dependencies, opts Options, logger zerolog.Logger) (*Session, error) {
	if deps.Storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if deps.Device == nil {
		return nil, errors.New("device client must not be nil")
	}
	if deps.Interaction == nil {
		return nil, errors.New("interaction must not be nil")
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Noop()
	}
	evaluator := dsl.New(logger)
	watcher, err := reload.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &Session{
		deps:      deps,
		opts:      opts,
		logger:    logger.With().Str("component", "session").Logger(),
		evaluator: evaluator,
		resolver:  NewResolver(evaluator, deps.Storage, opts.Translate, logger),
		builder:   NewBuilder(deps.Storage, logger),
		navigator: NewNavigator(deps.Storage, deps.Interaction, opts.AlwaysOptional, logger),
		orchestrator: NewOrchestrator(deps.Device, deps.Storage, deps.Interaction, deps.Progress, deps.Journal, deps.Telemetry, opts.Upload, logger,
			WithDeviceProgress(opts.DeviceProgress), WithStateObserver(opts.StateObserver)),
		watcher: watcher,
		dirty:   NewDirtyTracker(),
	}
	return s, nil
}

// Evaluator returns the expression evaluator.
func (s *Session) Evaluator() *dsl.Evaluator { return s.evaluator }

// Navigator returns the step navigator.
func (s *Session) Navigator() *Navigator { return s.navigator }

// Resolver returns the forced and derived parameter resolver.
func (s *Session) Resolver() *Resolver { return s.resolver }

// Current returns the active step, or "" before the first Open.
func (s *Session) Current() string { return s.current }

// Parameters returns the active parameter set.
func (s *Session) Parameters() *ParameterSet { return s.set }

// Dirty returns the dirty-state tracker.
func (s *Session) Dirty() *DirtyTracker { return s.dirty }

// Open makes file the active step. Unsaved changes of the previous step are
// saved when the operator agrees and discarded otherwise. A forced parameter
// that cannot be computed is reported and keeps its file value; the step is
// incomplete until it is reopened with the missing inputs.
func (s *Session) Open(file string) error {
	step, ok := s.deps.Storage.Step(file)
	if !ok {
		return fmt.Errorf("%s: %w", file, ErrUnknownStep)
	}
	values, err := s.deps.Storage.ParametersForFile(file)
	if err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}

	if s.set != nil && s.HasUnsavedChanges() {
		if s.deps.Interaction.AskConfirmation("Unsaved changes", fmt.Sprintf("Save the changes to %s before leaving it?", s.current)) {
			if err := s.Save(); err != nil {
				return err
			}
		} else {
			s.logger.Info().Str("step", s.current).Msg("unsaved changes discarded")
		}
	}

	connected := s.deps.Device.IsConnected()
	bindings := s.Bindings(values)
	forcedErr := s.resolver.Resolve(step, KindForced, bindings, connected)
	forced := s.resolver.Resolved(file, KindForced)
	if forcedErr != nil {
		s.deps.Interaction.ReportError("Forced parameter", forcedErr.Error())
		s.logger.Warn().Err(forcedErr).Str("step", file).Msg("forced parameters keep their file values")
		forced = params.NewDict()
	}
	if err := s.resolver.Resolve(step, KindDerived, bindings, connected); err != nil {
		s.logger.Warn().Err(err).Str("step", file).Msg("derived parameters not resolved")
	}

	var deviceValues map[string]float64
	if connected {
		deviceValues = s.deps.Device.CachedParameters()
	}

	s.dirty.Reset()
	s.set = s.builder.build(buildInput{
		step:    step,
		file:    values,
		forced:  forced,
		derived: s.resolver.Resolved(file, KindDerived),
		device:  deviceValues,
		renames: s.renames(step, values, bindings),
	}, s.dirty)
	s.current = file
	s.step = step
	s.forcedErr = forcedErr
	if err := s.watcher.Update(s.deps.Storage.PathFor(file)); err != nil {
		s.logger.Warn().Err(err).Msg("cannot watch step file")
	}
	if step.AutoChangedBy != "" {
		s.deps.Interaction.ReportInfo("External tool", fmt.Sprintf("Parameters of %s are changed by %s. Use that tool to edit them.", file, step.AutoChangedBy))
	}
	s.logger.Info().Str("step", file).Int("parameters", s.set.Len()).Msg("step opened")
	return nil
}

// Bindings returns the expression bindings for the active step's file values.
func (s *Session) Bindings(file *params.Dict) dsl.Bindings {
	docs := make(map[string]interface{})
	names := file.Names()
	names = append(names, s.declaredNames()...)
	for _, name := range names {
		if doc := s.deps.Storage.DocumentationFor(name); doc != nil {
			docs[name] = doc.Binding()
		}
	}
	bindings := dsl.Bindings{
		dsl.DocBinding:        docs,
		dsl.ComponentsBinding: s.deps.Storage.Components(),
		dsl.FileBinding:       file.Values(),
	}
	if s.deps.Device.IsConnected() {
		bindings[dsl.DeviceBinding] = s.deps.Device.CachedParameters()
	} else {
		bindings[dsl.DeviceBinding] = map[string]float64{}
	}
	return bindings
}

func (s *Session) declaredNames() []string {
	var names []string
	for _, file := range s.deps.Storage.StepFiles() {
		step, _ := s.deps.Storage.Step(file)
		for name := range step.ForcedParameters {
			names = append(names, name)
		}
		for name := range step.DerivedParameters {
			names = append(names, name)
		}
	}
	return names
}

func (s *Session) renames(step storage.Step, values *params.Dict, bindings dsl.Bindings) map[string]string {
	if strings.TrimSpace(step.RenameConnection) == "" {
		return nil
	}
	result, err := s.evaluator.Evaluate(step.RenameConnection, bindings)
	if err != nil {
		s.logger.Warn().Err(err).Str("step", step.File).Msg("connection rename skipped")
		return nil
	}
	if !result.IsText {
		s.logger.Warn().Str("step", step.File).Str("result", result.String()).Msg("connection rename expression must produce a prefix")
		return nil
	}
	return connectionRenames(result.Text, values.Names())
}

// Info describes the active step.
func (s *Session) Info() StepInfo {
	info := StepInfo{
		File:          s.current,
		Description:   s.step.Description,
		MandatoryText: s.deps.Storage.MandatoryPercentageTextFor(s.current),
		Optional:      s.navigator.IsOptional(s.current, s.opts.OptionalThreshold),
		AutoChangedBy: s.step.AutoChangedBy,
		ForcedError:   s.forcedErr,
	}
	if phase, ok := s.navigator.PhaseFor(s.current); ok {
		info.Phase = phase.Name
	}
	return info
}

// SetValue changes the pending value of an editable parameter.
func (s *Session) SetValue(name string, value float64) error {
	if s.set == nil {
		return ErrNoActiveStep
	}
	return s.set.SetNewValue(name, value)
}

// SetChangeReason changes the pending change reason of an editable parameter.
func (s *Session) SetChangeReason(name, reason string) error {
	if s.set == nil {
		return ErrNoActiveStep
	}
	return s.set.SetChangeReason(name, reason)
}

// AddParameter adds name to the active step. When connected the device must
// know the parameter, otherwise the documentation must.
func (s *Session) AddParameter(name string) error {
	if s.set == nil {
		return ErrNoActiveStep
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &InvalidParameterNameError{Reason: "parameter name can not be empty"}
	}
	if _, exists := s.set.Get(name); exists {
		return &InvalidParameterNameError{Name: name, Reason: "parameter already exists, edit it instead"}
	}
	if !params.ValidName(name) {
		return &InvalidParameterNameError{Name: name, Reason: "not a valid parameter name"}
	}
	if p, ok := s.set.restore(name); ok {
		s.dirty.RecordAdd(name)
		s.logger.Info().Str("parameter", p.Name).Msg("parameter restored")
		return nil
	}

	var value float64
	switch {
	case s.deps.Device.IsConnected():
		v, ok := s.deps.Device.CachedParameters()[name]
		if !ok {
			return &InvalidParameterNameError{Name: name, Reason: "the flight controller does not have this parameter"}
		}
		value = v
	case s.deps.Storage.DocumentationFor(name) != nil:
		if def, ok := s.deps.Storage.DefaultValueFor(name); ok {
			value = def
		}
	default:
		return &OperationNotPossibleError{
			Operation: "adding " + name,
			Reason:    "connect to a flight controller or provide parameter documentation",
		}
	}

	p := params.NewParameter(name, params.Value{Value: value})
	p.Doc = s.deps.Storage.DocumentationFor(name)
	if v, ok := s.deps.Device.CachedParameters()[name]; ok && s.deps.Device.IsConnected() {
		dev := v
		p.DeviceValue = &dev
	}
	if def, ok := s.deps.Storage.DefaultValueFor(name); ok {
		p.DefaultValue = &def
	}
	s.set.insert(p)
	s.dirty.RecordAdd(name)
	s.logger.Info().Str("parameter", name).Msg("parameter added")
	return nil
}

// DeleteParameter removes name from the active step.
func (s *Session) DeleteParameter(name string) error {
	if s.set == nil {
		return ErrNoActiveStep
	}
	if _, ok := s.set.remove(name); !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownParameter)
	}
	s.dirty.RecordDelete(name)
	s.logger.Info().Str("parameter", name).Msg("parameter deleted")
	return nil
}

// HasUnsavedChanges reports whether the active step differs from its file.
func (s *Session) HasUnsavedChanges() bool {
	return s.dirty.HasUnsavedChanges(s.set)
}

// Save writes the active step. A file modified by someone else since it was
// opened is only overwritten when the operator confirms.
func (s *Session) Save() error {
	if s.set == nil {
		return ErrNoActiveStep
	}
	changed, err := s.watcher.Check()
	if err != nil {
		return err
	}
	if len(changed) > 0 {
		for _, path := range changed {
			s.deps.Telemetry.IncStepFileChanged(path)
		}
		msg := fmt.Sprintf("%s was modified outside of this session. Overwrite it?", s.current)
		if !s.deps.Interaction.AskConfirmation("File changed", msg) {
			return &OperationNotPossibleError{Operation: "saving " + s.current, Reason: "the file was modified externally"}
		}
	}
	if err := s.deps.Storage.WriteParameters(s.current, s.set.Dict()); err != nil {
		return fmt.Errorf("save %s: %w", s.current, err)
	}
	s.dirty.Committed(s.set)
	if err := s.watcher.Update(s.deps.Storage.PathFor(s.current)); err != nil {
		s.logger.Warn().Err(err).Msg("cannot watch step file")
	}
	s.logger.Info().Str("step", s.current).Msg("step saved")
	return nil
}

// Upload sends the named parameters of the active step to the flight
// controller. No names selects every parameter.
func (s *Session) Upload(ctx context.Context, names ...string) (*UploadResult, error) {
	if s.set == nil {
		return nil, ErrNoActiveStep
	}
	if s.forcedErr != nil {
		return nil, &OperationNotPossibleError{Operation: "uploading", Reason: "forced parameters of " + s.current + " are unresolved", Err: s.forcedErr}
	}
	var selected []*params.Parameter
	if len(names) == 0 {
		s.set.Each(func(p *params.Parameter) { selected = append(selected, p) })
	} else {
		for _, name := range names {
			p, ok := s.set.Get(name)
			if !ok {
				return nil, fmt.Errorf("%s: %w", name, ErrUnknownParameter)
			}
			selected = append(selected, p)
		}
	}
	result, err := s.orchestrator.Upload(ctx, UploadRequest{Step: s.current, Selected: selected, Active: s.set})
	s.refreshDeviceValues()
	return result, err
}

func (s *Session) refreshDeviceValues() {
	if s.set == nil || !s.deps.Device.IsConnected() {
		return
	}
	values := s.deps.Device.CachedParameters()
	s.set.Each(func(p *params.Parameter) {
		if v, ok := values[p.Name]; ok {
			dev := v
			p.DeviceValue = &dev
		} else {
			p.DeviceValue = nil
		}
	})
}

// Next returns the step to continue with: the next step that is not
// completely optional, or a jump target of it the operator accepted.
func (s *Session) Next() (string, bool) {
	if s.current == "" {
		return "", false
	}
	next, ok := s.navigator.NextNonOptional(s.current)
	if !ok {
		return "", false
	}
	return s.navigator.ResolveJump(next), true
}

// Advance opens the step returned by Next.
func (s *Session) Advance() (string, error) {
	next, ok := s.Next()
	if !ok {
		return "", &OperationNotPossibleError{Operation: "advancing", Reason: "no further configuration step"}
	}
	if err := s.Open(next); err != nil {
		return "", err
	}
	return next, nil
}
