package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/paramflow/runtime/device"
	"github.com/timzifer/paramflow/runtime/interaction"
	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
	"github.com/timzifer/paramflow/telemetry"
)

// UploadState is a state of the upload state machine.
type UploadState int

const (
	StateIdle UploadState = iota
	StateClassifying
	StateResetPhase
	StateReconnecting
	StateRevalidatingCache
	StateNormalUpload
	StatePostUploadValidation
	StateRetryDecision
	StateDone
)

func (s UploadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassifying:
		return "classifying"
	case StateResetPhase:
		return "reset_phase"
	case StateReconnecting:
		return "reconnecting"
	case StateRevalidatingCache:
		return "revalidating_cache"
	case StateNormalUpload:
		return "normal_upload"
	case StatePostUploadValidation:
		return "post_upload_validation"
	case StateRetryDecision:
		return "retry_decision"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Default upload settings.
const (
	DefaultBootDelayParameter = "BRD_BOOT_DELAY"
	DefaultExportFile         = "params_missing_or_different.param"
)

// DefaultResetSuffixes mark parameters that may need a reset before dependent
// parameters appear on the device.
var DefaultResetSuffixes = []string{"_ENABLE", "_EN", "_TYPE"}

// ProgressStore persists which steps have been completed.
type ProgressStore interface {
	MarkCompleted(step string) error
	LastCompleted() (string, bool)
}

// Journal records upload activity.
type Journal interface {
	RecordWrite(batchID, step, name string, value float64, writeErr error) error
	RecordOutcome(batchID, step string, attempt int, outcome, detail string) error
}

// UploadOptions tunes the orchestrator.
type UploadOptions struct {
	Tolerance          params.Tolerance
	ResetSuffixes      []string
	BootDelayParameter string
	ExportFile         string
}

func (o UploadOptions) withDefaults() UploadOptions {
	if o.Tolerance == (params.Tolerance{}) {
		o.Tolerance = params.DefaultTolerance
	}
	if o.ResetSuffixes == nil {
		o.ResetSuffixes = DefaultResetSuffixes
	}
	if o.BootDelayParameter == "" {
		o.BootDelayParameter = DefaultBootDelayParameter
	}
	if o.ExportFile == "" {
		o.ExportFile = DefaultExportFile
	}
	return o
}

// UploadRequest selects the parameters of a step to upload. Pending values
// are the upload targets.
type UploadRequest struct {
	Step     string
	Selected []*params.Parameter
	// Active is the full parameter set of the step; it supplies the pending
	// boot delay when that parameter is not selected.
	Active *ParameterSet
}

// UploadResult summarizes an upload. Per-attempt fields describe the last
// attempt.
type UploadResult struct {
	BatchID        string
	Attempts       int
	Uploaded       []string
	Changed        int
	Unchanged      int
	ResetPerformed bool
	WriteErrors    []*DeviceWriteError
	Mismatches     []*ValidationMismatchError
	State          UploadState
}

type uploadBatch struct {
	requiresReset []*params.Parameter
	possiblyReset []*params.Parameter
	normal        []*params.Parameter
	all           []*params.Parameter
}

// Orchestrator uploads parameters to the flight controller, resetting it when
// required and validating the result.
type Orchestrator struct {
	device    device.Client
	store     storage.Storage
	ui        interaction.Interaction
	progress  ProgressStore
	journal   Journal
	collector telemetry.Collector
	opts      UploadOptions
	logger    zerolog.Logger

	state      UploadState
	onState    func(UploadState)
	progressFn device.ProgressFunc
}

// OrchestratorOption customizes an orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStateObserver registers a callback invoked on every state transition.
func WithStateObserver(fn func(UploadState)) OrchestratorOption {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithDeviceProgress registers a progress callback for device operations.
func WithDeviceProgress(fn device.ProgressFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.progressFn = fn }
}

// NewOrchestrator wires an orchestrator. progress, journal and collector may be nil.
func NewOrchestrator(dev device.Client, store storage.Storage, ui interaction.Interaction, progress ProgressStore, journal Journal, collector telemetry.Collector, opts UploadOptions, logger zerolog.Logger, options ...OrchestratorOption) *Orchestrator {
	if collector == nil {
		collector = telemetry.Noop()
	}
	o := &Orchestrator{
		device:    dev,
		store:     store,
		ui:        ui,
		progress:  progress,
		journal:   journal,
		collector: collector,
		opts:      opts.withDefaults(),
		logger:    logger.With().Str("component", "upload").Logger(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() UploadState { return o.state }

func (o *Orchestrator) transition(state UploadState) {
	o.state = state
	if o.onState != nil {
		o.onState(state)
	}
}

// Upload runs the upload state machine for the request.
//
// Write failures are collected and never abort the upload. A failed reset
// ends the attempt with a *DeviceResetError. Validation mismatches are
// retried only when the operator confirms; otherwise they are returned.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if o.device == nil || !o.device.IsConnected() {
		return nil, &OperationNotPossibleError{Operation: "upload", Reason: ErrDeviceNotConnected.Error()}
	}
	result := &UploadResult{BatchID: uuid.New().String()}
	logger := o.logger.With().Str("batch", result.BatchID).Str("step", req.Step).Logger()
	selected := dedupe(req.Selected)

	for {
		result.Attempts++
		o.transition(StateClassifying)
		batch := o.classify(selected)
		logger.Info().
			Int("attempt", result.Attempts).
			Int("requires_reset", len(batch.requiresReset)).
			Int("possibly_reset", len(batch.possiblyReset)).
			Int("normal", len(batch.normal)).
			Msg("upload batch classified")

		values, err := o.attempt(ctx, req, batch, result, logger)
		if err != nil {
			o.recordOutcome(result, req.Step, "reset_failed", err.Error(), logger)
			o.ui.ReportError("Flight controller reset", err.Error())
			o.transition(StateIdle)
			result.State = o.state
			return result, err
		}

		if len(result.Mismatches) == 0 {
			o.finish(req.Step, values, result, logger)
			return result, nil
		}

		o.collector.AddValidationMismatches(req.Step, len(result.Mismatches))
		o.transition(StateRetryDecision)
		if o.ui.AskRetryOrCancel("Parameter validation", mismatchSummary(result.Mismatches)) {
			o.collector.IncUploadRetry(req.Step)
			o.recordOutcome(result, req.Step, "retry", mismatchSummary(result.Mismatches), logger)
			logger.Warn().Int("mismatches", len(result.Mismatches)).Msg("retrying upload")
			continue
		}
		o.recordOutcome(result, req.Step, "cancelled", mismatchSummary(result.Mismatches), logger)
		o.transition(StateIdle)
		result.State = o.state
		errs := make([]error, 0, len(result.Mismatches))
		for _, mismatch := range result.Mismatches {
			errs = append(errs, mismatch)
		}
		return result, errors.Join(errs...)
	}
}

// attempt runs one pass from the reset phase to validation and returns the
// latest device values.
func (o *Orchestrator) attempt(ctx context.Context, req UploadRequest, batch uploadBatch, result *UploadResult, logger zerolog.Logger) (map[string]float64, error) {
	result.Uploaded = nil
	result.WriteErrors = nil
	result.Mismatches = nil
	result.Changed = 0
	result.Unchanged = 0
	result.ResetPerformed = false

	cache := copyValues(o.device.CachedParameters())
	attempted := make(map[string]struct{}, len(batch.all))

	o.transition(StateResetPhase)
	resetScheduled := false
	for _, p := range batch.requiresReset {
		attempted[p.Name] = struct{}{}
		result.Changed++
		if o.write(ctx, req.Step, p, result, logger) {
			resetScheduled = true
		}
	}
	var possiblyWritten []string
	for _, p := range batch.possiblyReset {
		attempted[p.Name] = struct{}{}
		result.Changed++
		if o.write(ctx, req.Step, p, result, logger) {
			possiblyWritten = append(possiblyWritten, p.Name)
		}
	}
	if !resetScheduled && len(possiblyWritten) > 0 {
		msg := fmt.Sprintf("%s parameter(s) potentially require a reset.\nDo you want to reset the flight controller?", strings.Join(possiblyWritten, ", "))
		resetScheduled = o.ui.AskConfirmation("Possible reset required", msg)
	}

	if resetScheduled {
		o.transition(StateReconnecting)
		settle := o.settleSeconds(req, batch, cache)
		logger.Info().Int("settle_seconds", settle).Msg("resetting flight controller")
		if err := o.device.ResetAndReconnect(ctx, o.progressFn, settle); err != nil {
			o.collector.IncDeviceReset("failed")
			return nil, &DeviceResetError{Err: err}
		}
		o.collector.IncDeviceReset("ok")
		result.ResetPerformed = true

		o.transition(StateRevalidatingCache)
		values, _, err := o.device.DownloadParameters(ctx, o.progressFn)
		if err != nil {
			return nil, &DeviceResetError{Err: fmt.Errorf("refresh parameters after reset: %w", err)}
		}
		cache = copyValues(values)
	}

	o.transition(StateNormalUpload)
	for _, p := range batch.all {
		if _, done := attempted[p.Name]; done {
			continue
		}
		attempted[p.Name] = struct{}{}
		previous, known := cache[p.Name]
		if !known || !o.opts.Tolerance.Equal(previous, p.NewValue) {
			result.Changed++
		} else {
			result.Unchanged++
		}
		o.write(ctx, req.Step, p, result, logger)
	}
	if len(result.WriteErrors) > 0 {
		msgs := make([]string, 0, len(result.WriteErrors))
		for _, werr := range result.WriteErrors {
			msgs = append(msgs, werr.Error())
		}
		o.ui.ReportError("Parameter upload", strings.Join(msgs, "\n"))
	}
	logger.Info().
		Int("uploaded", len(result.Uploaded)).
		Int("changed", result.Changed).
		Int("unchanged", result.Unchanged).
		Int("failed", len(result.WriteErrors)).
		Msg("parameters uploaded")

	if !result.ResetPerformed && result.Changed == 0 {
		return cache, nil
	}

	o.transition(StatePostUploadValidation)
	values, _, err := o.device.DownloadParameters(ctx, o.progressFn)
	if err != nil {
		logger.Error().Err(err).Msg("download for validation failed")
		for _, p := range batch.all {
			result.Mismatches = append(result.Mismatches, &ValidationMismatchError{Parameter: p.Name, Expected: p.NewValue})
		}
		return cache, nil
	}
	for _, p := range batch.all {
		actual, ok := values[p.Name]
		if ok && o.opts.Tolerance.Equal(actual, p.NewValue) {
			continue
		}
		mismatch := &ValidationMismatchError{Parameter: p.Name, Expected: p.NewValue}
		if ok {
			v := actual
			mismatch.Actual = &v
		}
		result.Mismatches = append(result.Mismatches, mismatch)
		logger.Warn().Err(mismatch).Msg("validation mismatch")
	}
	return values, nil
}

func (o *Orchestrator) classify(selected []*params.Parameter) uploadBatch {
	batch := uploadBatch{all: selected}
	cache := o.device.CachedParameters()
	for _, p := range selected {
		previous, known := cache[p.Name]
		wouldChange := !known || !o.opts.Tolerance.Equal(previous, p.NewValue)
		switch {
		case wouldChange && o.rebootRequired(p):
			batch.requiresReset = append(batch.requiresReset, p)
		case wouldChange && o.hasResetSuffix(p.Name):
			batch.possiblyReset = append(batch.possiblyReset, p)
		default:
			batch.normal = append(batch.normal, p)
		}
	}
	return batch
}

func (o *Orchestrator) rebootRequired(p *params.Parameter) bool {
	if p.Doc != nil {
		return p.Doc.RebootRequired
	}
	if o.store == nil {
		return false
	}
	doc := o.store.DocumentationFor(p.Name)
	return doc != nil && doc.RebootRequired
}

func (o *Orchestrator) hasResetSuffix(name string) bool {
	for _, suffix := range o.opts.ResetSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) write(ctx context.Context, step string, p *params.Parameter, result *UploadResult, logger zerolog.Logger) bool {
	err := o.device.SetParameter(ctx, p.Name, p.NewValue)
	if o.journal != nil {
		if jerr := o.journal.RecordWrite(result.BatchID, step, p.Name, p.NewValue, err); jerr != nil {
			logger.Warn().Err(jerr).Msg("journal write failed")
		}
	}
	if err != nil {
		werr := &DeviceWriteError{Parameter: p.Name, Value: p.NewValue, Err: err}
		result.WriteErrors = append(result.WriteErrors, werr)
		o.collector.IncParameterWrite(step, "failed")
		logger.Error().Err(err).Str("parameter", p.Name).Msg("parameter write failed")
		return false
	}
	result.Uploaded = append(result.Uploaded, p.Name)
	o.collector.IncParameterWrite(step, "ok")
	logger.Debug().Str("parameter", p.Name).Str("value", params.FormatValue(p.NewValue)).Msg("parameter written")
	return true
}

func (o *Orchestrator) settleSeconds(req UploadRequest, batch uploadBatch, cache map[string]float64) int {
	var pending *float64
	for _, p := range batch.all {
		if p.Name == o.opts.BootDelayParameter {
			v := p.NewValue
			pending = &v
		}
	}
	if pending == nil && req.Active != nil {
		if p, ok := req.Active.Get(o.opts.BootDelayParameter); ok {
			v := p.NewValue
			pending = &v
		}
	}
	var last *float64
	if v, ok := cache[o.opts.BootDelayParameter]; ok {
		last = &v
	}
	return SettleSeconds(pending, last)
}

// SettleSeconds returns how long to wait after a reset: one second plus the
// larger boot delay in milliseconds rounded up to whole seconds.
func SettleSeconds(pendingBootDelay, deviceBootDelay *float64) int {
	maxDelay := decimal.Zero
	for _, v := range []*float64{pendingBootDelay, deviceBootDelay} {
		if v == nil {
			continue
		}
		if d := decimal.NewFromFloat(*v); d.GreaterThan(maxDelay) {
			maxDelay = d
		}
	}
	seconds := maxDelay.Div(decimal.NewFromInt(1000)).Ceil()
	return int(seconds.IntPart()) + 1
}

func (o *Orchestrator) finish(step string, deviceValues map[string]float64, result *UploadResult, logger zerolog.Logger) {
	if err := o.exportDifferences(deviceValues); err != nil {
		logger.Warn().Err(err).Msg("export of differing parameters failed")
	}
	if o.progress != nil {
		if err := o.progress.MarkCompleted(step); err != nil {
			logger.Warn().Err(err).Msg("failed to persist step completion")
		}
	}
	o.transition(StateDone)
	result.State = o.state
	o.recordOutcome(result, step, "done", fmt.Sprintf("%d uploaded, %d changed", len(result.Uploaded), result.Changed), logger)
	logger.Info().Int("attempts", result.Attempts).Bool("reset", result.ResetPerformed).Msg("upload completed")
}

// exportDifferences writes device parameters that are missing from the step
// files, or set differently there, to the export file.
func (o *Orchestrator) exportDifferences(deviceValues map[string]float64) error {
	if o.store == nil {
		return nil
	}
	declared := make(map[string]float64)
	for _, file := range o.store.StepFiles() {
		values, err := o.store.ParametersForFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		values.Range(func(name string, value params.Value) bool {
			declared[name] = value.Value
			return true
		})
	}
	export := params.NewDict()
	params.DictFromMap(deviceValues).Range(func(name string, value params.Value) bool {
		if def, ok := o.store.DefaultValueFor(name); ok && o.opts.Tolerance.Equal(def, value.Value) {
			return true
		}
		if fileValue, ok := declared[name]; ok && o.opts.Tolerance.Equal(fileValue, value.Value) {
			return true
		}
		export.Set(name, value)
		return true
	})
	if export.Len() == 0 {
		return nil
	}
	return o.store.ExportParameters(export, o.opts.ExportFile, true)
}

func (o *Orchestrator) recordOutcome(result *UploadResult, step, outcome, detail string, logger zerolog.Logger) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordOutcome(result.BatchID, step, result.Attempts, outcome, detail); err != nil {
		logger.Warn().Err(err).Msg("journal outcome failed")
	}
}

func dedupe(selected []*params.Parameter) []*params.Parameter {
	seen := make(map[string]struct{}, len(selected))
	out := make([]*params.Parameter, 0, len(selected))
	for _, p := range selected {
		if p == nil {
			continue
		}
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return out
}

func copyValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mismatchSummary(mismatches []*ValidationMismatchError) string {
	lines := make([]string, 0, len(mismatches)+1)
	for _, m := range mismatches {
		lines = append(lines, m.Error())
	}
	lines = append(lines, "Retry the upload?")
	return strings.Join(lines, "\n")
}
