package service

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/timzifer/paramflow/dsl"
	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
)

// ParameterKind distinguishes forced from derived parameters.
type ParameterKind string

const (
	// KindForced parameters must be computable before a step can be used.
	KindForced ParameterKind = "forced"
	// KindDerived parameters fall back to their file value when not computable.
	KindDerived ParameterKind = "derived"
)

// DocumentationSource looks up parameter documentation.
type DocumentationSource interface {
	DocumentationFor(name string) *params.Documentation
}

// Translator localizes change reasons.
type Translator func(string) string

// Resolver computes forced and derived parameter values per step.
type Resolver struct {
	evaluator *dsl.Evaluator
	docs      DocumentationSource
	translate Translator
	logger    zerolog.Logger
	resolved  map[string]map[ParameterKind]*params.Dict
}

// NewResolver creates a resolver. translate may be nil.
func NewResolver(evaluator *dsl.Evaluator, docs DocumentationSource, translate Translator, logger zerolog.Logger) *Resolver {
	if translate == nil {
		translate = func(s string) string { return s }
	}
	return &Resolver{
		evaluator: evaluator,
		docs:      docs,
		translate: translate,
		logger:    logger.With().Str("component", "resolver").Logger(),
		resolved:  make(map[string]map[ParameterKind]*params.Dict),
	}
}

// Resolve computes every parameter of the given kind declared by step and
// replaces the stored results for that step and kind.
//
// Forced failures are returned joined and leave previously stored results
// untouched. Derived failures are logged and the parameter is skipped.
func (r *Resolver) Resolve(step storage.Step, kind ParameterKind, bindings dsl.Bindings, deviceConnected bool) error {
	declared := step.ForcedParameters
	if kind == KindDerived {
		declared = step.DerivedParameters
	}
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	results := params.NewDict()
	var failures []error
	for _, name := range names {
		value, err := r.resolveOne(step.File, name, kind, declared[name], bindings, deviceConnected)
		if err != nil {
			if kind == KindForced {
				failures = append(failures, err)
				continue
			}
			r.logger.Warn().Err(err).Str("step", step.File).Str("parameter", name).Msg("derived parameter keeps its file value")
			continue
		}
		results.Set(name, value)
	}
	if len(failures) > 0 {
		return errors.Join(failures...)
	}

	byKind, ok := r.resolved[step.File]
	if !ok {
		byKind = make(map[ParameterKind]*params.Dict)
		r.resolved[step.File] = byKind
	}
	byKind[kind] = results
	r.logger.Debug().Str("step", step.File).Str("kind", string(kind)).Int("count", results.Len()).Msg("parameters resolved")
	return nil
}

// Resolved returns a copy of the stored results, or an empty dictionary.
func (r *Resolver) Resolved(file string, kind ParameterKind) *params.Dict {
	if d, ok := r.resolved[file][kind]; ok {
		return d.Clone()
	}
	return params.NewDict()
}

// Forget drops stored results for file.
func (r *Resolver) Forget(file string) {
	delete(r.resolved, file)
}

func (r *Resolver) resolveOne(file, name string, kind ParameterKind, expression storage.ParameterExpression, bindings dsl.Bindings, deviceConnected bool) (params.Value, error) {
	wrap := func(err error) error {
		return &ExpressionError{File: file, Parameter: name, Kind: kind, Err: err}
	}

	usesDevice, err := r.evaluator.ReferencesDevice(expression.NewValue)
	if err != nil {
		return params.Value{}, wrap(err)
	}
	if usesDevice && (!deviceConnected || deviceBindingEmpty(bindings)) {
		return params.Value{}, wrap(&dsl.Error{
			Kind:       dsl.UndefinedVariable,
			Expression: expression.NewValue,
			Name:       dsl.DeviceBinding,
			Err:        ErrDeviceNotConnected,
		})
	}

	result, err := r.evaluator.Evaluate(expression.NewValue, bindings)
	if err != nil {
		return params.Value{}, wrap(err)
	}
	value := result.Number
	if result.IsText {
		value, err = r.lookup(name, result.Text)
		if err != nil {
			return params.Value{}, wrap(err)
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return params.Value{}, wrap(fmt.Errorf("value %v is not a finite number", value))
	}
	return params.Value{Value: value, Comment: r.translate(expression.ChangeReason)}, nil
}

func (r *Resolver) lookup(name, label string) (float64, error) {
	var doc *params.Documentation
	if r.docs != nil {
		doc = r.docs.DocumentationFor(name)
	}
	if doc == nil {
		return 0, fmt.Errorf("no documentation to convert %q into a value", label)
	}
	if v, ok := doc.LookupValue(label); ok {
		return v, nil
	}
	if doc.IsBitmask() {
		if v, ok := doc.LookupBitmask(label); ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", label, ErrLookupMiss)
}

func deviceBindingEmpty(bindings dsl.Bindings) bool {
	switch m := bindings[dsl.DeviceBinding].(type) {
	case map[string]float64:
		return len(m) == 0
	case map[string]interface{}:
		return len(m) == 0
	}
	return true
}
