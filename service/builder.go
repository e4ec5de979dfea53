package service

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
)

// buildInput is everything the builder merges into a parameter set.
type buildInput struct {
	step    storage.Step
	file    *params.Dict
	forced  *params.Dict
	derived *params.Dict
	// device is nil when no flight controller is connected.
	device  map[string]float64
	renames map[string]string
}

// Builder assembles the parameter set of the active step.
type Builder struct {
	store  storage.Storage
	logger zerolog.Logger
}

// NewBuilder creates a builder backed by store.
func NewBuilder(store storage.Storage, logger zerolog.Logger) *Builder {
	return &Builder{store: store, logger: logger.With().Str("component", "builder").Logger()}
}

func (b *Builder) build(in buildInput, tracker *DirtyTracker) *ParameterSet {
	set := newParameterSet(in.step.File)
	in.file.Range(func(name string, value params.Value) bool {
		set.insert(params.NewParameter(name, value))
		return true
	})

	b.applyRenames(set, in.renames, tracker)
	b.applyOverrides(set, KindForced, in.forced, in.device, tracker)
	b.applyOverrides(set, KindDerived, in.derived, in.device, tracker)

	set.Each(func(p *params.Parameter) {
		_, p.Forced = in.step.ForcedParameters[p.Name]
		_, p.Derived = in.step.DerivedParameters[p.Name]
		p.Doc = b.store.DocumentationFor(p.Name)
		if v, ok := in.device[p.Name]; ok {
			value := v
			p.DeviceValue = &value
		}
		if v, ok := b.store.DefaultValueFor(p.Name); ok {
			value := v
			p.DefaultValue = &value
		}
	})
	return set
}

func (b *Builder) applyRenames(set *ParameterSet, renames map[string]string, tracker *DirtyTracker) {
	olds := make([]string, 0, len(renames))
	for old := range renames {
		olds = append(olds, old)
	}
	sort.Strings(olds)
	for _, old := range olds {
		target := renames[old]
		if _, ok := set.Get(old); !ok || old == target {
			continue
		}
		if _, exists := set.Get(target); exists {
			set.remove(old)
			tracker.RecordDelete(old)
			b.logger.Info().Str("parameter", old).Str("target", target).Msg("removing duplicate parameter after connection rename")
			continue
		}
		set.rename(old, target)
		tracker.RecordDelete(old)
		tracker.RecordAdd(target)
		b.logger.Info().Str("parameter", old).Str("target", target).Msg("parameter renamed to match the connection")
	}
}

func (b *Builder) applyOverrides(set *ParameterSet, kind ParameterKind, values *params.Dict, device map[string]float64, tracker *DirtyTracker) {
	values.Range(func(name string, value params.Value) bool {
		if device != nil {
			if _, ok := device[name]; !ok {
				b.logger.Debug().Str("parameter", name).Str("kind", string(kind)).Msg("parameter not present on the flight controller, skipped")
				return true
			}
		}
		if p, ok := set.Get(name); ok {
			p.NewValue = value.Value
			p.ChangeReason = value.Comment
			return true
		}
		set.insert(params.NewParameter(name, value))
		tracker.RecordAdd(name)
		return true
	})
}

// connectionRenames computes the renames implied by moving a step to a new
// connection prefix such as SERIAL3 or CAN2.
func connectionRenames(prefix string, names []string) map[string]string {
	renames := make(map[string]string)
	if len(prefix) < 2 {
		return renames
	}
	family := prefix[:len(prefix)-1]
	index := prefix[len(prefix)-1:]
	for _, name := range names {
		parts := strings.Split(name, "_")
		oldPrefix := parts[0]
		newPrefix := prefix
		if family == "CAN" && len(parts) > 1 {
			switch {
			case strings.Contains(name, "CAN_P"):
				oldPrefix = parts[0] + "_" + parts[1]
				newPrefix = "CAN_P" + index
			case strings.Contains(name, "CAN_D"):
				oldPrefix = parts[0] + "_" + parts[1]
				newPrefix = "CAN_D" + index
			}
		}
		if !strings.Contains(oldPrefix, family) {
			continue
		}
		renamed := strings.Replace(name, oldPrefix, newPrefix, 1)
		if renamed != name {
			renames[name] = renamed
		}
	}
	return renames
}
