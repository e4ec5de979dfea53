// Package filesystem implements step storage on a vehicle directory.
//
// The directory holds the numbered *.param step files, the steps metadata
// (configuration_steps.yaml), the parameter documentation (apm.pdef.yaml) and
// the vehicle components (vehicle_components.json).
package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
)

// Default file names inside the vehicle directory.
const (
	DefaultStepsFile         = "configuration_steps.yaml"
	DefaultDocumentationFile = "apm.pdef.yaml"
	DefaultComponentsFile    = "vehicle_components.json"
	DefaultDefaultsFile      = "00_default.param"
)

var stepFilePattern = regexp.MustCompile(`^\d{2}_.*\.param$`)

// Options locate the vehicle files. Relative names resolve against Dir.
type Options struct {
	Dir               string
	StepsFile         string
	DocumentationFile string
	ComponentsFile    string
	DefaultsFile      string
}

// Store is a storage.Storage backed by a vehicle directory.
type Store struct {
	opts   Options
	logger zerolog.Logger

	files      []string
	steps      map[string]storage.Step
	phases     []storage.Phase
	docs       map[string]*params.Documentation
	defaults   *params.Dict
	components map[string]interface{}
}

type stepsDocument struct {
	Phases []storage.Phase          `yaml:"phases"`
	Steps  map[string]storage.Step `yaml:"steps"`
}

// Open loads the vehicle directory.
func Open(opts Options, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("vehicle directory required")
	}
	if opts.StepsFile == "" {
		opts.StepsFile = DefaultStepsFile
	}
	if opts.DocumentationFile == "" {
		opts.DocumentationFile = DefaultDocumentationFile
	}
	if opts.ComponentsFile == "" {
		opts.ComponentsFile = DefaultComponentsFile
	}
	if opts.DefaultsFile == "" {
		opts.DefaultsFile = DefaultDefaultsFile
	}
	s := &Store{
		opts:       opts,
		logger:     logger.With().Str("component", "storage").Str("dir", opts.Dir).Logger(),
		steps:      make(map[string]storage.Step),
		docs:       make(map[string]*params.Documentation),
		defaults:   params.NewDict(),
		components: map[string]interface{}{},
	}
	if err := s.loadStepFiles(); err != nil {
		return nil, err
	}
	if err := s.loadSteps(); err != nil {
		return nil, err
	}
	if err := s.loadDocumentation(); err != nil {
		return nil, err
	}
	if err := s.loadComponents(); err != nil {
		return nil, err
	}
	if err := s.loadDefaults(); err != nil {
		return nil, err
	}
	s.logger.Info().Int("steps", len(s.files)).Int("documented", len(s.docs)).Msg("vehicle directory loaded")
	return s, nil
}

func (s *Store) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.opts.Dir, name)
}

func (s *Store) loadStepFiles() error {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		return fmt.Errorf("read vehicle directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !stepFilePattern.MatchString(entry.Name()) {
			continue
		}
		s.files = append(s.files, entry.Name())
	}
	sort.Strings(s.files)
	return nil
}

func (s *Store) loadSteps() error {
	path := s.resolve(s.opts.StepsFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Str("file", path).Msg("no steps file, using bare step files")
		for _, file := range s.files {
			s.steps[file] = storage.Step{File: file}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read steps file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode steps file %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	if _, ok := raw["steps"]; !ok {
		raw["steps"] = map[string]interface{}{}
	}
	if err := validateSteps(raw); err != nil {
		return fmt.Errorf("validate steps file %s: %w", path, err)
	}

	var doc stepsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode steps file %s: %w", path, err)
	}
	s.phases = doc.Phases
	sort.SliceStable(s.phases, func(i, j int) bool { return s.phases[i].Start < s.phases[j].Start })
	for _, file := range s.files {
		step := doc.Steps[file]
		step.File = file
		s.steps[file] = step
	}
	for file := range doc.Steps {
		if _, ok := s.steps[file]; !ok {
			s.logger.Warn().Str("step", file).Msg("steps file describes a missing step file")
		}
	}
	return nil
}

func (s *Store) loadDocumentation() error {
	path := s.resolve(s.opts.DocumentationFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Str("file", path).Msg("no parameter documentation")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read documentation: %w", err)
	}
	docs := make(map[string]*params.Documentation)
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("decode documentation %s: %w", path, err)
	}
	s.docs = docs
	return nil
}

func (s *Store) loadComponents() error {
	path := s.resolve(s.opts.ComponentsFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read components: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("components file %s is not valid JSON", path)
	}
	components, ok := gjson.GetBytes(data, "Components").Value().(map[string]interface{})
	if !ok {
		components, ok = gjson.ParseBytes(data).Value().(map[string]interface{})
		if !ok {
			return fmt.Errorf("components file %s must contain an object", path)
		}
	}
	s.components = components
	if version := gjson.GetBytes(data, "Format version"); version.Exists() {
		s.logger.Debug().Str("format_version", version.String()).Msg("vehicle components loaded")
	}
	return nil
}

func (s *Store) loadDefaults() error {
	path := s.resolve(s.opts.DefaultsFile)
	values, err := params.ParseFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load default values: %w", err)
	}
	s.defaults = values
	return nil
}

// StepFiles returns the step files in sequence order.
func (s *Store) StepFiles() []string {
	out := make([]string, len(s.files))
	copy(out, s.files)
	return out
}

// PathFor returns the absolute location of a step file.
func (s *Store) PathFor(id string) string {
	return s.resolve(id)
}

// ParametersForFile reads a step file.
func (s *Store) ParametersForFile(id string) (*params.Dict, error) {
	if _, ok := s.steps[id]; !ok {
		return nil, fmt.Errorf("unknown step %s", id)
	}
	return params.ParseFile(s.PathFor(id))
}

// WriteParameters replaces a step file.
func (s *Store) WriteParameters(id string, values *params.Dict) error {
	if _, ok := s.steps[id]; !ok {
		return fmt.Errorf("unknown step %s", id)
	}
	return params.WriteFile(s.PathFor(id), values, nil)
}

// Step returns the metadata of a step file.
func (s *Store) Step(id string) (storage.Step, bool) {
	step, ok := s.steps[id]
	return step, ok
}

// DocumentationFor returns the documentation of a parameter.
func (s *Store) DocumentationFor(name string) *params.Documentation {
	return s.docs[name]
}

// DefaultValueFor returns the default from 00_default.param, falling back to
// the documented default.
func (s *Store) DefaultValueFor(name string) (float64, bool) {
	if v, ok := s.defaults.Get(name); ok {
		return v.Value, true
	}
	if doc := s.docs[name]; doc != nil && doc.Default != nil {
		return *doc.Default, true
	}
	return 0, false
}

// ExportParameters writes values to destination inside the vehicle directory.
func (s *Store) ExportParameters(values *params.Dict, destination string, annotate bool) error {
	var annotator params.Annotator
	if annotate {
		annotator = s.annotate
	}
	path := s.resolve(destination)
	if err := params.WriteFile(path, values, annotator); err != nil {
		return fmt.Errorf("export %s: %w", destination, err)
	}
	s.logger.Info().Str("file", path).Int("parameters", values.Len()).Msg("parameters exported")
	return nil
}

func (s *Store) annotate(name string) []string {
	doc := s.docs[name]
	if doc == nil {
		return nil
	}
	var lines []string
	if doc.DisplayName != "" {
		lines = append(lines, doc.DisplayName)
	}
	if doc.Description != "" {
		lines = append(lines, doc.Description)
	}
	if doc.Min != nil && doc.Max != nil {
		line := fmt.Sprintf("Range: %s - %s", params.FormatValue(*doc.Min), params.FormatValue(*doc.Max))
		if doc.Units != "" {
			line += " " + doc.Units
		}
		lines = append(lines, line)
	}
	if doc.RebootRequired {
		lines = append(lines, "Reboot required")
	}
	return lines
}

// JumpTargetsFor returns the jump targets of a step in declaration order.
func (s *Store) JumpTargetsFor(id string) []storage.JumpTarget {
	return s.steps[id].JumpPossible
}

// MandatoryPercentageTextFor returns the mandatory text of a step.
func (s *Store) MandatoryPercentageTextFor(id string) string {
	return s.steps[id].MandatoryText
}

// Components returns the vehicle components tree.
func (s *Store) Components() map[string]interface{} {
	return s.components
}

// Phases returns the configured phases ordered by start.
func (s *Store) Phases() []storage.Phase {
	out := make([]storage.Phase, len(s.phases))
	copy(out, s.phases)
	return out
}

// SourceFiles returns the metadata files the store was loaded from.
func (s *Store) SourceFiles() []string {
	return []string{
		s.resolve(s.opts.StepsFile),
		s.resolve(s.opts.DocumentationFile),
		s.resolve(s.opts.ComponentsFile),
	}
}
