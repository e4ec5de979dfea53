package storage

import "github.com/timzifer/paramflow/runtime/params"

// ParameterExpression declares how a forced or derived parameter is computed.
type ParameterExpression struct {
	NewValue     string `yaml:"new_value"`
	ChangeReason string `yaml:"change_reason,omitempty"`
}

// JumpTarget is an optional shortcut from one step to a later one.
type JumpTarget struct {
	Destination string `yaml:"destination"`
	Message     string `yaml:"message,omitempty"`
}

// Step describes one configuration step file and its metadata.
type Step struct {
	File              string                         `yaml:"-"`
	Description       string                         `yaml:"description,omitempty"`
	Why               string                         `yaml:"why,omitempty"`
	MandatoryText     string                         `yaml:"mandatory_text,omitempty"`
	AutoChangedBy     string                         `yaml:"auto_changed_by,omitempty"`
	ForcedParameters  map[string]ParameterExpression `yaml:"forced_parameters,omitempty"`
	DerivedParameters map[string]ParameterExpression `yaml:"derived_parameters,omitempty"`
	JumpPossible      []JumpTarget                   `yaml:"jump_possible,omitempty"`
	RenameConnection  string                         `yaml:"rename_connection,omitempty"`
	AlwaysOptional    bool                           `yaml:"always_optional,omitempty"`
}

// Phase groups consecutive steps starting at a numeric step prefix.
type Phase struct {
	Name        string `yaml:"name"`
	Start       int    `yaml:"start"`
	Description string `yaml:"description,omitempty"`
	Optional    bool   `yaml:"optional,omitempty"`
}

// Storage provides the step files and their metadata.
//
// Implementations return step identifiers in sequence order. Step returns the
// zero Step with ok == false for unknown identifiers. DocumentationFor returns
// nil when nothing is known about a parameter.
type Storage interface {
	StepFiles() []string
	ParametersForFile(id string) (*params.Dict, error)
	WriteParameters(id string, values *params.Dict) error
	PathFor(id string) string
	Step(id string) (Step, bool)
	DocumentationFor(name string) *params.Documentation
	DefaultValueFor(name string) (float64, bool)
	ExportParameters(values *params.Dict, destination string, annotate bool) error
	JumpTargetsFor(id string) []JumpTarget
	MandatoryPercentageTextFor(id string) string
	Components() map[string]interface{}
	Phases() []Phase
}
