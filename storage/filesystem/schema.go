package filesystem

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

const stepsSchema = `
#Name: =~"^[A-Z][A-Z0-9_]*$"

#Expression: {
	new_value:      string & !=""
	change_reason?: string
}

#Jump: {
	destination: =~"\\.param$"
	message?:    string
}

#Step: {
	description?:       string
	why?:               string
	mandatory_text?:    string
	auto_changed_by?:   string
	forced_parameters?: [#Name]: #Expression
	derived_parameters?: [#Name]: #Expression
	jump_possible?: [...#Jump]
	rename_connection?: string
	always_optional?:   bool
}

#Phase: {
	name:         string & !=""
	start:        int & >=0
	description?: string
	optional?:    bool
}

#StepsFile: {
	phases?: [...#Phase]
	steps: [=~"\\.param$"]: #Step
}
`

// validateSteps checks a decoded steps document against the schema.
func validateSteps(raw map[string]interface{}) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(stepsSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile steps schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#StepsFile"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup steps schema: %w", err)
	}
	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return err
	}
	return def.Unify(value).Validate(cue.Concrete(true))
}
