// Package dsl evaluates the small expression language used by configuration
// steps to compute parameter values.
//
// Expressions are arithmetic, comparison, conditional and lookup expressions
// over a fixed set of bindings. Evaluation is strict: every referenced
// variable must be bound, and only a handful of pure builtins may be called.
package dsl

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"
)

// Reserved binding names.
const (
	DeviceBinding     = "device"
	DocBinding        = "doc"
	ComponentsBinding = "components"
	FileBinding       = "file"
)

// Bindings maps variable names to values visible to an expression.
type Bindings map[string]interface{}

// Result is the outcome of a successful evaluation.
type Result struct {
	Number float64
	Text   string
	IsText bool
}

func (r Result) String() string {
	if r.IsText {
		return r.Text
	}
	return fmt.Sprintf("%g", r.Number)
}

var defaultBuiltins = []string{"abs", "ceil", "floor", "round", "min", "max", "int", "float", "string", "len"}

// Evaluator evaluates expressions. It is stateless apart from its
// configuration and safe for concurrent use.
type Evaluator struct {
	logger   zerolog.Logger
	builtins map[string]struct{}
}

// New creates an evaluator with the default builtin allow-list.
func New(logger zerolog.Logger) *Evaluator {
	builtins := make(map[string]struct{}, len(defaultBuiltins))
	for _, name := range defaultBuiltins {
		builtins[name] = struct{}{}
	}
	return &Evaluator{
		logger:   logger.With().Str("component", "dsl").Logger(),
		builtins: builtins,
	}
}

// Evaluate runs expression against bindings. Bindings are never modified.
func (e *Evaluator) Evaluate(expression string, bindings Bindings) (Result, error) {
	source := strings.TrimSpace(expression)
	refs, err := e.analyze(expression)
	if err != nil {
		return Result{}, err
	}
	for _, name := range refs.identifiers {
		if _, ok := bindings[name]; !ok {
			return Result{}, &Error{Kind: UndefinedVariable, Expression: expression, Name: name}
		}
	}
	for _, key := range refs.deviceKeys {
		if !hasKey(bindings[DeviceBinding], key) {
			return Result{}, &Error{Kind: UndefinedVariable, Expression: expression, Name: DeviceBinding + "." + key}
		}
	}

	env := make(map[string]interface{}, len(bindings))
	for name, value := range bindings {
		env[name] = value
	}
	program, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return Result{}, &Error{Kind: SyntaxError, Expression: expression, Err: err}
	}
	out, err := vm.Run(program, env)
	if err != nil {
		return Result{}, &Error{Kind: RuntimeError, Expression: expression, Err: err}
	}
	result, err := toResult(out)
	if err != nil {
		return Result{}, &Error{Kind: RuntimeError, Expression: expression, Err: err}
	}
	e.logger.Trace().Str("expression", source).Str("result", result.String()).Msg("expression evaluated")
	return result, nil
}

// Check validates the syntax of expression without evaluating it.
func (e *Evaluator) Check(expression string) error {
	_, err := e.analyze(expression)
	return err
}

// References returns the sorted variable names expression uses.
func (e *Evaluator) References(expression string) ([]string, error) {
	refs, err := e.analyze(expression)
	if err != nil {
		return nil, err
	}
	return refs.identifiers, nil
}

// ReferencesDevice reports whether expression reads live device values.
func (e *Evaluator) ReferencesDevice(expression string) (bool, error) {
	names, err := e.References(expression)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == DeviceBinding {
			return true, nil
		}
	}
	return false, nil
}

type references struct {
	identifiers []string
	deviceKeys  []string
}

func (e *Evaluator) analyze(expression string) (references, error) {
	source := strings.TrimSpace(expression)
	if source == "" {
		return references{}, &Error{Kind: SyntaxError, Expression: expression, Err: errors.New("empty expression")}
	}
	tree, err := parser.Parse(source)
	if err != nil {
		return references{}, &Error{Kind: SyntaxError, Expression: expression, Err: err}
	}
	collector := &referenceCollector{
		builtins:    e.builtins,
		identifiers: make(map[string]struct{}),
		deviceKeys:  make(map[string]struct{}),
	}
	ast.Walk(&tree.Node, collector)
	if len(collector.forbidden) > 0 {
		return references{}, &Error{
			Kind:       SyntaxError,
			Expression: expression,
			Err:        fmt.Errorf("function %s is not allowed", collector.forbidden[0]),
		}
	}
	return references{
		identifiers: sortedKeys(collector.identifiers),
		deviceKeys:  sortedKeys(collector.deviceKeys),
	}, nil
}

type referenceCollector struct {
	builtins    map[string]struct{}
	identifiers map[string]struct{}
	deviceKeys  map[string]struct{}
	forbidden   []string
}

func (c *referenceCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.identifiers[n.Value] = struct{}{}
	case *ast.MemberNode:
		if id, ok := n.Node.(*ast.IdentifierNode); ok && id.Value == DeviceBinding {
			if key, ok := n.Property.(*ast.StringNode); ok {
				c.deviceKeys[key.Value] = struct{}{}
			}
		}
	case *ast.BuiltinNode:
		if _, ok := c.builtins[n.Name]; !ok {
			c.forbidden = append(c.forbidden, n.Name)
		}
	case *ast.CallNode:
		name := "call"
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			name = id.Value
		}
		c.forbidden = append(c.forbidden, name)
	}
}

func hasKey(container interface{}, key string) bool {
	switch m := container.(type) {
	case map[string]float64:
		_, ok := m[key]
		return ok
	case map[string]interface{}:
		_, ok := m[key]
		return ok
	}
	return false
}

func toResult(out interface{}) (Result, error) {
	var number float64
	switch v := out.(type) {
	case string:
		return Result{Text: v, IsText: true}, nil
	case float64:
		number = v
	case float32:
		number = float64(v)
	case int:
		number = float64(v)
	case int8:
		number = float64(v)
	case int16:
		number = float64(v)
	case int32:
		number = float64(v)
	case int64:
		number = float64(v)
	case uint:
		number = float64(v)
	case uint8:
		number = float64(v)
	case uint16:
		number = float64(v)
	case uint32:
		number = float64(v)
	case uint64:
		number = float64(v)
	case bool:
		if v {
			number = 1
		}
	case nil:
		return Result{}, errors.New("expression produced no value")
	default:
		return Result{}, fmt.Errorf("unsupported result type %T", out)
	}
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return Result{}, fmt.Errorf("result %v is not a finite number", number)
	}
	return Result{Number: number}, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
