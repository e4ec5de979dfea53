package dsl

import (
	"errors"
	"fmt"
)

// ErrorKind classifies evaluation failures.
type ErrorKind string

const (
	// UndefinedVariable is reported when an expression references a name
	// the bindings do not provide.
	UndefinedVariable ErrorKind = "undefined variable"
	// SyntaxError covers unparsable expressions and disallowed calls.
	SyntaxError ErrorKind = "syntax error"
	// RuntimeError covers failures while the expression executes.
	RuntimeError ErrorKind = "runtime error"
)

// Error is returned by every failing evaluation.
type Error struct {
	Kind       ErrorKind
	Expression string
	// Name is the missing variable for UndefinedVariable errors.
	Name string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == UndefinedVariable && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Name, e.Err)
	case e.Kind == UndefinedVariable:
		return fmt.Sprintf("%s %s", e.Kind, e.Name)
	case e.Err != nil:
		return fmt.Sprintf("%s in %q: %v", e.Kind, e.Expression, e.Err)
	default:
		return fmt.Sprintf("%s in %q", e.Kind, e.Expression)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an evaluation error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var dslErr *Error
	return errors.As(err, &dslErr) && dslErr.Kind == kind
}
