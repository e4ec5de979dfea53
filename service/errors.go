package service

import (
	"errors"
	"fmt"

	"github.com/timzifer/paramflow/runtime/params"
)

var (
	// ErrDeviceNotConnected is returned when an operation needs the flight controller.
	ErrDeviceNotConnected = errors.New("no flight controller connected")
	// ErrUnknownParameter is returned for names absent from the active step.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrUnknownStep is returned for step identifiers the storage does not know.
	ErrUnknownStep = errors.New("unknown configuration step")
	// ErrNoActiveStep is returned when no step has been opened yet.
	ErrNoActiveStep = errors.New("no configuration step opened")
	// ErrLookupMiss is returned when a string result has no documented value.
	ErrLookupMiss = errors.New("no matching documented value")
)

// ExpressionError reports a forced or derived parameter that could not be computed.
type ExpressionError struct {
	File      string
	Parameter string
	Kind      ParameterKind
	Err       error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("In file '%s': '%s' parameter '%s' could not be computed: %v", e.File, e.Kind, e.Parameter, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// DeviceWriteError reports a failed parameter write.
type DeviceWriteError struct {
	Parameter string
	Value     float64
	Err       error
}

func (e *DeviceWriteError) Error() string {
	return fmt.Sprintf("failed to set parameter %s to %s: %v", e.Parameter, params.FormatValue(e.Value), e.Err)
}

func (e *DeviceWriteError) Unwrap() error { return e.Err }

// DeviceResetError reports a failed reset and reconnect cycle.
type DeviceResetError struct {
	Err error
}

func (e *DeviceResetError) Error() string {
	return fmt.Sprintf("flight controller reset failed: %v", e.Err)
}

func (e *DeviceResetError) Unwrap() error { return e.Err }

// ValidationMismatchError reports a parameter whose device value differs from
// the uploaded one. Actual is nil when the device did not report the parameter.
type ValidationMismatchError struct {
	Parameter string
	Expected  float64
	Actual    *float64
}

func (e *ValidationMismatchError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("parameter %s upload to the flight controller failed: parameter missing", e.Parameter)
	}
	return fmt.Sprintf("parameter %s upload to the flight controller failed: expected %s, got %s",
		e.Parameter, params.FormatValue(e.Expected), params.FormatValue(*e.Actual))
}

// InvalidParameterNameError reports an unusable parameter name.
type InvalidParameterNameError struct {
	Name   string
	Reason string
}

func (e *InvalidParameterNameError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid parameter name: %s", e.Reason)
	}
	return fmt.Sprintf("invalid parameter name %q: %s", e.Name, e.Reason)
}

// OperationNotPossibleError reports an operation the current state forbids.
type OperationNotPossibleError struct {
	Operation string
	Reason    string
	Err       error
}

func (e *OperationNotPossibleError) Error() string {
	return fmt.Sprintf("%s not possible: %s", e.Operation, e.Reason)
}

func (e *OperationNotPossibleError) Unwrap() error { return e.Err }
