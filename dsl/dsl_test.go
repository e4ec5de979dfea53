package dsl

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator() *Evaluator {
	return New(zerolog.Nop())
}

func TestEvaluateDeviceArithmetic(t *testing.T) {
	e := newTestEvaluator()
	bindings := Bindings{DeviceBinding: map[string]float64{"B": 5}}

	result, err := e.Evaluate("device.B*2", bindings)
	require.NoError(t, err)
	require.False(t, result.IsText)
	require.Equal(t, 10.0, result.Number)

	result, err = e.Evaluate(`device["B"] > 3 ? 1 : 0`, bindings)
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Number)
}

func TestEvaluateMissingDeviceKeyIsUndefined(t *testing.T) {
	e := newTestEvaluator()
	bindings := Bindings{DeviceBinding: map[string]float64{"B": 5}}

	_, err := e.Evaluate("device.C + 1", bindings)
	require.Error(t, err)
	require.True(t, IsKind(err, UndefinedVariable))

	var dslErr *Error
	require.ErrorAs(t, err, &dslErr)
	require.Equal(t, "device.C", dslErr.Name)
}

func TestEvaluateUnboundIdentifier(t *testing.T) {
	e := newTestEvaluator()
	_, err := e.Evaluate("vehicle_mass * 2", Bindings{})
	require.True(t, IsKind(err, UndefinedVariable))
}

func TestEvaluateSyntaxErrors(t *testing.T) {
	e := newTestEvaluator()
	for _, expression := range []string{"", "1 +", "(2", `now()`, `filter([1, 2], {# > 1})`, `exec("rm")`} {
		_, err := e.Evaluate(expression, Bindings{})
		require.True(t, IsKind(err, SyntaxError), expression)
	}
}

func TestEvaluateBuiltinsAndStrings(t *testing.T) {
	e := newTestEvaluator()
	bindings := Bindings{
		ComponentsBinding: map[string]interface{}{
			"Battery": map[string]interface{}{"Cells": 4.0, "Chemistry": "LiPo"},
		},
	}

	result, err := e.Evaluate(`max(components["Battery"]["Cells"] * 3.5, 10)`, bindings)
	require.NoError(t, err)
	require.Equal(t, 14.0, result.Number)

	result, err = e.Evaluate(`components.Battery.Chemistry == "LiPo" ? "MAVLink2" : "None"`, bindings)
	require.NoError(t, err)
	require.True(t, result.IsText)
	require.Equal(t, "MAVLink2", result.Text)

	result, err = e.Evaluate("abs(-3)", Bindings{})
	require.NoError(t, err)
	require.Equal(t, 3.0, result.Number)
}

func TestEvaluateRuntimeError(t *testing.T) {
	e := newTestEvaluator()
	_, err := e.Evaluate(`1 / 0`, Bindings{})
	require.True(t, IsKind(err, RuntimeError))

	_, err = e.Evaluate(`doc["X"]`, Bindings{DocBinding: map[string]interface{}{}})
	require.True(t, IsKind(err, RuntimeError))
}

func TestEvaluateDoesNotMutateBindings(t *testing.T) {
	e := newTestEvaluator()
	device := map[string]float64{"B": 5}
	bindings := Bindings{DeviceBinding: device}

	_, err := e.Evaluate("device.B + 1", bindings)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, map[string]float64{"B": 5}, device)
}

func TestReferences(t *testing.T) {
	e := newTestEvaluator()
	names, err := e.References(`device.A > 0 ? file["B"] : doc["A"]["max"]`)
	require.NoError(t, err)
	require.Equal(t, []string{"device", "doc", "file"}, names)

	uses, err := e.ReferencesDevice(`components.GNSS.Type`)
	require.NoError(t, err)
	require.False(t, uses)

	require.NoError(t, e.Check("1 + 2"))
	require.Error(t, e.Check("1 +"))
}
