package params

// Parameter is the in-memory model of one parameter of the active step.
//
// The committed file value and comment reflect what is stored on disk. The
// pending value and change reason carry edits and resolved overrides until
// they are saved. Device and default values are informational and only
// present when known.
type Parameter struct {
	Name string

	FileValue   float64
	FileComment string

	NewValue     float64
	ChangeReason string

	DeviceValue  *float64
	DefaultValue *float64

	Forced  bool
	Derived bool

	Doc *Documentation
}

// NewParameter creates a parameter whose pending state equals its committed
// state.
func NewParameter(name string, v Value) *Parameter {
	return &Parameter{
		Name:         name,
		FileValue:    v.Value,
		FileComment:  v.Comment,
		NewValue:     v.Value,
		ChangeReason: v.Comment,
	}
}

// Pending returns the value that would be saved.
func (p *Parameter) Pending() Value {
	return Value{Value: p.NewValue, Comment: p.ChangeReason}
}

// Edited reports whether the pending state differs from the committed one.
// Values are compared exactly.
func (p *Parameter) Edited() bool {
	return p.NewValue != p.FileValue || p.ChangeReason != p.FileComment
}

// Commit makes the pending state the committed state.
func (p *Parameter) Commit() {
	p.FileValue = p.NewValue
	p.FileComment = p.ChangeReason
}

// Editable reports whether an operator may change the value directly.
func (p *Parameter) Editable() bool {
	return !p.Forced && !p.Derived && !p.IsReadOnly()
}

// IsReadOnly reports whether the documentation marks the parameter read-only.
func (p *Parameter) IsReadOnly() bool { return p.Doc != nil && p.Doc.ReadOnly }

// IsCalibration reports whether the parameter holds calibration data.
func (p *Parameter) IsCalibration() bool { return p.Doc != nil && p.Doc.Calibration }

// IsBitmask reports whether the parameter is documented as a bitmask.
func (p *Parameter) IsBitmask() bool { return p.Doc.IsBitmask() }

// IsEnumeration reports whether the parameter has named values.
func (p *Parameter) IsEnumeration() bool { return p.Doc.IsEnumeration() }

// RebootRequired reports whether the device must restart for a change to apply.
func (p *Parameter) RebootRequired() bool { return p.Doc != nil && p.Doc.RebootRequired }

// DiffersFromDevice reports whether the pending value is absent from or
// different to the device value.
func (p *Parameter) DiffersFromDevice(tol Tolerance) bool {
	if p.DeviceValue == nil {
		return true
	}
	return !tol.Equal(*p.DeviceValue, p.NewValue)
}

// IsDefault reports whether the pending value equals the documented default.
func (p *Parameter) IsDefault(tol Tolerance) bool {
	return p.DefaultValue != nil && tol.Equal(*p.DefaultValue, p.NewValue)
}
