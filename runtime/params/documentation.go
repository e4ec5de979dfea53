package params

import (
	"sort"
	"strconv"
	"strings"
)

// Documentation is the metadata published for a single flight controller
// parameter.
type Documentation struct {
	DisplayName    string           `yaml:"display_name,omitempty"`
	Description    string           `yaml:"description,omitempty"`
	Units          string           `yaml:"units,omitempty"`
	Min            *float64         `yaml:"min,omitempty"`
	Max            *float64         `yaml:"max,omitempty"`
	Default        *float64         `yaml:"default,omitempty"`
	Increment      *float64         `yaml:"increment,omitempty"`
	Values         map[int64]string `yaml:"values,omitempty"`
	Bitmask        map[int]string   `yaml:"bitmask,omitempty"`
	ReadOnly       bool             `yaml:"read_only,omitempty"`
	Calibration    bool             `yaml:"calibration,omitempty"`
	RebootRequired bool             `yaml:"reboot_required,omitempty"`
}

// IsEnumeration reports whether the parameter has named values.
func (d *Documentation) IsEnumeration() bool {
	return d != nil && len(d.Values) > 0
}

// IsBitmask reports whether the parameter is a bitmask.
func (d *Documentation) IsBitmask() bool {
	return d != nil && len(d.Bitmask) > 0
}

// LookupValue maps an enumeration label back to its numeric code. When a
// label is listed more than once the smallest code wins.
func (d *Documentation) LookupValue(label string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	codes := make([]int64, 0, len(d.Values))
	for code := range d.Values {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, code := range codes {
		if d.Values[code] == label {
			return float64(code), true
		}
	}
	return 0, false
}

// maxBitmaskBits bounds bitmask positions; parameters hold 32-bit values.
const maxBitmaskBits = 32

// LookupBitmask converts a comma separated list of bit labels into the sum of
// their bit values. Every label must be known.
func (d *Documentation) LookupBitmask(labels string) (float64, bool) {
	if d == nil || len(d.Bitmask) == 0 {
		return 0, false
	}
	byLabel := make(map[string]int, len(d.Bitmask))
	for bit, label := range d.Bitmask {
		if bit < 0 || bit >= maxBitmaskBits {
			continue
		}
		if existing, ok := byLabel[label]; !ok || bit < existing {
			byLabel[label] = bit
		}
	}
	var total uint64
	seen := make(map[int]struct{})
	for _, part := range strings.Split(labels, ",") {
		label := strings.TrimSpace(part)
		if label == "" {
			continue
		}
		bit, ok := byLabel[label]
		if !ok {
			return 0, false
		}
		if _, dup := seen[bit]; dup {
			continue
		}
		seen[bit] = struct{}{}
		total += 1 << uint(bit)
	}
	if len(seen) == 0 {
		return 0, false
	}
	return float64(total), true
}

// Binding exposes the documentation to expressions as doc["NAME"][...].
func (d *Documentation) Binding() map[string]interface{} {
	out := map[string]interface{}{
		"units":           d.Units,
		"display_name":    d.DisplayName,
		"reboot_required": d.RebootRequired,
	}
	if d.Min != nil {
		out["min"] = *d.Min
	}
	if d.Max != nil {
		out["max"] = *d.Max
	}
	if d.Default != nil {
		out["default"] = *d.Default
	}
	if len(d.Values) > 0 {
		values := make(map[string]interface{}, len(d.Values))
		for code, label := range d.Values {
			values[strconv.FormatInt(code, 10)] = label
		}
		out["values"] = values
	}
	if len(d.Bitmask) > 0 {
		bits := make(map[string]interface{}, len(d.Bitmask))
		for bit, label := range d.Bitmask {
			bits[strconv.Itoa(bit)] = label
		}
		out["Bitmask"] = bits
	}
	return out
}
