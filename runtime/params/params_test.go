package params

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToleranceIsSymmetric(t *testing.T) {
	cases := [][2]float64{
		{1, 1},
		{1, 1.0000001},
		{0, 1e-7},
		{100, 100.00001},
		{-5, 5},
		{1e6, 1e6 + 0.5},
		{1e6, 1e6 + 5},
		{0.1, 0.2},
		{math.NaN(), 1},
	}
	for _, c := range cases {
		require.Equal(t, WithinTolerance(c[0], c[1]), WithinTolerance(c[1], c[0]), "pair %v", c)
	}
	require.True(t, WithinTolerance(1, 1.0000001))
	require.False(t, WithinTolerance(0.1, 0.2))
	require.False(t, WithinTolerance(math.NaN(), math.NaN()))
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "4000", FormatValue(4000))
	require.Equal(t, "0.1", FormatValue(0.1))
	require.Equal(t, "-1.5", FormatValue(-1.5))
	require.Equal(t, "0.333333", FormatValue(1.0/3.0))
}

func TestDictKeepsInsertionOrder(t *testing.T) {
	d := NewDict()
	d.Set("B", Value{Value: 1})
	d.Set("A", Value{Value: 2})
	d.Set("B", Value{Value: 3})
	require.Equal(t, []string{"B", "A"}, d.Names())

	require.NoError(t, d.Rename("B", "C"))
	require.Equal(t, []string{"C", "A"}, d.Names())
	v, ok := d.Get("C")
	require.True(t, ok)
	require.Equal(t, 3.0, v.Value)

	require.Error(t, d.Rename("C", "A"))
	require.True(t, d.Delete("A"))
	require.False(t, d.Delete("A"))
	require.Equal(t, 1, d.Len())
}

func TestParseAndWrite(t *testing.T) {
	input := strings.Join([]string{
		"# header",
		"SERIAL1_PROTOCOL,2  # MAVLink2",
		"BRD_BOOT_DELAY\t3000",
		"",
		"ATC_RAT_RLL_P 0.135",
	}, "\n")
	d, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"SERIAL1_PROTOCOL", "BRD_BOOT_DELAY", "ATC_RAT_RLL_P"}, d.Names())
	v, _ := d.Get("SERIAL1_PROTOCOL")
	require.Equal(t, Value{Value: 2, Comment: "MAVLink2"}, v)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, d, func(name string) []string {
		if name == "BRD_BOOT_DELAY" {
			return []string{"Boot delay"}
		}
		return nil
	}))
	require.Equal(t, "SERIAL1_PROTOCOL,2  # MAVLink2\n# Boot delay\nBRD_BOOT_DELAY,3000\nATC_RAT_RLL_P,0.135\n", buf.String())
}

func TestParseRejectsInvalidLines(t *testing.T) {
	for _, input := range []string{
		"lower_case,1",
		"NAME",
		"NAME,abc",
		"A,1\nA,2",
		"THIS_NAME_IS_WAY_TOO_LONG,1",
	} {
		_, err := Parse(strings.NewReader(input))
		require.Error(t, err, input)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "01_a.param")
	d := NewDict()
	d.Set("A", Value{Value: 1.25, Comment: "why"})
	require.NoError(t, WriteFile(path, d, nil))

	got, err := ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, d.Values(), got.Values())
}

func TestDocumentationLookups(t *testing.T) {
	doc := &Documentation{
		Values:  map[int64]string{0: "None", 1: "MAVLink1", 2: "MAVLink2", 3: "MAVLink2"},
		Bitmask: map[int]string{0: "Roll", 1: "Pitch", 3: "Yaw"},
	}
	v, ok := doc.LookupValue("MAVLink2")
	require.True(t, ok)
	require.Equal(t, 2.0, v)
	_, ok = doc.LookupValue("GPS")
	require.False(t, ok)

	v, ok = doc.LookupBitmask("Roll, Yaw")
	require.True(t, ok)
	require.Equal(t, 9.0, v)
	_, ok = doc.LookupBitmask("Roll,Unknown")
	require.False(t, ok)

	wide := &Documentation{Bitmask: map[int]string{0: "Low", 40: "High", -1: "Neg"}}
	v, ok = wide.LookupBitmask("Low")
	require.True(t, ok)
	require.Equal(t, 1.0, v)
	_, ok = wide.LookupBitmask("Low,High")
	require.False(t, ok)
	_, ok = wide.LookupBitmask("Neg")
	require.False(t, ok)

	binding := doc.Binding()
	require.Equal(t, "MAVLink1", binding["values"].(map[string]interface{})["1"])
	require.Equal(t, "Yaw", binding["Bitmask"].(map[string]interface{})["3"])
}

func TestParameterEditability(t *testing.T) {
	p := NewParameter("A", Value{Value: 1, Comment: "c"})
	require.True(t, p.Editable())
	require.False(t, p.Edited())

	p.NewValue = 2
	require.True(t, p.Edited())
	p.Commit()
	require.False(t, p.Edited())

	p.Forced = true
	require.False(t, p.Editable())
	p.Forced = false
	p.Doc = &Documentation{ReadOnly: true}
	require.False(t, p.Editable())

	require.True(t, p.DiffersFromDevice(DefaultTolerance))
	dev := 2.0
	p.DeviceValue = &dev
	require.False(t, p.DiffersFromDevice(DefaultTolerance))
}
