package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/paramflow/runtime/params"
)

const testSteps = `
phases:
  - name: Hardware
    start: 1
  - name: Tuning
    start: 3
steps:
  01_a.param:
    description: First step
    mandatory_text: "80% mandatory (20% optional)"
    forced_parameters:
      SERIAL1_PROTOCOL:
        new_value: '"MAVLink2"'
        change_reason: Telemetry radio
    jump_possible:
      - destination: 03_c.param
        message: Skip b?
  03_c.param:
    derived_parameters:
      BRD_BOOT_DELAY:
        new_value: "device.BRD_BOOT_DELAY + 1000"
    always_optional: true
`

const testDocs = `
SERIAL1_PROTOCOL:
  display_name: Telemetry 1 protocol
  values:
    1: MAVLink1
    2: MAVLink2
BRD_BOOT_DELAY:
  display_name: Boot delay
  units: ms
  min: 0
  max: 10000
  default: 0
  reboot_required: true
`

const testComponents = `{
  "Format version": 1,
  "Components": {
    "GNSS Receiver": {"FC Connection": {"Type": "SERIAL3", "Protocol": "uBlox"}}
  }
}`

func writeVehicle(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestOpenLoadsVehicleDirectory(t *testing.T) {
	dir := writeVehicle(t, map[string]string{
		"00_default.param":       "SERIAL1_PROTOCOL,1\nBRD_BOOT_DELAY,0\n",
		"01_a.param":             "SERIAL1_PROTOCOL,2  # radio\n",
		"02_b.param":             "",
		"03_c.param":             "BRD_BOOT_DELAY,3000\n",
		"notes.txt":              "ignored",
		"vehicle.param":          "A,1\n",
		DefaultStepsFile:         testSteps,
		DefaultDocumentationFile: testDocs,
		DefaultComponentsFile:    testComponents,
	})

	store, err := Open(Options{Dir: dir}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{"00_default.param", "01_a.param", "02_b.param", "03_c.param"}, store.StepFiles())

	step, ok := store.Step("01_a.param")
	require.True(t, ok)
	require.Equal(t, "01_a.param", step.File)
	require.Equal(t, `"MAVLink2"`, step.ForcedParameters["SERIAL1_PROTOCOL"].NewValue)
	require.Equal(t, "80% mandatory (20% optional)", store.MandatoryPercentageTextFor("01_a.param"))
	require.Len(t, store.JumpTargetsFor("01_a.param"), 1)

	step, ok = store.Step("03_c.param")
	require.True(t, ok)
	require.True(t, step.AlwaysOptional)

	_, ok = store.Step("02_b.param")
	require.True(t, ok)

	doc := store.DocumentationFor("BRD_BOOT_DELAY")
	require.NotNil(t, doc)
	require.True(t, doc.RebootRequired)
	v, ok := doc.LookupValue("MAVLink2")
	require.False(t, ok)
	require.Zero(t, v)
	v, ok = store.DocumentationFor("SERIAL1_PROTOCOL").LookupValue("MAVLink2")
	require.True(t, ok)
	require.Equal(t, 2.0, v)

	def, ok := store.DefaultValueFor("SERIAL1_PROTOCOL")
	require.True(t, ok)
	require.Equal(t, 1.0, def)

	gnss := store.Components()["GNSS Receiver"].(map[string]interface{})
	require.Equal(t, "SERIAL3", gnss["FC Connection"].(map[string]interface{})["Type"])

	phases := store.Phases()
	require.Len(t, phases, 2)
	require.Equal(t, "Hardware", phases[0].Name)

	values, err := store.ParametersForFile("01_a.param")
	require.NoError(t, err)
	got, _ := values.Get("SERIAL1_PROTOCOL")
	require.Equal(t, params.Value{Value: 2, Comment: "radio"}, got)
}

func TestOpenRejectsInvalidStepsFile(t *testing.T) {
	for name, content := range map[string]string{
		"unknown field":   "steps:\n  01_a.param:\n    colour: red\n",
		"bad step name":   "steps:\n  first.txt: {}\n",
		"empty value":     "steps:\n  01_a.param:\n    forced_parameters:\n      A:\n        new_value: \"\"\n",
		"lowercase param": "steps:\n  01_a.param:\n    forced_parameters:\n      gps_type:\n        new_value: \"1\"\n",
		"negative phase":  "phases:\n  - name: X\n    start: -1\nsteps: {}\n",
	} {
		t.Run(name, func(t *testing.T) {
			dir := writeVehicle(t, map[string]string{
				"01_a.param":     "A,1\n",
				DefaultStepsFile: content,
			})
			_, err := Open(Options{Dir: dir}, zerolog.Nop())
			require.Error(t, err)
		})
	}
}

func TestOpenWithoutMetadata(t *testing.T) {
	dir := writeVehicle(t, map[string]string{"01_a.param": "A,1\n"})
	store, err := Open(Options{Dir: dir}, zerolog.Nop())
	require.NoError(t, err)
	_, ok := store.Step("01_a.param")
	require.True(t, ok)
	require.Nil(t, store.DocumentationFor("A"))
	require.Empty(t, store.Components())
	_, ok = store.DefaultValueFor("A")
	require.False(t, ok)
}

func TestWriteAndExport(t *testing.T) {
	dir := writeVehicle(t, map[string]string{
		"01_a.param":             "BRD_BOOT_DELAY,0\n",
		DefaultDocumentationFile: testDocs,
	})
	store, err := Open(Options{Dir: dir}, zerolog.Nop())
	require.NoError(t, err)

	values := params.NewDict()
	values.Set("BRD_BOOT_DELAY", params.Value{Value: 2000, Comment: "slow GPS"})
	require.NoError(t, store.WriteParameters("01_a.param", values))
	data, err := os.ReadFile(filepath.Join(dir, "01_a.param"))
	require.NoError(t, err)
	require.Equal(t, "BRD_BOOT_DELAY,2000  # slow GPS\n", string(data))

	require.Error(t, store.WriteParameters("09_missing.param", values))

	require.NoError(t, store.ExportParameters(values, "params_missing_or_different.param", true))
	data, err = os.ReadFile(filepath.Join(dir, "params_missing_or_different.param"))
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasPrefix(content, "# Boot delay\n# Range: 0 - 10000 ms\n# Reboot required\n"), content)
	require.Contains(t, content, "BRD_BOOT_DELAY,2000  # slow GPS\n")

	def, ok := store.DefaultValueFor("BRD_BOOT_DELAY")
	require.True(t, ok)
	require.Zero(t, def)
}
