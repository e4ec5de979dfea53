package simulated

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/paramflow/runtime/params"
)

// Settings configures the simulated flight controller.
type Settings struct {
	// ParamsFile seeds the device parameters from a step file.
	ParamsFile string `yaml:"params_file,omitempty"`
	// Parameters seed or override individual values.
	Parameters map[string]float64 `yaml:"parameters,omitempty"`
	// Hidden parameters only appear after the next reset, like parameters
	// unlocked by an *_ENABLE switch.
	Hidden map[string]float64 `yaml:"hidden,omitempty"`
	// Defaults are reported by DownloadParameters.
	Defaults map[string]float64 `yaml:"defaults,omitempty"`
	// FailWrites lists parameters whose writes are rejected.
	FailWrites []string `yaml:"fail_writes,omitempty"`
	// FailReset makes every reset fail.
	FailReset bool `yaml:"fail_reset,omitempty"`
	// Disconnected starts the device without a connection.
	Disconnected bool `yaml:"disconnected,omitempty"`
	// SecondsPerSettle scales the settle time; zero skips waiting.
	SecondsPerSettle time.Duration `yaml:"seconds_per_settle,omitempty"`
}

// LoadSettings reads settings from a YAML file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode simulated device settings: %w", err)
	}
	return settings, nil
}

func (s Settings) initialValues() (map[string]float64, error) {
	values := make(map[string]float64)
	if s.ParamsFile != "" {
		seed, err := params.ParseFile(s.ParamsFile)
		if err != nil {
			return nil, fmt.Errorf("seed simulated device: %w", err)
		}
		for name, v := range seed.Values() {
			values[name] = v
		}
	}
	for name, v := range s.Parameters {
		values[name] = v
	}
	return values, nil
}
