package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding file values.
const (
	EnvLogLevel    = "PARAMFLOW_LOG_LEVEL"
	EnvVehicleDir  = "PARAMFLOW_VEHICLE_DIR"
	EnvInteraction = "PARAMFLOW_INTERACTION"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	// Listen exposes /metrics when set, e.g. ":9464".
	Listen string `yaml:"listen,omitempty"`
}

// DeviceConfig selects the flight controller driver.
type DeviceConfig struct {
	Driver string `yaml:"driver"`
	// Settings points at a driver specific settings file.
	Settings string `yaml:"settings,omitempty"`
	// Timeout bounds every blocking device call of an upload.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// ToleranceConfig mirrors params.Tolerance.
type ToleranceConfig struct {
	Absolute float64 `yaml:"absolute"`
	Relative float64 `yaml:"relative"`
}

// UploadConfig tunes the upload orchestrator.
type UploadConfig struct {
	Tolerance          ToleranceConfig `yaml:"tolerance"`
	ResetSuffixes      []string        `yaml:"reset_suffixes,omitempty"`
	BootDelayParameter string          `yaml:"boot_delay_parameter,omitempty"`
	ExportFile         string          `yaml:"export_file,omitempty"`
}

// NavigatorConfig tunes step navigation.
type NavigatorConfig struct {
	OptionalThreshold int      `yaml:"optional_threshold"`
	AlwaysOptional    []string `yaml:"always_optional,omitempty"`
}

// InteractionConfig selects how the operator is asked.
type InteractionConfig struct {
	Mode        string `yaml:"mode,omitempty"`
	Simple      bool   `yaml:"simple,omitempty"`
	AutoConfirm bool   `yaml:"auto_confirm,omitempty"`
	AutoRetries int    `yaml:"auto_retries,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	VehicleDir        string            `yaml:"vehicle_dir"`
	StepsFile         string            `yaml:"steps_file,omitempty"`
	DocumentationFile string            `yaml:"documentation_file,omitempty"`
	ComponentsFile    string            `yaml:"components_file,omitempty"`
	DefaultsFile      string            `yaml:"defaults_file,omitempty"`
	Logging           LoggingConfig     `yaml:"logging"`
	Telemetry         TelemetryConfig   `yaml:"telemetry"`
	Device            DeviceConfig      `yaml:"device"`
	Upload            UploadConfig      `yaml:"upload"`
	Navigator         NavigatorConfig   `yaml:"navigator"`
	Interaction       InteractionConfig `yaml:"interaction"`
	// Progress is the completed-steps file. Relative paths resolve against
	// VehicleDir. Empty disables progress tracking.
	Progress string `yaml:"progress,omitempty"`
	// Journal is the sqlite upload journal. Empty disables journaling.
	Journal string `yaml:"journal,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Device:    DeviceConfig{Driver: "simulated", Timeout: Duration{Duration: 2 * time.Minute}},
		Upload:    UploadConfig{Tolerance: ToleranceConfig{Absolute: 1e-6, Relative: 1e-6}},
		Navigator: NavigatorConfig{OptionalThreshold: 20},
		Progress:  ".paramflow/progress.json",
	}
}

// Load reads the YAML configuration at path on top of Default, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", abs, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", abs, err)
	}
	if cfg.VehicleDir != "" && !filepath.IsAbs(cfg.VehicleDir) {
		cfg.VehicleDir = filepath.Join(filepath.Dir(abs), cfg.VehicleDir)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", abs, err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. Variables
// already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from PARAMFLOW_* variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvVehicleDir)); v != "" {
		c.VehicleDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvInteraction)); v != "" {
		c.Interaction.Mode = v
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.VehicleDir) == "" {
		errs = append(errs, errors.New("vehicle_dir is required"))
	}
	if c.Upload.Tolerance.Absolute < 0 || c.Upload.Tolerance.Relative < 0 {
		errs = append(errs, errors.New("upload tolerance must not be negative"))
	}
	if c.Navigator.OptionalThreshold < 0 || c.Navigator.OptionalThreshold > 100 {
		errs = append(errs, fmt.Errorf("navigator optional_threshold %d outside 0..100", c.Navigator.OptionalThreshold))
	}
	if c.Interaction.AutoRetries < 0 {
		errs = append(errs, errors.New("interaction auto_retries must not be negative"))
	}
	switch strings.ToLower(c.Interaction.Mode) {
	case "", "auto", "terminal":
	default:
		errs = append(errs, fmt.Errorf("unknown interaction mode %q", c.Interaction.Mode))
	}
	if c.Device.Driver == "" {
		errs = append(errs, errors.New("device driver is required"))
	}
	return errors.Join(errs...)
}

// Resolve returns path relative to the vehicle directory unless absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.VehicleDir, path)
}
