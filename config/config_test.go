package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paramflow.yaml")
	content := `vehicle_dir: vehicles/quad
device:
  driver: simulated
  timeout: 30s
upload:
  reset_suffixes: [_ENABLE, _TYPE]
interaction:
  mode: auto
  auto_retries: 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VehicleDir != filepath.Join(dir, "vehicles/quad") {
		t.Fatalf("unexpected vehicle dir %q", cfg.VehicleDir)
	}
	if cfg.Device.Timeout.Duration != 30*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Device.Timeout)
	}
	if cfg.Navigator.OptionalThreshold != 20 {
		t.Fatalf("expected default threshold, got %d", cfg.Navigator.OptionalThreshold)
	}
	if cfg.Upload.Tolerance.Absolute != 1e-6 {
		t.Fatalf("expected default tolerance, got %v", cfg.Upload.Tolerance)
	}
	if len(cfg.Upload.ResetSuffixes) != 2 {
		t.Fatalf("expected 2 reset suffixes, got %v", cfg.Upload.ResetSuffixes)
	}
	if got := cfg.Resolve(cfg.Progress); got != filepath.Join(cfg.VehicleDir, ".paramflow/progress.json") {
		t.Fatalf("unexpected progress path %q", got)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paramflow.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvVehicleDir, "/srv/vehicle")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvInteraction, "terminal")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VehicleDir != "/srv/vehicle" || cfg.Logging.Level != "debug" || cfg.Interaction.Mode != "terminal" {
		t.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	cfg := Default()
	cfg.Navigator.OptionalThreshold = 120
	cfg.Interaction.Mode = "gui"
	cfg.Upload.Tolerance.Relative = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"vehicle_dir", "optional_threshold", "gui", "tolerance"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(EnvInteraction+"=auto\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv(EnvInteraction, "")
	os.Unsetenv(EnvInteraction)
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv(EnvInteraction); got != "auto" {
		t.Fatalf("expected auto, got %q", got)
	}
}
