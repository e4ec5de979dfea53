package processor

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/paramflow/config"
	"github.com/timzifer/paramflow/runtime/device"
	"github.com/timzifer/paramflow/runtime/interaction"
	"github.com/timzifer/paramflow/runtime/storage"
	"github.com/timzifer/paramflow/service"
	"github.com/timzifer/paramflow/telemetry"
)

// WithLogger provides a custom logger instance for the processor.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		cfg.customLogger = true
		return nil
	}
}

// WithConfigPath loads the configuration from path.
func WithConfigPath(path string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.configPath = strings.TrimSpace(path)
		return nil
	}
}

// WithConfig supplies an already loaded configuration instance.
func WithConfig(cfgData *config.Config) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.config = cfgData
		return nil
	}
}

// WithTelemetry injects a collector instance overriding the configuration.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		cfg.telemetryProvided = true
		return nil
	}
}

// WithDevice uses dev instead of the configured driver.
func WithDevice(dev device.Client) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.device = dev
		return nil
	}
}

// WithInteraction uses ui instead of the configured interaction mode.
func WithInteraction(ui interaction.Interaction) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.ui = ui
		return nil
	}
}

// WithStorage uses store instead of the vehicle directory.
func WithStorage(store storage.Storage) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.store = store
		return nil
	}
}

// WithDeviceFactory registers a driver.
func WithDeviceFactory(driver string, factory DeviceFactory) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		driver = strings.ToLower(strings.TrimSpace(driver))
		if driver == "" || factory == nil {
			return fmt.Errorf("device factory requires a driver name and a factory")
		}
		cfg.factories[driver] = factory
		return nil
	}
}

// WithSessionOptions sets session hooks such as progress callbacks and the
// translator. Navigator and upload tuning still come from the configuration.
func WithSessionOptions(opts service.Options) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.sessionOptions = opts
		return nil
	}
}
