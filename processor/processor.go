// Package processor assembles a configuration session from a configuration
// file: storage, device driver, interaction, progress, journal and telemetry.
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/paramflow/config"
	"github.com/timzifer/paramflow/drivers/simulated"
	"github.com/timzifer/paramflow/internal/journal"
	"github.com/timzifer/paramflow/internal/logging"
	"github.com/timzifer/paramflow/internal/progress"
	"github.com/timzifer/paramflow/internal/prompt"
	"github.com/timzifer/paramflow/runtime/device"
	"github.com/timzifer/paramflow/runtime/interaction"
	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
	"github.com/timzifer/paramflow/service"
	"github.com/timzifer/paramflow/storage/filesystem"
	"github.com/timzifer/paramflow/telemetry"
)

// Option configures the processor during construction.
type Option func(*settings) error

// DeviceFactory creates a flight controller client for a driver name.
type DeviceFactory func(cfg config.DeviceConfig, resolve func(string) string, logger zerolog.Logger) (device.Client, error)

type settings struct {
	config            *config.Config
	configPath        string
	logger            zerolog.Logger
	customLogger      bool
	telemetry         telemetry.Collector
	telemetryProvided bool
	device            device.Client
	ui                interaction.Interaction
	store             storage.Storage
	factories         map[string]DeviceFactory
	sessionOptions    service.Options
}

// Processor owns a configured session and the resources behind it.
type Processor struct {
	mu sync.Mutex

	config    *config.Config
	logger    zerolog.Logger
	collector telemetry.Collector
	store     storage.Storage
	device    device.Client
	ui        interaction.Interaction
	progress  *progress.Store
	journal   *journal.Journal
	session   *service.Session

	metrics *http.Server
	cleanup []func()
	closed  bool
}

func builtinFactories() map[string]DeviceFactory {
	return map[string]DeviceFactory{
		"simulated": simulatedDevice,
		"none":      offlineDevice,
	}
}

func simulatedDevice(cfg config.DeviceConfig, resolve func(string) string, logger zerolog.Logger) (device.Client, error) {
	var s simulated.Settings
	if cfg.Settings != "" {
		loaded, err := simulated.LoadSettings(resolve(cfg.Settings))
		if err != nil {
			return nil, err
		}
		s = loaded
	}
	if s.ParamsFile != "" {
		s.ParamsFile = resolve(s.ParamsFile)
	}
	return simulated.New(s, logger)
}

func offlineDevice(_ config.DeviceConfig, _ func(string) string, logger zerolog.Logger) (device.Client, error) {
	return simulated.New(simulated.Settings{Disconnected: true}, logger)
}

// New constructs a processor with the supplied options.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := settings{
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
		factories: builtinFactories(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		if cfg.configPath == "" {
			return nil, errors.New("configuration path required")
		}
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg.config = loaded
	} else if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &Processor{config: cfg.config}
	if err := p.build(cfg); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Processor) build(cfg settings) error {
	conf := p.config

	p.logger = cfg.logger
	if !cfg.customLogger {
		logger, cleanup, err := logging.Setup(conf.Logging, os.Stderr)
		if err != nil {
			return err
		}
		p.logger = logger
		p.cleanup = append(p.cleanup, cleanup)
	}
	p.logger = p.logger.With().Str("vehicle", conf.VehicleDir).Logger()

	p.collector = cfg.telemetry
	if !cfg.telemetryProvided {
		collector, err := newTelemetryCollector(conf.Telemetry)
		if err != nil {
			p.logger.Warn().Err(err).Msg("telemetry disabled")
			collector = telemetry.Noop()
		}
		p.collector = collector
		if srv := newMetricsServer(conf.Telemetry, p.logger); srv != nil {
			p.metrics = srv
		}
	}

	p.store = cfg.store
	if p.store == nil {
		store, err := filesystem.Open(filesystem.Options{
			Dir:               conf.VehicleDir,
			StepsFile:         conf.StepsFile,
			DocumentationFile: conf.DocumentationFile,
			ComponentsFile:    conf.ComponentsFile,
			DefaultsFile:      conf.DefaultsFile,
		}, p.logger)
		if err != nil {
			return fmt.Errorf("open vehicle directory: %w", err)
		}
		p.store = store
	}

	p.device = cfg.device
	if p.device == nil {
		driver := strings.ToLower(strings.TrimSpace(conf.Device.Driver))
		factory, ok := cfg.factories[driver]
		if !ok {
			return fmt.Errorf("unknown device driver %q", conf.Device.Driver)
		}
		dev, err := factory(conf.Device, conf.Resolve, p.logger)
		if err != nil {
			return fmt.Errorf("create %s device: %w", driver, err)
		}
		p.device = dev
	}

	p.ui = cfg.ui
	if p.ui == nil {
		ui, err := prompt.New(prompt.Options{
			Mode:        conf.Interaction.Mode,
			Simple:      conf.Interaction.Simple,
			AutoConfirm: conf.Interaction.AutoConfirm,
			AutoRetries: conf.Interaction.AutoRetries,
		}, p.logger)
		if err != nil {
			return err
		}
		p.ui = ui
	}

	var progressStore service.ProgressStore
	if conf.Progress != "" {
		store, err := progress.Open(conf.Resolve(conf.Progress))
		if err != nil {
			return err
		}
		p.progress = store
		progressStore = store
	}

	var journalStore service.Journal
	if conf.Journal != "" {
		j, err := journal.Open(conf.Resolve(conf.Journal))
		if err != nil {
			return err
		}
		p.journal = j
		journalStore = j
	}

	opts := cfg.sessionOptions
	opts.OptionalThreshold = conf.Navigator.OptionalThreshold
	if len(conf.Navigator.AlwaysOptional) > 0 {
		opts.AlwaysOptional = conf.Navigator.AlwaysOptional
	}
	opts.Upload = service.UploadOptions{
		Tolerance:          params.Tolerance{Absolute: conf.Upload.Tolerance.Absolute, Relative: conf.Upload.Tolerance.Relative},
		ResetSuffixes:      conf.Upload.ResetSuffixes,
		BootDelayParameter: conf.Upload.BootDelayParameter,
		ExportFile:         conf.Upload.ExportFile,
	}

	session, err := service.NewSession(service.Dependencies{
		Storage:     p.store,
		Device:      p.device,
		Interaction: p.ui,
		Progress:    progressStore,
		Journal:     journalStore,
		Telemetry:   p.collector,
	}, opts, p.logger)
	if err != nil {
		return err
	}
	p.session = session
	return nil
}

// Session returns the configuration session.
func (p *Processor) Session() *service.Session { return p.session }

// Config returns the effective configuration.
func (p *Processor) Config() *config.Config { return p.config }

// Logger returns the processor logger.
func (p *Processor) Logger() zerolog.Logger { return p.logger }

// Storage returns the step storage.
func (p *Processor) Storage() storage.Storage { return p.store }

// Device returns the flight controller client.
func (p *Processor) Device() device.Client { return p.device }

// Interaction returns the operator interaction.
func (p *Processor) Interaction() interaction.Interaction { return p.ui }

// Progress returns the progress store, nil when disabled.
func (p *Processor) Progress() *progress.Store { return p.progress }

// Journal returns the upload journal, nil when disabled.
func (p *Processor) Journal() *journal.Journal { return p.journal }

// ResumeStep picks the step to open: the step after the last completed one,
// otherwise the first step.
func (p *Processor) ResumeStep() (string, error) {
	files := p.store.StepFiles()
	if len(files) == 0 {
		return "", errors.New("vehicle directory has no configuration steps")
	}
	if p.progress == nil {
		return files[0], nil
	}
	last, ok := p.progress.LastCompleted()
	if !ok {
		return files[0], nil
	}
	if next, ok := p.session.Navigator().NextNonOptional(last); ok {
		return next, nil
	}
	return last, nil
}

// Upload uploads parameters of the active step bounded by the configured
// device timeout.
func (p *Processor) Upload(ctx context.Context, names ...string) (*service.UploadResult, error) {
	if timeout := p.config.Device.Timeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.session.Upload(ctx, names...)
}

// Close releases the journal, metrics listener and log sinks.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.metrics != nil {
		if err := p.metrics.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.journal != nil {
		if err := p.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(p.cleanup) - 1; i >= 0; i-- {
		if p.cleanup[i] != nil {
			p.cleanup[i]()
		}
	}
	return errors.Join(errs...)
}
