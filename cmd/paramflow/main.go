package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/timzifer/paramflow/config"
	"github.com/timzifer/paramflow/processor"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// errReported marks failures already printed to the operator.
var errReported = errors.New("reported")

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	vehicleDir string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "paramflow",
		Short:         "Guide a flight controller through its configuration steps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(opts.envFile)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "paramflow.yaml", "Path to configuration file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	flags.StringVar(&opts.vehicleDir, "vehicle", "", "Override the configured vehicle directory")

	root.AddCommand(
		newCheckCmd(opts),
		newPlanCmd(opts),
		newResolveCmd(opts),
		newUploadCmd(opts),
		newNextCmd(opts),
	)
	return root
}

// loadConfig reads the configuration and applies command line overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.vehicleDir != "" {
		os.Setenv(config.EnvVehicleDir, o.vehicleDir)
	}
	if o.logLevel != "" {
		os.Setenv(config.EnvLogLevel, o.logLevel)
	}
	if _, err := os.Stat(o.configPath); errors.Is(err, os.ErrNotExist) && o.vehicleDir != "" {
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	return config.Load(o.configPath)
}

// open builds a processor. Offline processors never talk to a device.
func (o *rootOptions) open(cmd *cobra.Command, offline bool) (*processor.Processor, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Device.Driver = "none"
	}
	return processor.New(cmd.Context(), processor.WithConfig(cfg))
}
