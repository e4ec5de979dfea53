// Package prompt implements operator interaction on a terminal.
package prompt

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/timzifer/paramflow/runtime/interaction"
)

// Modes accepted by New.
const (
	ModeTerminal = "terminal"
	ModeAuto     = "auto"
)

// Options configure the interaction.
type Options struct {
	// Mode selects terminal prompts or automatic answers. Empty picks the
	// terminal when stdin is one.
	Mode string
	// Simple enables the simplified workflow.
	Simple bool
	// AutoConfirm is the answer automatic mode gives to confirmations.
	AutoConfirm bool
	// AutoRetries bounds the retries automatic mode accepts.
	AutoRetries int
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// New returns the interaction selected by opts.
func New(opts Options, logger zerolog.Logger) (interaction.Interaction, error) {
	logger = logger.With().Str("component", "prompt").Logger()
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = ModeAuto
		if term.IsTerminal(int(os.Stdin.Fd())) {
			mode = ModeTerminal
		}
	}
	switch mode {
	case ModeAuto:
		return &interaction.Auto{
			Confirm:    opts.AutoConfirm,
			Retries:    opts.AutoRetries,
			SimpleMode: opts.Simple,
			Logger:     logger,
		}, nil
	case ModeTerminal:
		return NewTerminal(os.Stderr, opts.Simple, logger), nil
	default:
		return nil, fmt.Errorf("unknown interaction mode %q", opts.Mode)
	}
}

// Terminal asks the operator with huh confirms and prints reports.
type Terminal struct {
	out    io.Writer
	simple bool
	logger zerolog.Logger
	ask    func(title, message, yes, no string) (bool, error)
}

// NewTerminal creates a terminal interaction writing reports to out.
func NewTerminal(out io.Writer, simple bool, logger zerolog.Logger) *Terminal {
	return &Terminal{out: out, simple: simple, logger: logger, ask: confirm}
}

func confirm(title, message, yes, no string) (bool, error) {
	var answer bool
	err := huh.NewConfirm().
		Title(title).
		Description(message).
		Affirmative(yes).
		Negative(no).
		Value(&answer).
		Run()
	return answer, err
}

// AskConfirmation asks a yes/no question. An aborted prompt answers no.
func (t *Terminal) AskConfirmation(title, message string) bool {
	answer, err := t.ask(title, message, "Yes", "No")
	if err != nil {
		t.logger.Warn().Err(err).Str("title", title).Msg("confirmation aborted")
		return false
	}
	return answer
}

// AskRetryOrCancel asks whether to retry. An aborted prompt cancels.
func (t *Terminal) AskRetryOrCancel(title, message string) bool {
	answer, err := t.ask(title, message, "Retry", "Cancel")
	if err != nil {
		t.logger.Warn().Err(err).Str("title", title).Msg("retry prompt aborted")
		return false
	}
	return answer
}

// ReportError prints an error report.
func (t *Terminal) ReportError(title, message string) {
	t.logger.Error().Str("title", title).Msg(message)
	fmt.Fprintf(t.out, "%s %s\n%s\n", errorStyle.Render("✗"), titleStyle.Render(title), message)
}

// ReportInfo prints an informational report.
func (t *Terminal) ReportInfo(title, message string) {
	t.logger.Info().Str("title", title).Msg(message)
	fmt.Fprintf(t.out, "%s %s\n%s\n", infoStyle.Render("i"), titleStyle.Render(title), dimStyle.Render(message))
}

// Simple reports whether the simplified workflow is active.
func (t *Terminal) Simple() bool { return t.simple }
