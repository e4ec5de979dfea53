package interaction

import (
	"sync"

	"github.com/rs/zerolog"
)

// Interaction is how the engine asks the operator for decisions and reports
// outcomes.
//
// AskConfirmation and AskRetryOrCancel block until the operator answered.
// Simple reports whether the operator chose the simplified workflow, in which
// optional decisions such as offered jumps are accepted automatically.
type Interaction interface {
	AskConfirmation(title, message string) bool
	AskRetryOrCancel(title, message string) bool
	ReportError(title, message string)
	ReportInfo(title, message string)
	Simple() bool
}

// Auto answers prompts without an operator and logs every report. It is used
// for non-interactive runs.
type Auto struct {
	Confirm    bool
	Retries    int
	SimpleMode bool
	Logger     zerolog.Logger

	mu      sync.Mutex
	retried int
}

// AskConfirmation returns the configured answer.
func (a *Auto) AskConfirmation(title, message string) bool {
	a.Logger.Info().Str("title", title).Bool("answer", a.Confirm).Msg(message)
	return a.Confirm
}

// AskRetryOrCancel accepts up to Retries retries, then cancels.
func (a *Auto) AskRetryOrCancel(title, message string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	retry := a.retried < a.Retries
	if retry {
		a.retried++
	}
	a.Logger.Warn().Str("title", title).Bool("retry", retry).Msg(message)
	return retry
}

// ReportError logs the error.
func (a *Auto) ReportError(title, message string) {
	a.Logger.Error().Str("title", title).Msg(message)
}

// ReportInfo logs the message.
func (a *Auto) ReportInfo(title, message string) {
	a.Logger.Info().Str("title", title).Msg(message)
}

// Simple reports the configured mode.
func (a *Auto) Simple() bool { return a.SimpleMode }
