// Package obs collects the cross-cutting observability adapters (logging,
// metrics, clock) used throughout the ingestion and retrieval components.
package obs

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging contract used by the pipeline, retrieval
// engine, and service layer. It intentionally mirrors zerolog's
// fields-then-message call shape rather than introducing its own.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// ZerologLogger adapts zerolog.Logger to the Logger contract, matching the
// logging conventions already in place for the rest of the module.
type ZerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{l: l}
}

// NewDefaultLogger builds a zerolog.Logger writing to stdout, for callers
// that don't need a custom sink. It sets no level of its own, so zerolog's
// global level decides which events are written.
func NewDefaultLogger() *ZerologLogger {
	return &ZerologLogger{l: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

func (z *ZerologLogger) Info(msg string, fields map[string]any)  { z.emit(z.l.Info(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields map[string]any) { z.emit(z.l.Error(), msg, fields) }
func (z *ZerologLogger) Debug(msg string, fields map[string]any) { z.emit(z.l.Debug(), msg, fields) }

func (z *ZerologLogger) emit(ev *zerolog.Event, msg string, fields map[string]any) {
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(msg)
}

// NoopLogger discards every call; useful as a construction-time default.
type NoopLogger struct{}

func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
func (NoopLogger) Debug(string, map[string]any) {}
