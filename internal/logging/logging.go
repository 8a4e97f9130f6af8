package logging

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type ctxKey string

const requestIDKey ctxKey = "logging_request_id"

// Config controls logger initialization.
type Config struct {
	Format    string // "json", "console", or "auto"
	Level     string // "debug", "info", "warn", "error"
	Component string // optional component name
}

// Init configures zerolog globals and returns the base logger. The service
// logs to stderr only; rotation is left to whatever supervises the process.
func Init(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	w := selectWriter(cfg.Format)

	builder := zerolog.New(w).With().Timestamp()
	if component := strings.TrimSpace(cfg.Component); component != "" {
		builder = builder.Str("component", component)
	}

	logger := builder.Logger()
	log.Logger = logger
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func selectWriter(format string) zerolog.LevelWriter {
	useConsole := false
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		useConsole = true
	case "json":
		useConsole = false
	default: // "auto"
		useConsole = term.IsTerminal(int(os.Stderr.Fd()))
	}

	if useConsole {
		return zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return zerolog.MultiLevelWriter(os.Stderr)
}

// WithRequestID attaches a request ID to the context, generating one when the
// incoming value is empty or oversized. Returns the derived context and the
// effective ID.
func WithRequestID(ctx context.Context, incoming string) (context.Context, string) {
	id := strings.TrimSpace(incoming)
	if id == "" || len(id) > 64 {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey, id), id
}

// RequestID extracts the request ID from the context, if any.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
