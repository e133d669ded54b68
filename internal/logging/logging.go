package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler. Empty fields fall back to environment-aware
// defaults: json at info level in production, text at debug level otherwise.
type Options struct {
	Level       string
	Format      string
	Environment string
	AddSource   bool
}

// Setup configures the global structured logger and returns it.
func Setup(opts Options) *slog.Logger {
	logger := New(os.Stdout, opts)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	prod := isProduction(opts.Environment)
	handlerOpts := &slog.HandlerOptions{
		Level:     parseLevel(opts.Level, prod),
		AddSource: opts.AddSource,
	}

	switch format(opts.Format, prod) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	case "pretty":
		handlerOpts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		}
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	default:
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string, prod bool) slog.Level {
	if level == "" {
		if prod {
			return slog.LevelInfo
		}
		return slog.LevelDebug
	}

	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func format(f string, prod bool) string {
	if f != "" {
		return strings.ToLower(f)
	}
	if prod {
		return "json"
	}
	return "pretty"
}

func isProduction(env string) bool {
	env = strings.ToLower(env)
	return strings.HasPrefix(env, "prod") || os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}
