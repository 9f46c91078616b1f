package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/config"
)

// Logger is the global logger. It discards everything until Setup is called,
// so embedding pocket as a library stays silent unless the host opts in.
var Logger = zerolog.Nop()

// Setup configures the global logger straight from the database
// configuration. Unknown or empty levels fall back to info; a nil out writes
// to stdout.
func Setup(cfg config.LogConfig, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	w := out
	if !cfg.JSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCollection creates a child logger with collection field
func WithCollection(collection string) zerolog.Logger {
	return Logger.With().Str("collection", collection).Logger()
}

// WithView creates a child logger with view field
func WithView(view string) zerolog.Logger {
	return Logger.With().Str("view", view).Logger()
}

// WithBranch creates a child logger with branch field
func WithBranch(branch string) zerolog.Logger {
	return Logger.With().Str("branch", branch).Logger()
}
