package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns a structured JSON logger tagged with the component name.
// The level comes from DOLO_LOG_LEVEL; unset or unknown values mean info.
func NewLogger(component string) zerolog.Logger {
	return newLogger(os.Stdout, component, os.Getenv("DOLO_LOG_LEVEL"))
}

func newLogger(w io.Writer, component, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
