package httpapi

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "bridgetopo"

// NewLogger returns the process logger: JSON lines on stdout with RFC3339Nano
// timestamps. Debug and trace levels also record the caller.
func NewLogger(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl := parseLevel(level)
	zerolog.SetGlobalLevel(lvl)

	ctx := zerolog.New(w).With().Timestamp().Str("service", serviceName)
	if lvl <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

func parseLevel(level string) zerolog.Level {
	switch s := strings.ToLower(strings.TrimSpace(level)); s {
	case "warning":
		return zerolog.WarnLevel
	case "off", "none":
		return zerolog.Disabled
	default:
		lvl, err := zerolog.ParseLevel(s)
		if err != nil || s == "" || lvl == zerolog.NoLevel {
			return zerolog.InfoLevel
		}
		return lvl
	}
}
