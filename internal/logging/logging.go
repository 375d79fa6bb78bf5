package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a leveled console logger writing to w. Unknown level strings
// fall back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything. Used in tests and as the
// default when no logger is injected.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
