package daemon

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// newLogHandler returns the daemon's tint handler. Colour is only used on a
// terminal so journal captures stay plain.
func newLogHandler(w io.Writer, verbose int, color bool) slog.Handler {
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !color,
	})
}

// SetupLogging installs the tint logger as the slog default
func SetupLogging(verbose int) {
	color := term.IsTerminal(int(os.Stderr.Fd()))
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, verbose, color)))
}
