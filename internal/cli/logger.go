package cli

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// EnvDebug enables debug logging when set to a non-empty value other than
// "0".
const EnvDebug = "ARMTC_DEBUG"

// NewLogger returns a slog logger that renders through charmbracelet/log.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{
		Prefix: "armtc",
		Level:  log.InfoLevel,
	})
	if verbose {
		handler.SetLevel(log.DebugLevel)
	}
	return slog.New(handler)
}
