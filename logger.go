package libpisp

import (
	"log/slog"

	"github.com/raspberrypi/libpisp/internal/logging"
)

// SetLogger directs the package's diagnostic output to l. The library is
// silent by default; pass nil to restore that. Safe to call concurrently
// with running back ends.
func SetLogger(l *slog.Logger) {
	logging.SetLogger(l)
}
