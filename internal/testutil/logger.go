// Package testutil holds shared test helpers. The PostgreSQL container
// helpers live behind the integration build tag.
package testutil

import (
	"log/slog"
	"os"
)

// TestLogger returns a logger for test output that only emits warnings and above.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
