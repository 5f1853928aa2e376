package transport

import "log/slog"

// transportLogger tags records with the transport name; it resolves
// slog.Default at call time so it follows the runtime logging setup.
func transportLogger(name string, attrs ...any) *slog.Logger {
	return slog.With(append([]any{"component", "transport", "transport", name}, attrs...)...)
}
