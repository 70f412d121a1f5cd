package translator

import "log/slog"

// Option configures a translation.
type Option func(*translator)

// WithLogger sets the logger used for join and plan diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *translator) {
		if logger != nil {
			t.logger = logger
		}
	}
}
