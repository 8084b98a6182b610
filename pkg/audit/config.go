package audit

// Config controls audit behavior.
type Config struct {
	RetentionDays int  // Default 90
	LogDenied     bool // Whether to log rejected (401/403) actions
	Enabled       bool // Whether the audit middleware is active
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		LogDenied:     true,
		Enabled:       true,
	}
}
