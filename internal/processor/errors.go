package processor

import "fmt"

// ConfigError marks a missing or malformed provider configuration. It is the
// only error kind that escapes the processor boundary; everything else is
// reported as data on the result structs.
type ConfigError struct {
	Provider string
	Key      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing required configuration %q", e.Provider, e.Key)
}

// NewConfigError builds a ConfigError for a missing key.
func NewConfigError(provider, key string) *ConfigError {
	return &ConfigError{Provider: provider, Key: key}
}
