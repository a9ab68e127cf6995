package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeConfigFile    = "CONFIG_FILE"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeOutOfRange    = "OUT_OF_RANGE"
	ErrCodeMissingAuth   = "MISSING_AUTH"
	ErrCodeMissingConfig = "MISSING_CONFIG"
)

// ErrConfigFile returns an error for an unreadable or malformed config file.
func ErrConfigFile(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFile,
		Message: fmt.Sprintf("Cannot load config file %s: %v", path, err),
		Action:  "Fix the YAML or unset " + EnvConfigFile,
	}
}

// ErrInvalidValue returns an error for a value that does not parse or is not
// one of the accepted choices.
func ErrInvalidValue(key, value, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%s': %s", key, value, reason),
		Action:  fmt.Sprintf("Correct %s in your environment or config file", key),
	}
}

// ErrOutOfRange returns an error for a numeric value outside its bounds.
func ErrOutOfRange(key string, value any, lo, hi any) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeOutOfRange,
		Message: fmt.Sprintf("%s must be between %v and %v, got %v", key, lo, hi, value),
		Action:  fmt.Sprintf("Set %s within range", key),
	}
}

// ErrMissingAuth returns an error for missing credentials of service.
func ErrMissingAuth(service string) *ConfigError {
	var action string
	switch service {
	case "openai":
		action = "Set OPENAI_API_KEY, or use ENGINE_BACKEND=local"
	case "queue":
		action = "Set JOB_QUEUE_API_KEY for the job queue"
	default:
		action = fmt.Sprintf("Set the required API key for %s", service)
	}
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Missing authentication credentials for %s", service),
		Action:  action,
	}
}

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s (%s)", varName, reason),
		Action:  fmt.Sprintf("Set %s in your environment or config file", varName),
	}
}

// IsConfigError reports whether err is or wraps a ConfigError and returns it.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
