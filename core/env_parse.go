package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvOrDefault returns the value of an environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv returns the trimmed value of key and whether it is set and
// non-blank. Blank values never override a config file.
func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// overrideString sets *dst from key when key is set.
func overrideString(key string, dst *string) {
	if value, ok := lookupEnv(key); ok {
		*dst = value
	}
}

// overrideInt sets *dst from key when key is set. A value that does not
// parse is a ConfigError, not a silent fallback.
func overrideInt(key string, dst *int) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return ErrInvalidValue(key, value, "must be an integer")
	}
	*dst = n
	return nil
}

// overrideFloat sets *dst from key when key is set.
func overrideFloat(key string, dst *float64) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return ErrInvalidValue(key, value, "must be a number")
	}
	*dst = f
	return nil
}

// overrideBool sets *dst from key when key is set.
func overrideBool(key string, dst *bool) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	b, ok := ParseBool(value)
	if !ok {
		return ErrInvalidValue(key, value, "must be true or false")
	}
	*dst = b
	return nil
}

// overrideDuration sets *dst from key when key is set.
func overrideDuration(key string, dst *time.Duration) error {
	value, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	d, err := ParseDuration(value)
	if err != nil {
		return ErrInvalidValue(key, value, err.Error())
	}
	*dst = d
	return nil
}

// ParseBool accepts, case-insensitively, "true", "1", "yes", "on" and
// "false", "0", "no", "off".
func ParseBool(value string) (b, ok bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// ParseDuration accepts a Go duration ("90s", "2m") or a bare number of
// seconds ("90").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("must be a duration like 30s or a number of seconds")
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
