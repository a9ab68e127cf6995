package logging

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactedPlaceholder is the string used to replace sensitive data
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns contains compiled regex patterns for detecting credentials.
var sensitivePatterns = []*regexp.Regexp{
	// OpenAI API keys: sk-... (legacy) or sk-proj-... (project-scoped)
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(hf_[a-zA-Z0-9]{30,})`), // Hugging Face tokens
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;]{8,})`),
}

// base64BlobPattern matches long runs of base64 text, i.e. inline images.
// Job payloads carry whole images; they must never be copied into the log.
var base64BlobPattern = regexp.MustCompile(`[A-Za-z0-9+/]{256,}={0,2}`)

// sensitiveKeyFragments are field/env names whose values are always redacted.
var sensitiveKeyFragments = []string{
	"OPENAI_API_KEY",
	"JOB_QUEUE_API_KEY",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"API_KEY",
	"APIKEY",
}

// RedactSensitiveData scans a string and replaces credentials with
// RedactedPlaceholder and base64 blobs with a short size marker.
// This is a pure function - it takes a string and returns a sanitized string.
//
// Example:
//
//	RedactSensitiveData("key sk-abc123def456ghi789jkl0")
//	// "key [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}

	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return base64BlobPattern.ReplaceAllStringFunc(result, func(blob string) string {
		return fmt.Sprintf("[BASE64 %d chars]", len(blob))
	})
}

// IsSensitiveField returns true if the field name indicates sensitive data.
// This is a pure function that only checks the field name, not the value.
//
// Example:
//
//	IsSensitiveField("OPENAI_API_KEY")  // true
//	IsSensitiveField("request_id")      // false
func IsSensitiveField(fieldName string) bool {
	upperName := strings.ToUpper(fieldName)

	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(upperName, fragment) {
			return true
		}
	}
	return false
}
