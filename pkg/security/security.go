package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobTypeNameLength is the maximum length for job type names
	MaxJobTypeNameLength = 255

	// MaxPayloadSize is the maximum size in bytes for a job payload (1MB)
	MaxPayloadSize = 1 << 20

	// MaxAttempts is the hard limit for attempts per job
	MaxAttempts = 100

	// MaxConcurrency is the hard limit for jobs executed in parallel within one tick
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error and status messages
	MaxErrorMessageLength = 4096

	// MaxLockNameLength matches the lock key column size
	MaxLockNameLength = 191
)

// validName matches alphanumeric, hyphens, underscores, and dots
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validLockName additionally allows ':' so callers can namespace locks.
var validLockName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.:]*$`)

// ValidateJobTypeName validates a job type name
func ValidateJobTypeName(name string) error {
	if name == "" {
		return core.ErrInvalidJobTypeName
	}
	if len(name) > MaxJobTypeNameLength {
		return core.ErrJobTypeNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidJobTypeName
	}
	return nil
}

// ValidateLockName validates a distributed lock name
func ValidateLockName(name string) error {
	if name == "" || len(name) > MaxLockNameLength || !validLockName.MatchString(name) {
		return core.ErrInvalidLockName
	}
	return nil
}

// ValidatePayload enforces the payload size limit
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return core.ErrJobPayloadTooLarge
	}
	return nil
}

// ValidateProgress checks a progress percentage.
func ValidateProgress(p int) error {
	if p < 0 || p > 100 {
		return core.ErrInvalidProgress
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts keeps a max-attempts setting within [1, MaxAttempts].
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
