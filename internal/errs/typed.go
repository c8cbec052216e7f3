package errs

import (
	"fmt"
	"time"
)

// Login error classes. Anything the platform reports that is not a flood wait
// keeps the platform's own error type as its class.
const (
	ClassFlood      = "FLOOD"
	ClassExpired    = "EXPIRED"
	ClassSuperseded = "SUPERSEDED"
	ClassUnknown    = "UNKNOWN"
)

// RateLimitedError carries the moment a flood-control cool-down ends.
type RateLimitedError struct {
	ResumeAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResumeAt.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// LoginError is a classified chat-platform login failure.
type LoginError struct {
	Class      string        // FLOOD, EXPIRED, SUPERSEDED, UNKNOWN or the platform error type
	Code       int           // platform error code, 0 if unknown
	RetryAfter time.Duration // advertised wait for FLOOD, else 0
	Err        error         // raw platform error, for logs only
}

func (e *LoginError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("external login failed: %s", e.Class)
	}
	return fmt.Sprintf("external login failed: %s: %v", e.Class, e.Err)
}

// Is makes errors.Is(err, ErrExternalLogin) hold.
func (e *LoginError) Is(target error) bool { return target == ErrExternalLogin }

func (e *LoginError) Unwrap() error { return e.Err }
