package llm

import (
	"errors"
	"fmt"
)

// TransientError is a provider failure that may succeed when retried:
// rate limiting, timeouts, server errors and network failures.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a provider failure that will not go away by retrying,
// such as exhausted quota, bad credentials or a malformed request.
type FatalError struct {
	Err        error
	Code       string
	StatusCode int
}

func (e *FatalError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("fatal provider error (status %d, %s): %v", e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("fatal provider error (status %d): %v", e.StatusCode, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// CodeInsufficientQuota is the provider error code for an exhausted account quota.
const CodeInsufficientQuota = "insufficient_quota"

// IsQuotaExhausted reports whether err is a fatal quota error.
func IsQuotaExhausted(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal) && fatal.Code == CodeInsufficientQuota
}

// IsFatal reports whether err, or any error it wraps, is a *FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsTransient reports whether err, or any error it wraps, is a *TransientError.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
