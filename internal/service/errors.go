package service

import (
	"errors"
	"time"
)

var (
	ErrValidationFailed    = errors.New("validation failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrTemporarilyBlocked  = errors.New("temporarily blocked")
	ErrPermanentlyBlocked  = errors.New("permanently blocked")
	ErrOTPAlreadyActive    = errors.New("otp already active")
	ErrOTPNotFound         = errors.New("otp not found")
	ErrOTPExpired          = errors.New("otp expired")
	ErrOTPMismatch         = errors.New("otp mismatch")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrSuspiciousActivity  = errors.New("suspicious activity")
	ErrInternal            = errors.New("internal error")
)

// AuthError is the failure value of the auth flows. Kind is one of the
// sentinels above and Message is safe to show to the caller. Err holds the
// underlying fault for ErrInternal.
type AuthError struct {
	Kind              error
	Message           string
	RemainingSeconds  int
	BlockedUntil      *time.Time
	RemainingTime     string
	AttemptsRemaining int
	Fields            map[string]string
	Err               error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newAuthError(kind error, message string) *AuthError {
	return &AuthError{Kind: kind, Message: message}
}

func internalError(message string, err error) *AuthError {
	return &AuthError{Kind: ErrInternal, Message: message, Err: err}
}

// AsAuthError returns the *AuthError in err's chain, if any.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
