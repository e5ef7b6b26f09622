package authrisk

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady indicates an Engine method was called before Build
	// completed or with a missing dependency.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidCredentials covers wrong password and unknown user alike,
	// so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCodeMalformed rejects a submitted code that is not exactly six
	// ASCII digits. Malformed codes never consume an attempt slot.
	ErrCodeMalformed = errors.New("code must be exactly 6 digits")
	// ErrTOTPInvalid is the generic wrong-code response. It deliberately
	// does not distinguish a stale code from a wrong secret.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrTOTPNotConfigured indicates no enabled TOTP credential exists for
	// the user. Distinct from ErrTOTPInvalid so a disabled second factor is
	// not mistaken for a bad code.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPRateLimited is matched by the [LockedOutError] returned when
	// the attempt tracker threshold is exceeded.
	ErrTOTPRateLimited = errors.New("totp attempts rate limited")
	// ErrTOTPUnavailable indicates the credential or attempt backend is
	// unreachable. Credential operations fail closed on this.
	ErrTOTPUnavailable = errors.New("totp backend unavailable")
	// ErrProviderUnavailable indicates the identity store could not answer
	// a password or account lookup.
	ErrProviderUnavailable = errors.New("identity backend unavailable")
	// ErrReenrollNotConfirmed indicates a re-enrollment attempt without the
	// explicit confirmation that invalidating the previous secret requires.
	ErrReenrollNotConfirmed = errors.New("reenroll requires explicit confirmation")
	// ErrEventInvalid rejects a malformed auth event at the boundary:
	// unknown event type, missing identity fields, or zero timestamp.
	ErrEventInvalid = errors.New("invalid auth event")
	// ErrEventStoreUnavailable indicates the event log backend is
	// unreachable.
	ErrEventStoreUnavailable = errors.New("event store unavailable")
	// ErrAssessmentUnavailable indicates the assessment backend is
	// unreachable.
	ErrAssessmentUnavailable = errors.New("assessment store unavailable")
	// ErrQueryInvalid rejects an assessment query with inverted or
	// out-of-range risk bounds.
	ErrQueryInvalid = errors.New("invalid assessment query")
	// ErrTokenUnavailable indicates the session grant could not be signed.
	ErrTokenUnavailable = errors.New("token issuance failed")
)

// LockedOutError is returned when a user has exceeded the failed-attempt
// threshold within the lockout window. RetryAfter is the remaining lockout
// duration; it is the only internal state deliberately disclosed to the
// caller, since the user needs to know how long to wait.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("Too many failed attempts. Try again in %d minutes", e.RetryMinutes())
}

// RetryMinutes reports the remaining lockout rounded up to whole minutes,
// matching the human-readable detail contract.
func (e *LockedOutError) RetryMinutes() int {
	m := int((e.RetryAfter + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

// Is makes errors.Is(err, ErrTOTPRateLimited) match a LockedOutError.
func (e *LockedOutError) Is(target error) bool {
	return target == ErrTOTPRateLimited
}
