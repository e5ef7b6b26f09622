package authrisk

import (
	"context"
	"fmt"
)

// Login performs the password step. For users without an enabled second
// factor it issues a session grant immediately; for enrolled users it
// returns a requires-2FA marker and the caller must complete [Engine.VerifyTOTP].
//
// Unknown username and wrong password produce the same ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, username, password, ip, userAgent string) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, username)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.users.VerifyPassword(ctx, user.UserID, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, user.Username, ip, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	cred, err := e.users.GetTOTPCredential(ctx, user.UserID)
	if err != nil {
		// Cannot tell whether a second factor is required; fail closed.
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}

	if cred != nil && cred.Enabled {
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, user.Username, ip, nil, map[string]string{"requires_2fa": "true"})
		return &LoginResult{Requires2FA: true}, nil
	}

	grant, err := e.tokens.Issue(user, e.now())
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, user.Username, ip, nil, nil)
	return &LoginResult{Grant: grant}, nil
}

// EnrollTOTP re-authenticates the password, generates a fresh secret, and
// stores it as the user's only TOTP credential, overwriting any prior one.
// The secret leaves the engine only inside the returned otpauth:// URI.
//
// A wrong password is rejected without touching credential state and is not
// counted against the 2FA lockout budget.
func (e *Engine) EnrollTOTP(ctx context.Context, username, password string) (*TOTPEnrollment, error) {
	return e.provisionCredential(ctx, username, password, false)
}

// ReenrollTOTP replaces an existing credential with a fresh secret. When an
// enabled credential exists, confirm must be set: replacing the secret
// instantly invalidates every code from the old one, so the boundary is
// required to ask first.
func (e *Engine) ReenrollTOTP(ctx context.Context, username, password string, confirm bool) (*TOTPEnrollment, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	cred, err := e.users.GetTOTPCredential(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if cred != nil && cred.Enabled && !confirm {
		return nil, ErrReenrollNotConfirmed
	}

	return e.provisionCredential(ctx, username, password, true)
}

// provisionCredential is the shared enroll/re-enroll path. Enrollments for
// the same user serialize on a per-user lock so two concurrent enrolls
// cannot interleave their generate/store steps; the last writer wins
// cleanly.
func (e *Engine) provisionCredential(ctx context.Context, username, password string, reenroll bool) (*TOTPEnrollment, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	unlock := e.enrollLocks.Lock(user.UserID)
	defer unlock()

	ok, err := e.users.VerifyPassword(ctx, user.UserID, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	secretRaw, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if err := e.users.SetTOTPCredential(ctx, user.UserID, secretRaw, e.now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}

	e.metricInc(MetricTOTPEnrolled)
	meta := map[string]string{}
	if reenroll {
		meta["reenroll"] = "true"
	}
	e.emitAudit(ctx, auditEventTOTPEnrolled, true, user.UserID, user.Username, "", nil, meta)

	return &TOTPEnrollment{
		OTPAuthURI: e.totp.ProvisionURI(secretBase32, user.Username),
	}, nil
}

// VerifyTOTP completes the second factor for an enrolled user and issues a
// session grant on success.
//
// Order of checks is load-bearing: a malformed code is rejected before any
// attempt accounting; the attempt tracker is consulted before the verifier
// so a locked-out user cannot probe the secret (and cannot measure verifier
// timing); only a well-formed wrong code consumes an attempt slot.
func (e *Engine) VerifyTOTP(ctx context.Context, username, code string) (*SessionGrant, error) {
	if e == nil || e.users == nil || e.tracker == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	cred, err := e.users.GetTOTPCredential(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if cred == nil || !cred.Enabled || len(cred.Secret) == 0 {
		return nil, ErrTOTPNotConfigured
	}

	if !ValidCodeFormat(code) {
		return nil, ErrCodeMalformed
	}

	now := e.now()
	locked, retryAfter, err := e.tracker.Check(ctx, user.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if locked {
		e.metricInc(MetricTOTPLockedOut)
		lockErr := &LockedOutError{RetryAfter: retryAfter}
		e.emitAudit(ctx, auditEventTOTPLockedOut, false, user.UserID, user.Username, "", lockErr, nil)
		return nil, lockErr
	}

	ok, err := e.totp.VerifyCode(cred.Secret, code, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		nowLocked, newRetry, recErr := e.tracker.RecordFailure(ctx, user.UserID, now)
		if recErr != nil {
			// The attempt could not be recorded, so the lockout state is
			// ambiguous. Fail closed.
			return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, recErr)
		}
		if nowLocked {
			e.metricInc(MetricTOTPLockedOut)
			lockErr := &LockedOutError{RetryAfter: newRetry}
			e.emitAudit(ctx, auditEventTOTPLockedOut, false, user.UserID, user.Username, "", lockErr, nil)
			return nil, lockErr
		}
		e.emitAudit(ctx, auditEventTOTPFailure, false, user.UserID, user.Username, "", ErrTOTPInvalid, nil)
		return nil, ErrTOTPInvalid
	}

	// The success record does not clear prior failures; the window slides
	// them out on its own.
	if err := e.tracker.RecordSuccess(ctx, user.UserID, now); err != nil {
		e.logger.Warn("attempt record write failed on success path",
			"user_id", user.UserID, "error", err)
	}

	grant, err := e.tokens.Issue(user, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, true, user.UserID, user.Username, "", nil, nil)
	return grant, nil
}

// DisableTOTP re-authenticates the password, removes the credential, and
// clears the user's attempt records. Afterwards the user is in the
// no-credential state and verification returns ErrTOTPNotConfigured.
func (e *Engine) DisableTOTP(ctx context.Context, username, password string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, username)
	if err != nil {
		return err
	}

	unlock := e.enrollLocks.Lock(user.UserID)
	defer unlock()

	ok, err := e.users.VerifyPassword(ctx, user.UserID, password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := e.users.ClearTOTPCredential(ctx, user.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if err := e.tracker.Reset(ctx, user.UserID); err != nil {
		e.logger.Warn("attempt tracker reset failed on disable",
			"user_id", user.UserID, "error", err)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, user.UserID, user.Username, "", nil, nil)
	return nil
}

// TOTPState derives the user's explicit second-factor state from the stored
// credential and the attempt tracker. Nothing is cached: lockout always
// reflects the current window.
func (e *Engine) TOTPState(ctx context.Context, username string) (TOTPState, error) {
	if e == nil || e.users == nil || e.tracker == nil {
		return TOTPStateNoCredential, ErrEngineNotReady
	}

	user, err := e.lookupUser(ctx, username)
	if err != nil {
		return TOTPStateNoCredential, err
	}

	cred, err := e.users.GetTOTPCredential(ctx, user.UserID)
	if err != nil {
		return TOTPStateNoCredential, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if cred == nil {
		return TOTPStateNoCredential, nil
	}
	if !cred.Enabled || len(cred.Secret) == 0 {
		return TOTPStateDisabled, nil
	}

	locked, _, err := e.tracker.Check(ctx, user.UserID, e.now())
	if err != nil {
		return TOTPStateNoCredential, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if locked {
		return TOTPStateLocked, nil
	}
	return TOTPStateEnrolled, nil
}
