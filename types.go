package authrisk

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UserRecord is the minimal account view the engine needs. The identity
// store owns it; the engine references it and never mutates it.
type UserRecord struct {
	UserID   string
	Username string
}

// TOTPCredential is the stored second-factor credential. Exactly one exists
// per user at a time; re-enrollment replaces it wholesale and disablement
// clears the secret.
type TOTPCredential struct {
	Secret     []byte
	Enabled    bool
	EnrolledAt time.Time
}

// UserProvider is the interface callers implement to integrate authrisk with
// their user database. It covers account lookup, password re-authentication,
// and TOTP credential storage. SetTOTPCredential must overwrite any existing
// credential for the user (last writer wins); GetTOTPCredential returns
// (nil, nil) when no credential record exists; ClearTOTPCredential removes
// the record entirely.
type UserProvider interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	VerifyPassword(ctx context.Context, userID, password string) (bool, error)
	GetTOTPCredential(ctx context.Context, userID string) (*TOTPCredential, error)
	SetTOTPCredential(ctx context.Context, userID string, secret []byte, enrolledAt time.Time) error
	ClearTOTPCredential(ctx context.Context, userID string) error
}

// TOTPState is the explicit second-factor state for a user, derived from the
// stored credential and the attempt tracker rather than kept as mutable
// flags.
type TOTPState uint8

const (
	// TOTPStateNoCredential means no credential record exists for the user.
	TOTPStateNoCredential TOTPState = iota
	// TOTPStateEnrolled means an enabled credential exists and verification
	// is currently permitted.
	TOTPStateEnrolled
	// TOTPStateLocked means an enabled credential exists but the attempt
	// tracker is rejecting verifications until the window slides.
	TOTPStateLocked
	// TOTPStateDisabled means a credential record exists with the secret
	// cleared and the enabled flag off.
	TOTPStateDisabled
)

func (s TOTPState) String() string {
	switch s {
	case TOTPStateNoCredential:
		return "no_credential"
	case TOTPStateEnrolled:
		return "enrolled"
	case TOTPStateLocked:
		return "locked"
	case TOTPStateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// TOTPEnrollment is the enrollment response. The shared secret leaves the
// engine only inside the otpauth:// URI; no other operation returns it.
type TOTPEnrollment struct {
	OTPAuthURI string
}

// SessionGrant is issued after a successful password-only login or a
// successful TOTP verification.
type SessionGrant struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// LoginResult reports the outcome of the password step. When Requires2FA is
// set, Grant is nil and the caller must complete [Engine.VerifyTOTP].
type LoginResult struct {
	Requires2FA bool
	Grant       *SessionGrant
}

// EventType enumerates the auth event types the correlation engine accepts.
// Unknown types are rejected at the boundary, never silently coerced.
type EventType string

const (
	EventLoginSuccess         EventType = "login_success"
	EventLoginFailure         EventType = "login_failure"
	EventTOTPSuccess          EventType = "totp_success"
	EventTOTPFailure          EventType = "totp_failure"
	EventPasswordReset        EventType = "password_reset"
	EventPasswordResetRequest EventType = "password_reset_request"
	EventAccountLocked        EventType = "account_locked"
	EventAccountUnlocked      EventType = "account_unlocked"
)

var knownEventTypes = map[EventType]struct{}{
	EventLoginSuccess:         {},
	EventLoginFailure:         {},
	EventTOTPSuccess:          {},
	EventTOTPFailure:          {},
	EventPasswordReset:        {},
	EventPasswordResetRequest: {},
	EventAccountLocked:        {},
	EventAccountUnlocked:      {},
}

// Valid reports whether t is one of the enumerated event types.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// AuthEvent is one immutable entry in a user's time-ordered auth event log.
// The upstream authentication flow produces it; the risk engine only reads.
type AuthEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Username  string            `json:"username"`
	Type      EventType         `json:"event_type"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks the boundary contract for an inbound event. The event ID
// may be empty (the store assigns one); everything else is required.
func (e AuthEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrEventInvalid)
	}
	if strings.TrimSpace(e.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrEventInvalid)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrEventInvalid, string(e.Type))
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrEventInvalid)
	}
	return nil
}

// FraudAssessment is the derived risk verdict for one event. It is a
// deterministic function of the stored event window: replaying the same
// window always yields the same score and reason.
type FraudAssessment struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	RiskScore  float64   `json:"risk_score"`
	Notify     bool      `json:"notify"`
	Reason     string    `json:"reason"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	// Incomplete marks an assessment whose event window could not be read;
	// the score defaults to zero and the event should be re-analyzed
	// out-of-band.
	Incomplete bool `json:"incomplete,omitempty"`
}

// EventStore is the append-only, per-user, time-ordered auth event log.
// Durability and retention are the implementation's concern; the engine
// needs only ordering and a bounded-recency query, oldest first. QueryEvents
// returns at most limit events; when the window holds more, the newest are
// kept, since the window ends at the event under analysis.
type EventStore interface {
	AppendEvent(ctx context.Context, event AuthEvent) (string, error)
	QueryEvents(ctx context.Context, userID string, since time.Time, limit int) ([]AuthEvent, error)
}

// AssessmentStore persists fraud assessments for the query API. The engine
// treats persistence as best-effort: a save failure is logged, never
// surfaced to the ingesting caller.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, assessment FraudAssessment) error
	QueryAssessments(ctx context.Context, userID string, minRisk, maxRisk float64, limit int) ([]FraudAssessment, error)
}

// Assessor is the optional externally-backed risk analyzer. Implementations
// must honor ctx; the engine additionally guards every call with a hard
// timeout and falls back to rule-based scoring on any error, so an Assessor
// is never load-bearing.
type Assessor interface {
	Assess(ctx context.Context, event AuthEvent, window []AuthEvent) (*FraudAssessment, error)
}
