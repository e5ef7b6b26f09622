package authrisk

import (
	"context"
	"time"

	"github.com/authrisk-io/authrisk/internal/audit"
)

// AuditEvent is the structured record emitted for security-relevant
// operations.
type AuditEvent = audit.Event

// AuditSink receives emitted audit events. Delivery is asynchronous through
// a buffered dispatcher; see [Config.Audit].
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// NewChannelAuditSink returns a sink that writes events into a buffered
// channel, mainly for tests and embedding.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// Audit event names emitted by the engine.
const (
	auditEventLoginSuccess  = "login_success"
	auditEventLoginFailure  = "login_failure"
	auditEventTOTPEnrolled  = "totp_enrolled"
	auditEventTOTPDisabled  = "totp_disabled"
	auditEventTOTPSuccess   = "totp_verify_success"
	auditEventTOTPFailure   = "totp_verify_failure"
	auditEventTOTPLockedOut = "totp_locked_out"
	auditEventIngested      = "auth_event_ingested"
	auditEventFraudAlert    = "fraud_alert"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, username, ip string, cause error, metadata map[string]string) {
	if e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		Username:  username,
		IP:        ip,
		Success:   success,
		Metadata:  metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	e.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events the dispatcher had to drop
// because its buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
