package authrisk

import (
	"sync/atomic"
)

// MetricID indexes one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts password logins that produced a grant or a
	// requires-2FA response.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected password logins.
	MetricLoginFailure
	// MetricTOTPSuccess counts accepted verification codes.
	MetricTOTPSuccess
	// MetricTOTPFailure counts rejected verification codes.
	MetricTOTPFailure
	// MetricTOTPLockedOut counts verifications rejected by the attempt
	// tracker without touching the verifier.
	MetricTOTPLockedOut
	// MetricTOTPEnrolled counts enroll and re-enroll operations.
	MetricTOTPEnrolled
	// MetricTOTPDisabled counts disable operations.
	MetricTOTPDisabled
	// MetricEventIngested counts accepted auth events.
	MetricEventIngested
	// MetricEventRejected counts events rejected at the boundary.
	MetricEventRejected
	// MetricAssessmentCompleted counts finished risk assessments.
	MetricAssessmentCompleted
	// MetricAssessmentIncomplete counts assessments that fell back to the
	// safe zero-risk default.
	MetricAssessmentIncomplete
	// MetricAssessorFallback counts assessor calls that failed or timed out
	// and fell back to rule-based scoring.
	MetricAssessorFallback
	// MetricNotificationTriggered counts assessments that crossed the
	// notification threshold.
	MetricNotificationTriggered

	metricCount
)

// Metrics is a fixed table of lock-free counters. All methods are safe for
// concurrent use; a nil *Metrics is a no-op.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns one counter's current value.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricCount {
		return 0
	}
	return m.counters[id].Load()
}

// MetricsSnapshot is a point-in-time copy of every engine counter.
type MetricsSnapshot struct {
	LoginSuccess          uint64
	LoginFailure          uint64
	TOTPSuccess           uint64
	TOTPFailure           uint64
	TOTPLockedOut         uint64
	TOTPEnrolled          uint64
	TOTPDisabled          uint64
	EventIngested         uint64
	EventRejected         uint64
	AssessmentCompleted   uint64
	AssessmentIncomplete  uint64
	AssessorFallback      uint64
	NotificationTriggered uint64
}

// Snapshot copies all counters. Individual loads are atomic; the snapshot as
// a whole is not a consistent cut under concurrent writes.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		LoginSuccess:          m.Get(MetricLoginSuccess),
		LoginFailure:          m.Get(MetricLoginFailure),
		TOTPSuccess:           m.Get(MetricTOTPSuccess),
		TOTPFailure:           m.Get(MetricTOTPFailure),
		TOTPLockedOut:         m.Get(MetricTOTPLockedOut),
		TOTPEnrolled:          m.Get(MetricTOTPEnrolled),
		TOTPDisabled:          m.Get(MetricTOTPDisabled),
		EventIngested:         m.Get(MetricEventIngested),
		EventRejected:         m.Get(MetricEventRejected),
		AssessmentCompleted:   m.Get(MetricAssessmentCompleted),
		AssessmentIncomplete:  m.Get(MetricAssessmentIncomplete),
		AssessorFallback:      m.Get(MetricAssessorFallback),
		NotificationTriggered: m.Get(MetricNotificationTriggered),
	}
}
