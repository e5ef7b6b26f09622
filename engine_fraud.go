package authrisk

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// AssessmentQuery selects persisted assessments for one user by risk band.
// A nil MaxRisk means no upper bound, which keeps an exact zero-risk band
// (MinRisk 0, MaxRisk pointing at 0) distinguishable from the default.
type AssessmentQuery struct {
	UserID  string
	MinRisk float64
	MaxRisk *float64
	Limit   int
}

// AssessmentStats summarizes one query result. High risk is a score above
// 0.7, low risk at or below 0.4, medium the band between.
type AssessmentStats struct {
	Total       int     `json:"total"`
	HighRisk    int     `json:"high_risk"`
	MediumRisk  int     `json:"medium_risk"`
	LowRisk     int     `json:"low_risk"`
	AverageRisk float64 `json:"average_risk"`
}

// AssessmentReport is the query response: matching assessments ordered
// highest risk first, plus aggregate stats over the matches.
type AssessmentReport struct {
	Assessments []FraudAssessment `json:"assessments"`
	Stats       AssessmentStats   `json:"stats"`
}

// IngestEvent validates and appends one auth event to the user's log, then
// runs a risk assessment over the user's recent event window and returns
// the verdict. Event persistence failures surface to the caller; assessment
// persistence is best-effort and only logged.
func (e *Engine) IngestEvent(ctx context.Context, event AuthEvent) (*FraudAssessment, error) {
	if e == nil || e.events == nil {
		return nil, ErrEngineNotReady
	}

	if err := event.Validate(); err != nil {
		e.metricInc(MetricEventRejected)
		return nil, err
	}

	id, err := e.events.AppendEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventStoreUnavailable, err)
	}
	event.ID = id

	e.metricInc(MetricEventIngested)
	e.emitAudit(ctx, auditEventIngested, true, event.UserID, event.Username, event.IPAddress, nil, map[string]string{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	assessment := e.assessEvent(ctx, event, true)
	return assessment, nil
}

// AssessUser scores a hypothetical event against the user's stored window
// without appending it to the log or persisting the verdict. The event need
// not carry an ID.
func (e *Engine) AssessUser(ctx context.Context, userID string, event AuthEvent) (*FraudAssessment, error) {
	if e == nil || e.events == nil {
		return nil, ErrEngineNotReady
	}
	if event.UserID == "" {
		event.UserID = userID
	}
	if event.UserID != userID {
		return nil, fmt.Errorf("%w: event user_id does not match query", ErrEventInvalid)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return e.assessEvent(ctx, event, false), nil
}

// assessEvent runs one assessment over the correlation window ending at the
// event. A window read failure never fails the caller: the verdict degrades
// to the zero-risk Incomplete form so ingestion keeps accepting events while
// the backend is unhealthy.
func (e *Engine) assessEvent(ctx context.Context, event AuthEvent, persist bool) *FraudAssessment {
	since := event.Timestamp.Add(-e.config.Fraud.CorrelationWindow)

	window, err := e.events.QueryEvents(ctx, event.UserID, since, e.config.Fraud.MaxWindowEvents)
	if err != nil {
		e.metricInc(MetricAssessmentIncomplete)
		e.logger.Warn("event window unavailable, returning incomplete assessment",
			"user_id", event.UserID, "event_id", event.ID, "error", err)
		incomplete := &FraudAssessment{
			EventID:    event.ID,
			UserID:     event.UserID,
			Username:   event.Username,
			RiskScore:  0,
			Notify:     false,
			Reason:     reasonIncompleteAnalysis,
			AnalyzedAt: e.now().UTC(),
			Incomplete: true,
		}
		if persist {
			e.saveAssessment(ctx, incomplete)
		}
		return incomplete
	}
	window = ensureEventInWindow(event, window)

	assessment := e.runAssessor(ctx, event, window)

	if assessment.RiskScore < 0 {
		assessment.RiskScore = 0
	}
	if assessment.RiskScore > 1 {
		assessment.RiskScore = 1
	}
	if assessment.EventID == "" {
		assessment.EventID = event.ID
	}
	if assessment.UserID == "" {
		assessment.UserID = event.UserID
	}
	if assessment.Username == "" {
		assessment.Username = event.Username
	}
	assessment.AnalyzedAt = e.now().UTC()
	assessment.Notify = assessment.RiskScore >= e.config.Fraud.NotifyThreshold

	e.metricInc(MetricAssessmentCompleted)

	if assessment.Notify {
		e.metricInc(MetricNotificationTriggered)
		e.logger.Warn("elevated authentication risk detected",
			"user_id", assessment.UserID,
			"username", assessment.Username,
			"event_id", assessment.EventID,
			"risk_score", assessment.RiskScore,
			"reason", assessment.Reason)
		e.logger.Info("fraud notification triggered",
			"user_id", assessment.UserID,
			"username", assessment.Username,
			"risk_score", assessment.RiskScore,
			"reason", assessment.Reason,
			"threshold", e.config.Fraud.NotifyThreshold)
		e.emitAudit(ctx, auditEventFraudAlert, true, assessment.UserID, assessment.Username, event.IPAddress, nil, map[string]string{
			"event_id":   assessment.EventID,
			"risk_score": strconv.FormatFloat(assessment.RiskScore, 'f', -1, 64),
			"reason":     assessment.Reason,
		})
	}

	if persist {
		e.saveAssessment(ctx, assessment)
	}
	return assessment
}

// runAssessor routes one assessment through the configured Assessor under a
// hard timeout, falling back to rule-based scoring when the call errors,
// returns nothing, or does not come back in time. A stuck Assessor is
// abandoned, never waited on.
func (e *Engine) runAssessor(ctx context.Context, event AuthEvent, window []AuthEvent) *FraudAssessment {
	if !e.config.Fraud.AssessorEnabled || e.assessor == nil {
		assessment, _ := e.rules.Assess(ctx, event, window)
		return assessment
	}

	type assessResult struct {
		assessment *FraudAssessment
		err        error
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.Fraud.AssessorTimeout)
	defer cancel()

	resultCh := make(chan assessResult, 1)
	go func() {
		assessment, err := e.assessor.Assess(callCtx, event, window)
		resultCh <- assessResult{assessment: assessment, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err == nil && r.assessment != nil {
			return r.assessment
		}
		e.metricInc(MetricAssessorFallback)
		e.logger.Warn("assessor failed, falling back to rule scoring",
			"event_id", event.ID, "error", r.err)
	case <-callCtx.Done():
		e.metricInc(MetricAssessorFallback)
		e.logger.Warn("assessor did not answer in time, falling back to rule scoring",
			"event_id", event.ID, "timeout", e.config.Fraud.AssessorTimeout)
	}

	assessment, _ := e.rules.Assess(ctx, event, window)
	return assessment
}

func (e *Engine) saveAssessment(ctx context.Context, assessment *FraudAssessment) {
	if e.assessments == nil {
		return
	}
	if err := e.assessments.SaveAssessment(ctx, *assessment); err != nil {
		e.logger.Warn("assessment persistence failed",
			"user_id", assessment.UserID, "event_id", assessment.EventID, "error", err)
	}
}

// QueryAssessments returns a user's persisted assessments within a risk
// band, highest risk first, with aggregate stats over the matches.
func (e *Engine) QueryAssessments(ctx context.Context, query AssessmentQuery) (*AssessmentReport, error) {
	if e == nil || e.assessments == nil {
		return nil, ErrEngineNotReady
	}
	if query.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrQueryInvalid)
	}

	maxRisk := 1.0
	if query.MaxRisk != nil {
		maxRisk = *query.MaxRisk
	}
	if query.MinRisk < 0 || maxRisk > 1 || query.MinRisk > maxRisk {
		return nil, fmt.Errorf("%w: risk bounds must satisfy 0 <= min <= max <= 1", ErrQueryInvalid)
	}

	assessments, err := e.assessments.QueryAssessments(ctx, query.UserID, query.MinRisk, maxRisk, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssessmentUnavailable, err)
	}

	return &AssessmentReport{
		Assessments: assessments,
		Stats:       summarizeAssessments(assessments),
	}, nil
}

// ensureEventInWindow appends the analyzed event when the store query did
// not return it, so the scoring rules always see the event itself as the
// newest window entry.
func ensureEventInWindow(event AuthEvent, window []AuthEvent) []AuthEvent {
	if event.ID != "" {
		for _, w := range window {
			if w.ID == event.ID {
				return window
			}
		}
	}
	return append(window, event)
}

func summarizeAssessments(assessments []FraudAssessment) AssessmentStats {
	stats := AssessmentStats{Total: len(assessments)}
	if stats.Total == 0 {
		return stats
	}

	sum := 0.0
	for _, a := range assessments {
		sum += a.RiskScore
		switch {
		case a.RiskScore > 0.7:
			stats.HighRisk++
		case a.RiskScore > 0.4:
			stats.MediumRisk++
		default:
			stats.LowRisk++
		}
	}
	stats.AverageRisk = math.Round(sum/float64(stats.Total)*10000) / 10000
	return stats
}
