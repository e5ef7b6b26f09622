package authrisk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func riskCap(v float64) *float64 {
	return &v
}

func failureEvent(userID, username string, at time.Time) AuthEvent {
	return AuthEvent{
		UserID:    userID,
		Username:  username,
		Type:      EventLoginFailure,
		IPAddress: "10.0.0.1",
		UserAgent: "ua",
		Timestamp: at,
	}
}

func TestIngestEventRejectsInvalidEvents(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	cases := []AuthEvent{
		{Username: "alice", Type: EventLoginFailure, Timestamp: clock.Now()},
		{UserID: "u1", Type: EventLoginFailure, Timestamp: clock.Now()},
		{UserID: "u1", Username: "alice", Type: "login_weird", Timestamp: clock.Now()},
		{UserID: "u1", Username: "alice", Type: EventLoginFailure},
	}
	for i, event := range cases {
		if _, err := engine.IngestEvent(ctx, event); !errors.Is(err, ErrEventInvalid) {
			t.Fatalf("case %d: expected ErrEventInvalid, got %v", i, err)
		}
	}

	if snap := engine.Metrics(); snap.EventRejected != uint64(len(cases)) || snap.EventIngested != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestIngestEventAssignsIDAndPersists(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	assessment, err := engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now()))
	if err != nil {
		t.Fatalf("IngestEvent failed: %v", err)
	}
	if assessment.EventID == "" {
		t.Fatal("expected an assigned event id")
	}
	if assessment.Incomplete {
		t.Fatal("expected a complete assessment")
	}

	events, err := engine.events.QueryEvents(ctx, "u1", clock.Now().Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != assessment.EventID {
		t.Fatalf("expected the ingested event in the log, got %d events", len(events))
	}
}

func TestIngestEventThirdFailureScoresLowRisk(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	var assessment *FraudAssessment
	var err error
	for i := 0; i < 3; i++ {
		assessment, err = engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now()))
		if err != nil {
			t.Fatalf("IngestEvent failed: %v", err)
		}
		clock.Advance(10 * time.Second)
	}

	if assessment.RiskScore != 0.3 {
		t.Fatalf("risk = %v, want 0.3 on the third failure", assessment.RiskScore)
	}
	if assessment.Notify {
		t.Fatal("expected no notification below the threshold")
	}
}

func TestIngestEventBruteForceTriggersNotification(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	var assessment *FraudAssessment
	var err error
	for i := 0; i < 11; i++ {
		assessment, err = engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now()))
		if err != nil {
			t.Fatalf("IngestEvent failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	// 11 failures land exactly on the 0.7 threshold; the boundary is
	// inclusive.
	if assessment.RiskScore != 0.7 {
		t.Fatalf("risk = %v, want 0.7", assessment.RiskScore)
	}
	if !assessment.Notify {
		t.Fatal("expected a notification at exactly the threshold")
	}

	if snap := engine.Metrics(); snap.NotificationTriggered == 0 {
		t.Fatal("expected the notification counter to move")
	}
}

func TestIngestEventHonorsMaxWindowEvents(t *testing.T) {
	cfg := testConfig()
	cfg.Fraud.MaxWindowEvents = 5

	engine, _, clock, done := newTestEngine(t, cfg)
	defer done()
	ctx := context.Background()

	var assessment *FraudAssessment
	var err error
	for i := 0; i < 20; i++ {
		assessment, err = engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now()))
		if err != nil {
			t.Fatalf("IngestEvent failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	// Only the newest 5 of the 20 failures reach the scorer, which lands in
	// the lowest failure tier instead of the severe one.
	if assessment.RiskScore != 0.3 {
		t.Fatalf("risk = %v, want 0.3 from a window capped at 5 events", assessment.RiskScore)
	}
	if assessment.Reason != "Multiple failed login attempts (5 in window)" {
		t.Fatalf("unexpected reason %q", assessment.Reason)
	}
}

// recordingHandler captures every slog record for assertions on structured
// log fields.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) find(message string) (map[string]slog.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message != message {
			continue
		}
		attrs := make(map[string]slog.Value)
		r.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value
			return true
		})
		return attrs, true
	}
	return nil, false
}

func TestNotificationRecordsCarryIdentityAndReason(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	handler := &recordingHandler{}
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithUserProvider(newMockUserProvider()).
		WithAuditSink(NoOpSink{}).
		WithLogger(slog.New(handler)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	clock := newFakeClock()
	engine.now = clock.Now

	ctx := context.Background()
	for i := 0; i < 11; i++ {
		if _, err := engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now())); err != nil {
			t.Fatalf("IngestEvent failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	for _, message := range []string{
		"elevated authentication risk detected",
		"fraud notification triggered",
	} {
		attrs, found := handler.find(message)
		if !found {
			t.Fatalf("no %q record was logged", message)
		}
		if got := attrs["user_id"].String(); got != "u1" {
			t.Errorf("%q user_id = %q, want u1", message, got)
		}
		if got := attrs["username"].String(); got != "alice" {
			t.Errorf("%q username = %q, want alice", message, got)
		}
		if got := attrs["risk_score"].Float64(); got != 0.7 {
			t.Errorf("%q risk_score = %v, want 0.7", message, got)
		}
		if got := attrs["reason"].String(); !strings.Contains(got, "failed login attempts") {
			t.Errorf("%q reason = %q, want the failure-tier reason", message, got)
		}
	}
}

func TestIngestEventOldFailuresOutsideWindowIgnored(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now())); err != nil {
			t.Fatalf("IngestEvent failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	// Past the correlation window the old burst no longer contributes.
	clock.Advance(6 * time.Minute)
	assessment, err := engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now()))
	if err != nil {
		t.Fatalf("IngestEvent failed: %v", err)
	}
	if assessment.RiskScore != 0 {
		t.Fatalf("risk = %v, want 0 once the burst aged out", assessment.RiskScore)
	}
	if assessment.Reason != "Normal authentication pattern detected" {
		t.Fatalf("unexpected reason %q", assessment.Reason)
	}
}

// failingEventStore appends fine but cannot serve window queries.
type failingEventStore struct {
	inner EventStore
}

func (s *failingEventStore) AppendEvent(ctx context.Context, event AuthEvent) (string, error) {
	return s.inner.AppendEvent(ctx, event)
}

func (s *failingEventStore) QueryEvents(context.Context, string, time.Time, int) ([]AuthEvent, error) {
	return nil, errors.New("window backend down")
}

func TestIngestEventWindowFailureYieldsIncompleteAssessment(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithUserProvider(newMockUserProvider()).
		WithEventStore(&failingEventStore{inner: NewRedisEventStore(rdb, "ar")}).
		WithAuditSink(NoOpSink{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	clock := newFakeClock()
	engine.now = clock.Now

	assessment, err := engine.IngestEvent(context.Background(), failureEvent("u1", "alice", clock.Now()))
	if err != nil {
		t.Fatalf("expected ingestion to keep accepting events, got %v", err)
	}
	if !assessment.Incomplete {
		t.Fatal("expected an incomplete assessment")
	}
	if assessment.RiskScore != 0 || assessment.Notify {
		t.Fatalf("expected the safe zero default, got %+v", assessment)
	}
	if assessment.Reason != "Analysis incomplete - event window unavailable" {
		t.Fatalf("unexpected reason %q", assessment.Reason)
	}
	if snap := engine.Metrics(); snap.AssessmentIncomplete != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

// hangingAssessor never answers within any reasonable test budget.
type hangingAssessor struct{}

func (hangingAssessor) Assess(ctx context.Context, _ AuthEvent, _ []AuthEvent) (*FraudAssessment, error) {
	<-ctx.Done()
	select {} // keep hanging even after cancellation
}

// erroringAssessor always fails.
type erroringAssessor struct{}

func (erroringAssessor) Assess(context.Context, AuthEvent, []AuthEvent) (*FraudAssessment, error) {
	return nil, errors.New("model backend down")
}

// fixedAssessor returns a canned score.
type fixedAssessor struct {
	score float64
}

func (a fixedAssessor) Assess(_ context.Context, event AuthEvent, _ []AuthEvent) (*FraudAssessment, error) {
	return &FraudAssessment{
		EventID:   event.ID,
		UserID:    event.UserID,
		Username:  event.Username,
		RiskScore: a.score,
		Reason:    "external verdict",
	}, nil
}

func newAssessorEngine(t *testing.T, assessor Assessor, timeout time.Duration) (*Engine, *fakeClock, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	cfg := testConfig()
	cfg.Fraud.AssessorEnabled = true
	cfg.Fraud.AssessorTimeout = timeout

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(newMockUserProvider()).
		WithAssessor(assessor).
		WithAuditSink(NoOpSink{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	clock := newFakeClock()
	engine.now = clock.Now
	return engine, clock, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func TestHangingAssessorFallsBackWithinTimeout(t *testing.T) {
	engine, clock, done := newAssessorEngine(t, hangingAssessor{}, 50*time.Millisecond)
	defer done()

	started := time.Now()
	assessment, err := engine.IngestEvent(context.Background(), failureEvent("u1", "alice", clock.Now()))
	if err != nil {
		t.Fatalf("IngestEvent failed: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("ingest blocked for %v on a hanging assessor", elapsed)
	}
	if assessment.Incomplete {
		t.Fatal("fallback must produce a complete rule-based assessment")
	}

	if snap := engine.Metrics(); snap.AssessorFallback != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestErroringAssessorFallsBackToRules(t *testing.T) {
	engine, clock, done := newAssessorEngine(t, erroringAssessor{}, time.Second)
	defer done()
	ctx := context.Background()

	var assessment *FraudAssessment
	var err error
	for i := 0; i < 3; i++ {
		assessment, err = engine.IngestEvent(ctx, failureEvent("u1", "alice", clock.Now()))
		if err != nil {
			t.Fatalf("IngestEvent failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	// The rule scorer answered despite the broken assessor.
	if assessment.RiskScore != 0.3 {
		t.Fatalf("risk = %v, want the rule-based 0.3", assessment.RiskScore)
	}
}

func TestAssessorVerdictClampedAndNotified(t *testing.T) {
	engine, clock, done := newAssessorEngine(t, fixedAssessor{score: 3.5}, time.Second)
	defer done()

	assessment, err := engine.IngestEvent(context.Background(), failureEvent("u1", "alice", clock.Now()))
	if err != nil {
		t.Fatalf("IngestEvent failed: %v", err)
	}
	if assessment.RiskScore != 1.0 {
		t.Fatalf("risk = %v, want clamp to 1.0", assessment.RiskScore)
	}
	if !assessment.Notify {
		t.Fatal("expected notification above the threshold")
	}
	if assessment.Reason != "external verdict" {
		t.Fatalf("unexpected reason %q", assessment.Reason)
	}
}

func TestAssessUserDoesNotAppendOrPersist(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	assessment, err := engine.AssessUser(ctx, "u1", failureEvent("u1", "alice", clock.Now()))
	if err != nil {
		t.Fatalf("AssessUser failed: %v", err)
	}
	if assessment.RiskScore != 0 {
		t.Fatalf("risk = %v, want 0 for an empty history", assessment.RiskScore)
	}

	events, err := engine.events.QueryEvents(ctx, "u1", clock.Now().Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no appended events, got %d", len(events))
	}

	report, err := engine.QueryAssessments(ctx, AssessmentQuery{UserID: "u1"})
	if err != nil {
		t.Fatalf("QueryAssessments failed: %v", err)
	}
	if report.Stats.Total != 0 {
		t.Fatalf("expected no persisted assessments, got %d", report.Stats.Total)
	}
}

func TestAssessUserRejectsMismatchedUser(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()

	if _, err := engine.AssessUser(context.Background(), "u2", failureEvent("u1", "alice", clock.Now())); !errors.Is(err, ErrEventInvalid) {
		t.Fatalf("expected ErrEventInvalid, got %v", err)
	}
}

func TestQueryAssessmentsStats(t *testing.T) {
	engine, _, clock, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	scores := []float64{0.9, 0.8, 0.5, 0.3, 0.0}
	for i, score := range scores {
		if err := engine.assessments.SaveAssessment(ctx, FraudAssessment{
			EventID:    fmt.Sprintf("e%d", i),
			UserID:     "u1",
			Username:   "alice",
			RiskScore:  score,
			AnalyzedAt: clock.Now(),
		}); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}
	}

	report, err := engine.QueryAssessments(ctx, AssessmentQuery{UserID: "u1"})
	if err != nil {
		t.Fatalf("QueryAssessments failed: %v", err)
	}
	if report.Stats.Total != 5 {
		t.Fatalf("total = %d, want 5", report.Stats.Total)
	}
	if report.Stats.HighRisk != 2 || report.Stats.MediumRisk != 1 || report.Stats.LowRisk != 2 {
		t.Fatalf("unexpected band counts: %+v", report.Stats)
	}
	if report.Stats.AverageRisk != 0.5 {
		t.Fatalf("average = %v, want 0.5", report.Stats.AverageRisk)
	}
	if report.Assessments[0].RiskScore != 0.9 {
		t.Fatalf("expected highest risk first, got %v", report.Assessments[0].RiskScore)
	}

	banded, err := engine.QueryAssessments(ctx, AssessmentQuery{UserID: "u1", MinRisk: 0.5, MaxRisk: riskCap(0.8)})
	if err != nil {
		t.Fatalf("QueryAssessments failed: %v", err)
	}
	if banded.Stats.Total != 2 {
		t.Fatalf("banded total = %d, want 2 with inclusive bounds", banded.Stats.Total)
	}

	// An explicit zero cap selects only the zero-score assessment instead of
	// widening to the full band.
	zeroOnly, err := engine.QueryAssessments(ctx, AssessmentQuery{UserID: "u1", MinRisk: 0, MaxRisk: riskCap(0)})
	if err != nil {
		t.Fatalf("QueryAssessments failed: %v", err)
	}
	if zeroOnly.Stats.Total != 1 || zeroOnly.Assessments[0].RiskScore != 0 {
		t.Fatalf("zero-cap query returned %+v, want the single zero-risk assessment", zeroOnly.Stats)
	}
}

func TestQueryAssessmentsValidation(t *testing.T) {
	engine, _, _, done := newTestEngine(t, testConfig())
	defer done()
	ctx := context.Background()

	cases := []AssessmentQuery{
		{},
		{UserID: "u1", MinRisk: -0.1},
		{UserID: "u1", MinRisk: 0.2, MaxRisk: riskCap(1.5)},
		{UserID: "u1", MinRisk: 0.9, MaxRisk: riskCap(0.2)},
	}
	for i, query := range cases {
		if _, err := engine.QueryAssessments(ctx, query); !errors.Is(err, ErrQueryInvalid) {
			t.Fatalf("case %d: expected ErrQueryInvalid, got %v", i, err)
		}
	}
}
