package authrisk

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authrisk-io/authrisk/internal/stores"
)

// redisAssessmentStore adapts the internal Redis assessment store to the
// public [AssessmentStore] contract.
type redisAssessmentStore struct {
	store *stores.AssessmentStore
}

// NewRedisAssessmentStore returns the reference [AssessmentStore]
// implementation, backed by per-user Redis sorted sets scored by risk.
func NewRedisAssessmentStore(client redis.UniversalClient, prefix string) AssessmentStore {
	return &redisAssessmentStore{store: stores.NewAssessmentStore(client, prefix)}
}

func (s *redisAssessmentStore) SaveAssessment(ctx context.Context, assessment FraudAssessment) error {
	record := stores.AssessmentRecord{
		EventID:    assessment.EventID,
		UserID:     assessment.UserID,
		Username:   assessment.Username,
		RiskScore:  assessment.RiskScore,
		Notify:     assessment.Notify,
		Reason:     assessment.Reason,
		AnalyzedAt: assessment.AnalyzedAt.UnixMilli(),
		Incomplete: assessment.Incomplete,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrAssessmentUnavailable, err)
	}
	return nil
}

func (s *redisAssessmentStore) QueryAssessments(ctx context.Context, userID string, minRisk, maxRisk float64, limit int) ([]FraudAssessment, error) {
	records, err := s.store.Query(ctx, userID, minRisk, maxRisk, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssessmentUnavailable, err)
	}
	assessments := make([]FraudAssessment, 0, len(records))
	for _, rec := range records {
		assessments = append(assessments, FraudAssessment{
			EventID:    rec.EventID,
			UserID:     rec.UserID,
			Username:   rec.Username,
			RiskScore:  rec.RiskScore,
			Notify:     rec.Notify,
			Reason:     rec.Reason,
			AnalyzedAt: time.UnixMilli(rec.AnalyzedAt).UTC(),
			Incomplete: rec.Incomplete,
		})
	}
	return assessments, nil
}
