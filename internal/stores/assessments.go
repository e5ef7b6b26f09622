package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrAssessmentBackend indicates the assessment backend is unreachable.
	ErrAssessmentBackend = errors.New("assessment backend unavailable")
)

// AssessmentRecord is the stored form of one fraud assessment.
type AssessmentRecord struct {
	EventID    string  `json:"event_id"`
	UserID     string  `json:"user_id"`
	Username   string  `json:"username"`
	RiskScore  float64 `json:"risk_score"`
	Notify     bool    `json:"notify"`
	Reason     string  `json:"reason"`
	AnalyzedAt int64   `json:"analyzed_at_ms"`
	Incomplete bool    `json:"incomplete,omitempty"`
}

// AssessmentStore keeps per-user fraud assessments in Redis sorted sets
// scored by risk score, which makes the bounded-risk query a single
// ZREVRANGEBYSCORE.
type AssessmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewAssessmentStore creates an assessment store backed by the given Redis
// client.
func NewAssessmentStore(redisClient redis.UniversalClient, prefix string) *AssessmentStore {
	if prefix == "" {
		prefix = "ar"
	}
	return &AssessmentStore{redis: redisClient, prefix: prefix}
}

func (s *AssessmentStore) key(userID string) string {
	return s.prefix + ":fa:" + userID
}

// Save stores one assessment, scored by risk.
func (s *AssessmentStore) Save(ctx context.Context, record AssessmentRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssessmentBackend, err)
	}
	z := redis.Z{Score: record.RiskScore, Member: string(encoded)}
	if err := s.redis.ZAdd(ctx, s.key(record.UserID), z).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAssessmentBackend, err)
	}
	return nil
}

// Query returns the user's assessments with minRisk <= score <= maxRisk
// (both bounds inclusive), highest risk first, capped at limit.
func (s *AssessmentStore) Query(ctx context.Context, userID string, minRisk, maxRisk float64, limit int) ([]AssessmentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.redis.ZRevRangeByScore(ctx, s.key(userID), &redis.ZRangeBy{
		Min:   strconv.FormatFloat(minRisk, 'f', -1, 64),
		Max:   strconv.FormatFloat(maxRisk, 'f', -1, 64),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssessmentBackend, err)
	}

	records := make([]AssessmentRecord, 0, len(raw))
	for _, item := range raw {
		var rec AssessmentRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
