package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultWindow    = 15 * time.Minute
	defaultThreshold = 5
)

var (
	// ErrAttemptBackend indicates the tracker's Redis backend is unreachable.
	ErrAttemptBackend = errors.New("attempt tracker backend unavailable")
)

// AttemptTrackerConfig holds configurable thresholds for the attempt tracker.
// Zero-value fields fall back to defaults (5 failures / 15 minutes).
type AttemptTrackerConfig struct {
	Window    time.Duration
	Threshold int
	Prefix    string
}

// AttemptTracker keeps a sliding window of verification attempts per user in
// Redis sorted sets scored by timestamp. Lockout state is derived from the
// failure count within the trailing window on every call; it is never stored
// as a separate flag, so counter and lock state cannot drift.
//
// A recorded success does not remove prior failures: the window slides them
// out on its own. One lucky guess therefore cannot launder an in-progress
// lockout.
type AttemptTracker struct {
	redis     redis.UniversalClient
	window    time.Duration
	threshold int
	prefix    string
}

// NewAttemptTracker creates a tracker backed by the given Redis client.
func NewAttemptTracker(redisClient redis.UniversalClient, cfg AttemptTrackerConfig) *AttemptTracker {
	w := cfg.Window
	if w <= 0 {
		w = defaultWindow
	}
	th := cfg.Threshold
	if th <= 0 {
		th = defaultThreshold
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ar"
	}
	return &AttemptTracker{redis: redisClient, window: w, threshold: th, prefix: prefix}
}

func (t *AttemptTracker) failKey(userID string) string {
	return t.prefix + ":att:f:" + userID
}

func (t *AttemptTracker) successKey(userID string) string {
	return t.prefix + ":att:s:" + userID
}

// Check reports whether the user is currently locked out, without recording
// an attempt. retryAfter is the remaining lockout duration when locked.
func (t *AttemptTracker) Check(ctx context.Context, userID string, now time.Time) (bool, time.Duration, error) {
	scores, err := t.pruneAndFetch(ctx, userID, now, nil)
	if err != nil {
		return false, 0, err
	}
	return t.evaluate(scores, now)
}

// RecordFailure appends a failed attempt and atomically re-evaluates the
// lockout. The prune+append+read runs as one Redis transaction, so two
// concurrent failures cannot both observe a pre-threshold count.
func (t *AttemptTracker) RecordFailure(ctx context.Context, userID string, now time.Time) (bool, time.Duration, error) {
	member := attemptMember(now)
	scores, err := t.pruneAndFetch(ctx, userID, now, &member)
	if err != nil {
		return false, 0, err
	}
	return t.evaluate(scores, now)
}

// RecordSuccess appends a successful attempt record. Successes are kept for
// the audit trail only; they never reduce the failure count.
func (t *AttemptTracker) RecordSuccess(ctx context.Context, userID string, now time.Time) error {
	key := t.successKey(userID)
	cutoff := float64(now.Add(-t.window).UnixMilli())

	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: attemptMember(now)})
		pipe.Expire(ctx, key, t.window+time.Minute)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	return nil
}

// FailureCount returns the number of failures within the trailing window.
func (t *AttemptTracker) FailureCount(ctx context.Context, userID string, now time.Time) (int, error) {
	scores, err := t.pruneAndFetch(ctx, userID, now, nil)
	if err != nil {
		return 0, err
	}
	return len(scores), nil
}

// Reset clears all attempt records for a user. Intended for credential
// disablement, not for success paths.
func (t *AttemptTracker) Reset(ctx context.Context, userID string) error {
	if err := t.redis.Del(ctx, t.failKey(userID), t.successKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	return nil
}

// pruneAndFetch drops failures older than the window, optionally appends a
// new failure member, and returns the remaining failure scores in ascending
// order, all within one MULTI/EXEC transaction.
func (t *AttemptTracker) pruneAndFetch(ctx context.Context, userID string, now time.Time, addMember *string) ([]float64, error) {
	key := t.failKey(userID)
	cutoff := float64(now.Add(-t.window).UnixMilli())

	var rangeCmd *redis.ZSliceCmd
	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff))
		if addMember != nil {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: *addMember})
			pipe.Expire(ctx, key, t.window+time.Minute)
		}
		rangeCmd = pipe.ZRangeWithScores(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}

	entries, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	scores := make([]float64, 0, len(entries))
	for _, z := range entries {
		scores = append(scores, z.Score)
	}
	return scores, nil
}

// evaluate derives lock state from the window's failure scores. When locked,
// the retry-after runs until enough of the oldest failures age out for the
// count to drop below the threshold again.
func (t *AttemptTracker) evaluate(scores []float64, now time.Time) (bool, time.Duration, error) {
	count := len(scores)
	if count < t.threshold {
		return false, 0, nil
	}

	// The lockout clears once the (count-threshold+1) oldest failures have
	// left the window.
	pivot := scores[count-t.threshold]
	unlockAt := time.UnixMilli(int64(pivot)).Add(t.window)
	retryAfter := unlockAt.Sub(now)
	if retryAfter <= 0 {
		return false, 0, nil
	}
	return true, retryAfter, nil
}

func attemptMember(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
