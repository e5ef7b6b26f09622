package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEventBackend indicates the event log backend is unreachable.
	ErrEventBackend = errors.New("event log backend unavailable")
)

// EventRecord is the stored form of one auth event. The engine layer owns
// validation; this store only orders and retrieves.
type EventRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Username  string            `json:"username"`
	EventType string            `json:"event_type"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Timestamp int64             `json:"ts_ms"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventLog is an append-only, per-user, time-ordered event store on Redis
// sorted sets. Appends for one user are ordered by timestamp score; queries
// return oldest first. Retention is the operator's concern (keys carry no
// TTL here); the engine only ever reads a bounded recent window.
type EventLog struct {
	redis  redis.UniversalClient
	prefix string
}

// NewEventLog creates an event log backed by the given Redis client.
func NewEventLog(redisClient redis.UniversalClient, prefix string) *EventLog {
	if prefix == "" {
		prefix = "ar"
	}
	return &EventLog{redis: redisClient, prefix: prefix}
}

func (l *EventLog) key(userID string) string {
	return l.prefix + ":ev:" + userID
}

// Append stores one event, scored by its timestamp in milliseconds.
func (l *EventLog) Append(ctx context.Context, record EventRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEventBackend, err)
	}
	z := redis.Z{Score: float64(record.Timestamp), Member: string(encoded)}
	if err := l.redis.ZAdd(ctx, l.key(record.UserID), z).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEventBackend, err)
	}
	return nil
}

// Query returns the user's events with timestamp >= sinceMillis, oldest
// first, capped at limit. When the range holds more than limit entries the
// newest survive the cut, since callers correlate a window ending now.
func (l *EventLog) Query(ctx context.Context, userID string, sinceMillis int64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	raw, err := l.redis.ZRevRangeByScore(ctx, l.key(userID), &redis.ZRangeBy{
		Min:   fmt.Sprintf("%d", sinceMillis),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventBackend, err)
	}

	records := make([]EventRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec EventRecord
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			// A corrupt entry is skipped rather than failing the window.
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
	return records, nil
}

// TimestampMillis converts a time to the store's score unit.
func TimestampMillis(t time.Time) int64 {
	return t.UnixMilli()
}
