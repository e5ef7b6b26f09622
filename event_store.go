package authrisk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/authrisk-io/authrisk/internal/stores"
)

// redisEventStore adapts the internal Redis event log to the public
// [EventStore] contract.
type redisEventStore struct {
	log *stores.EventLog
}

// NewRedisEventStore returns the reference [EventStore] implementation,
// backed by per-user Redis sorted sets.
func NewRedisEventStore(client redis.UniversalClient, prefix string) EventStore {
	return &redisEventStore{log: stores.NewEventLog(client, prefix)}
}

func (s *redisEventStore) AppendEvent(ctx context.Context, event AuthEvent) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	record := stores.EventRecord{
		ID:        event.ID,
		UserID:    event.UserID,
		Username:  event.Username,
		EventType: string(event.Type),
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Timestamp: stores.TimestampMillis(event.Timestamp),
		Metadata:  event.Metadata,
	}
	if err := s.log.Append(ctx, record); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEventStoreUnavailable, err)
	}
	return event.ID, nil
}

func (s *redisEventStore) QueryEvents(ctx context.Context, userID string, since time.Time, limit int) ([]AuthEvent, error) {
	records, err := s.log.Query(ctx, userID, stores.TimestampMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventStoreUnavailable, err)
	}
	events := make([]AuthEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, AuthEvent{
			ID:        rec.ID,
			UserID:    rec.UserID,
			Username:  rec.Username,
			Type:      EventType(rec.EventType),
			IPAddress: rec.IPAddress,
			UserAgent: rec.UserAgent,
			Timestamp: time.UnixMilli(rec.Timestamp).UTC(),
			Metadata:  rec.Metadata,
		})
	}
	return events, nil
}
