package authrisk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/authrisk-io/authrisk/internal/audit"
	"github.com/authrisk-io/authrisk/internal/limiters"
)

// Engine is the authentication-risk core: the TOTP second factor with
// per-user lockout on one side, the event-correlation fraud scorer on the
// other. Configure it through [Builder.Build]; after that it is immutable
// and safe for concurrent use.
type Engine struct {
	config      Config
	logger      *slog.Logger
	users       UserProvider
	tracker     *limiters.AttemptTracker
	events      EventStore
	assessments AssessmentStore
	assessor    Assessor
	rules       RuleAssessor
	totp        *totpManager
	tokens      *tokenManager
	audit       *audit.Dispatcher
	metrics     *Metrics
	enrollLocks keyedMutex

	// now is swappable for tests.
	now func() time.Time
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Metrics returns a point-in-time copy of the engine counters.
func (e *Engine) Metrics() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// lookupUser resolves a username without distinguishing "not found" from
// any other lookup failure, so callers cannot enumerate accounts.
func (e *Engine) lookupUser(ctx context.Context, username string) (UserRecord, error) {
	if username == "" {
		return UserRecord{}, ErrInvalidCredentials
	}
	user, err := e.users.GetUserByUsername(ctx, username)
	if err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}
	return user, nil
}

// keyedMutex serializes operations per key. Entries are reference-counted
// and removed when the last holder releases, so the map does not grow with
// the user population.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*keyedMutexEntry)
	}
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedMutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
