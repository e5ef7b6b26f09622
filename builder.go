package authrisk

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/authrisk-io/authrisk/internal/audit"
	"github.com/authrisk-io/authrisk/internal/limiters"
)

// Builder assembles an [Engine]. Construction is allocation-only; no I/O
// happens until the first Engine method call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	eventStore   EventStore
	assessments  AssessmentStore
	assessor     Assessor
	auditSink    AuditSink
	logger       *slog.Logger

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing the attempt tracker and the
// reference event/assessment stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the identity-store integration. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithEventStore overrides the reference Redis event store.
func (b *Builder) WithEventStore(store EventStore) *Builder {
	b.eventStore = store
	return b
}

// WithAssessmentStore overrides the reference Redis assessment store.
func (b *Builder) WithAssessmentStore(store AssessmentStore) *Builder {
	b.assessments = store
	return b
}

// WithAssessor sets the optional external risk assessor. It is only
// consulted when [FraudConfig.AssessorEnabled] is also set.
func (b *Builder) WithAssessor(a Assessor) *Builder {
	b.assessor = a
	return b
}

// WithAuditSink sets the audit event consumer.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and assembles the engine. A Builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if err := validateConfig(b.config); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider is required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required for the attempt tracker")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	events := b.eventStore
	if events == nil {
		events = NewRedisEventStore(b.redis, b.config.Fraud.RedisPrefix)
	}
	assessments := b.assessments
	if assessments == nil {
		assessments = NewRedisAssessmentStore(b.redis, b.config.Fraud.RedisPrefix)
	}

	tracker := limiters.NewAttemptTracker(b.redis, limiters.AttemptTrackerConfig{
		Window:    b.config.Lockout.Window,
		Threshold: b.config.Lockout.Threshold,
		Prefix:    b.config.Lockout.RedisPrefix,
	})

	var dispatcher *internalaudit.Dispatcher
	if b.config.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = internalaudit.NewSlogSink(logger)
		}
		dispatcher = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, sink)
	}

	engine := &Engine{
		config:      b.config,
		logger:      logger,
		users:       b.userProvider,
		tracker:     tracker,
		events:      events,
		assessments: assessments,
		assessor:    b.assessor,
		totp:        newTOTPManager(b.config.TOTP),
		tokens:      newTokenManager(b.config.Token, b.config.TOTP.Issuer),
		audit:       dispatcher,
		metrics:     newMetrics(b.config.Metrics),
		now:         time.Now,
	}

	b.built = true
	return engine, nil
}
