package authrisk

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config defines tuning for every engine concern. Zero values fall back to
// the defaults from defaultConfig; Build validates the final shape.
type Config struct {
	TOTP    TOTPConfig
	Lockout LockoutConfig
	Fraud   FraudConfig
	Token   TokenConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig carries the provisioning label. Code parameters are fixed by
// contract: 6 digits, 30-second step, SHA-1, one step of skew each way.
type TOTPConfig struct {
	Issuer string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig tunes the sliding-window attempt tracker.
type LockoutConfig struct {
	// Window is the trailing interval over which failed verification
	// attempts are counted.
	Window time.Duration
	// Threshold is the failure count within Window at which further
	// verification attempts are rejected.
	Threshold int
	// RedisPrefix namespaces the tracker's keys.
	RedisPrefix string
}

/*
====================================
FRAUD CONFIG
====================================
*/

// FraudConfig tunes the event-correlation risk engine.
type FraudConfig struct {
	// CorrelationWindow is the trailing interval of events examined per
	// assessment.
	CorrelationWindow time.Duration
	// NotifyThreshold is the risk score at or above which the notification
	// decision fires. The boundary is inclusive.
	NotifyThreshold float64
	// AssessorEnabled selects the configured Assessor over rule-based
	// scoring. With no Assessor set it has no effect.
	AssessorEnabled bool
	// AssessorTimeout is the hard bound on one Assessor call.
	AssessorTimeout time.Duration
	// MaxWindowEvents bounds the events fetched per assessment.
	MaxWindowEvents int
	// RedisPrefix namespaces the event and assessment stores.
	RedisPrefix string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls the HS256 access tokens minted as session grants.
type TokenConfig struct {
	SigningKey []byte
	AccessTTL  time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

const (
	defaultLockoutWindow     = 15 * time.Minute
	defaultLockoutThreshold  = 5
	defaultCorrelationWindow = 5 * time.Minute
	defaultNotifyThreshold   = 0.7
	defaultAssessorTimeout   = 5000 * time.Millisecond
	defaultMaxWindowEvents   = 1000
	defaultAccessTTL         = 60 * time.Minute
	defaultIssuer            = "AuthService"
)

func defaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Issuer: defaultIssuer,
		},
		Lockout: LockoutConfig{
			Window:      defaultLockoutWindow,
			Threshold:   defaultLockoutThreshold,
			RedisPrefix: "ar",
		},
		Fraud: FraudConfig{
			CorrelationWindow: defaultCorrelationWindow,
			NotifyThreshold:   defaultNotifyThreshold,
			AssessorEnabled:   false,
			AssessorTimeout:   defaultAssessorTimeout,
			MaxWindowEvents:   defaultMaxWindowEvents,
			RedisPrefix:       "ar",
		},
		Token: TokenConfig{
			AccessTTL: defaultAccessTTL,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// ConfigFromEnv returns the default configuration with the recognized
// environment options applied on top:
//
//	AUTHRISK_LOCKOUT_WINDOW_MINUTES      lockout window (default 15)
//	AUTHRISK_LOCKOUT_THRESHOLD           failures before lockout (default 5)
//	AUTHRISK_CORRELATION_WINDOW_MINUTES  correlation window (default 5)
//	AUTHRISK_NOTIFY_THRESHOLD            notification threshold (default 0.7)
//	AUTHRISK_ASSESSOR_ENABLED            enable the configured Assessor
//	AUTHRISK_ASSESSOR_TIMEOUT_MS         assessor hard timeout (default 5000)
//	AUTHRISK_TOTP_ISSUER                 otpauth issuer label
//
// Unparseable values keep the default.
func ConfigFromEnv() Config {
	cfg := defaultConfig()

	cfg.Lockout.Window = envMinutes("AUTHRISK_LOCKOUT_WINDOW_MINUTES", cfg.Lockout.Window)
	cfg.Lockout.Threshold = envInt("AUTHRISK_LOCKOUT_THRESHOLD", cfg.Lockout.Threshold)
	cfg.Fraud.CorrelationWindow = envMinutes("AUTHRISK_CORRELATION_WINDOW_MINUTES", cfg.Fraud.CorrelationWindow)
	cfg.Fraud.NotifyThreshold = envFloat("AUTHRISK_NOTIFY_THRESHOLD", cfg.Fraud.NotifyThreshold)
	cfg.Fraud.AssessorEnabled = envBool("AUTHRISK_ASSESSOR_ENABLED", cfg.Fraud.AssessorEnabled)
	if ms := envInt("AUTHRISK_ASSESSOR_TIMEOUT_MS", 0); ms > 0 {
		cfg.Fraud.AssessorTimeout = time.Duration(ms) * time.Millisecond
	}
	cfg.TOTP.Issuer = envString("AUTHRISK_TOTP_ISSUER", cfg.TOTP.Issuer)

	return cfg
}

func validateConfig(cfg Config) error {
	if cfg.TOTP.Issuer == "" {
		return errors.New("totp issuer must not be empty")
	}
	if cfg.Lockout.Window <= 0 {
		return errors.New("lockout window must be positive")
	}
	if cfg.Lockout.Threshold <= 0 {
		return errors.New("lockout threshold must be positive")
	}
	if cfg.Fraud.CorrelationWindow <= 0 {
		return errors.New("correlation window must be positive")
	}
	if cfg.Fraud.NotifyThreshold < 0 || cfg.Fraud.NotifyThreshold > 1 {
		return errors.New("notify threshold must be within [0,1]")
	}
	if cfg.Fraud.AssessorTimeout <= 0 {
		return errors.New("assessor timeout must be positive")
	}
	if cfg.Fraud.MaxWindowEvents <= 0 {
		return errors.New("max window events must be positive")
	}
	if len(cfg.Token.SigningKey) == 0 {
		return errors.New("token signing key is required")
	}
	if cfg.Token.AccessTTL <= 0 {
		return errors.New("token access TTL must be positive")
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envMinutes(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return def
}
