package authrisk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock makes the engine's notion of "now" deterministic and movable.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockUserProvider is an in-memory identity store for engine tests.
type mockUserProvider struct {
	mu         sync.Mutex
	users      map[string]UserRecord // keyed by username
	passwords  map[string]string     // keyed by user id
	creds      map[string]*TOTPCredential
	lookupErr  error
	passwdErr  error
	credErr    error
	setCredErr error
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users: map[string]UserRecord{
			"alice": {UserID: "u1", Username: "alice"},
			"bob":   {UserID: "u2", Username: "bob"},
		},
		passwords: map[string]string{
			"u1": "correct-password-123",
			"u2": "hunter2-but-longer",
		},
		creds: map[string]*TOTPCredential{},
	}
}

func (p *mockUserProvider) GetUserByUsername(_ context.Context, username string) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return UserRecord{}, p.lookupErr
	}
	user, ok := p.users[username]
	if !ok {
		return UserRecord{}, errors.New("not found")
	}
	return user, nil
}

func (p *mockUserProvider) VerifyPassword(_ context.Context, userID, password string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.passwdErr != nil {
		return false, p.passwdErr
	}
	return p.passwords[userID] == password, nil
}

func (p *mockUserProvider) GetTOTPCredential(_ context.Context, userID string) (*TOTPCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.credErr != nil {
		return nil, p.credErr
	}
	cred, ok := p.creds[userID]
	if !ok {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

func (p *mockUserProvider) SetTOTPCredential(_ context.Context, userID string, secret []byte, enrolledAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setCredErr != nil {
		return p.setCredErr
	}
	p.creds[userID] = &TOTPCredential{
		Secret:     append([]byte(nil), secret...),
		Enabled:    true,
		EnrolledAt: enrolledAt,
	}
	return nil
}

func (p *mockUserProvider) ClearTOTPCredential(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.creds, userID)
	return nil
}

func (p *mockUserProvider) secretFor(t *testing.T, userID string) []byte {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	cred, ok := p.creds[userID]
	if !ok {
		t.Fatalf("no credential stored for %s", userID)
	}
	return append([]byte(nil), cred.Secret...)
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Token.SigningKey = []byte("test-signing-key-0123456789abcdef")
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mockUserProvider, *fakeClock, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	up := newMockUserProvider()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(up).
		WithAuditSink(NoOpSink{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	clock := newFakeClock()
	engine.now = clock.Now

	done := func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
	return engine, up, clock, done
}

// codeAt derives the valid verification code for a secret at a given time.
func codeAt(secret []byte, at time.Time) string {
	return hotpCode(secret, at.Unix()/totpPeriodSecs)
}

// wrongCodeAt derives a well-formed code guaranteed not to verify at the
// given time, by targeting a counter far outside the skew window.
func wrongCodeAt(secret []byte, at time.Time) string {
	candidate := hotpCode(secret, at.Unix()/totpPeriodSecs+100)
	for step := int64(-totpSkewSteps); step <= totpSkewSteps; step++ {
		if candidate == hotpCode(secret, at.Unix()/totpPeriodSecs+step) {
			// Collision with a currently valid code; shift further out.
			return hotpCode(secret, at.Unix()/totpPeriodSecs+200)
		}
	}
	return candidate
}
