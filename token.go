package authrisk

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims are the HS256 session grant claims: subject is the username,
// uid carries the opaque user id.
type accessClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

type tokenManager struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
}

func newTokenManager(cfg TokenConfig, issuer string) *tokenManager {
	return &tokenManager{
		signingKey: cfg.SigningKey,
		ttl:        cfg.AccessTTL,
		issuer:     issuer,
	}
}

// Issue mints an access token for a fully authenticated user.
func (m *tokenManager) Issue(user UserRecord, now time.Time) (*SessionGrant, error) {
	expiresAt := now.Add(m.ttl)
	claims := accessClaims{
		UID: user.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}

	return &SessionGrant{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

// Parse validates a grant and returns its claims. Mainly used by tests and
// embedders that need to introspect the subject.
func (m *tokenManager) Parse(tokenString string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
