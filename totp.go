package authrisk

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
)

// Code parameters are contract, not configuration: authenticator apps
// interoperate on 6-digit SHA-1 codes over 30-second steps, and verification
// tolerates one step of clock skew in each direction.
const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpPeriodSecs  = 30
	totpSkewSteps   = 1
)

type totpManager struct {
	issuer string
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{issuer: cfg.Issuer}
}

// GenerateSecret returns a fresh 160-bit secret as raw bytes and its
// unpadded base32 encoding.
func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth:// provisioning URI for an account:
//
//	otpauth://totp/{issuer}:{username}?secret={base32}&issuer={issuer}
func (m *totpManager) ProvisionURI(secretBase32, username string) string {
	label := url.PathEscape(m.issuer + ":" + username)
	return "otpauth://totp/" + label +
		"?secret=" + url.QueryEscape(secretBase32) +
		"&issuer=" + url.QueryEscape(m.issuer)
}

// ValidCodeFormat reports whether code is exactly six ASCII digits. Format
// rejection happens before attempt accounting.
func ValidCodeFormat(code string) bool {
	if len(code) != totpDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// VerifyCode checks a well-formed code against the secret at the time steps
// nowUnix-1, nowUnix, nowUnix+1. Pure given nowUnix; callers are expected to
// have validated the format already.
func (m *totpManager) VerifyCode(secret []byte, code string, nowUnix int64) (bool, error) {
	if len(secret) == 0 {
		return false, errors.New("empty totp secret")
	}

	baseCounter := nowUnix / totpPeriodSecs
	for step := int64(-totpSkewSteps); step <= totpSkewSteps; step++ {
		counter := baseCounter + step
		if counter < 0 {
			continue
		}
		generated := hotpCode(secret, counter)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

// hotpCode computes the RFC 4226 dynamic-truncation code for one counter.
func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", totpDigits, bin%mod)
}
