// Package token mints and verifies the session tokens returned by every
// authentication provider.
//
// The wire format is three colon-separated fields:
//
//	<subject>:<issuedAtEpochMillis>:<hexSignature>
//
// where the signature is an HMAC-SHA256 over the first two fields with a
// server-side secret. Tokens are valid for 24 hours from issuance. A JWT
// strategy with the same Strategy interface is available for applications
// that prefer standard stateless tokens.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Validity is the fixed window from issuance during which a token verifies.
const Validity = 24 * time.Hour

var (
	// ErrMalformed means the token does not have exactly three fields.
	ErrMalformed = errors.New("token: malformed")
	// ErrBadSignature means the signature does not match the payload.
	ErrBadSignature = errors.New("token: invalid signature")
	// ErrExpired means the token was valid but its window has passed.
	ErrExpired = errors.New("token: expired")
	// ErrSubject means the subject is empty or contains a colon.
	ErrSubject = errors.New("token: invalid subject")
)

// Claims is the verified content of a session token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Strategy is the uniform mint/verify contract. Minter implements it with the
// compact HMAC format; JWTStrategy implements it with signed JWTs.
type Strategy interface {
	Mint(subject string) (string, error)
	Verify(token string) (*Claims, error)
}

// Minter signs and verifies compact session tokens. The secret is injected at
// construction and replaced through Rotate; it is never read from the
// environment at call time. Safe for concurrent use.
type Minter struct {
	mu     sync.RWMutex
	secret []byte
	now    func() time.Time
}

func NewMinter(secret string) *Minter {
	return &Minter{secret: []byte(secret), now: time.Now}
}

// Rotate replaces the signing secret. Tokens minted under the previous secret
// stop verifying immediately.
func (m *Minter) Rotate(secret string) {
	m.mu.Lock()
	m.secret = []byte(secret)
	m.mu.Unlock()
}

func (m *Minter) sign(payload string) string {
	m.mu.RLock()
	mac := hmac.New(sha256.New, m.secret)
	m.mu.RUnlock()
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Mint issues a token for subject. Subjects must be non-empty and must not
// contain colons, which would break the field framing.
func (m *Minter) Mint(subject string) (string, error) {
	if subject == "" || strings.Contains(subject, ":") {
		return "", ErrSubject
	}

	payload := fmt.Sprintf("%s:%d", subject, m.now().UnixMilli())
	return payload + ":" + m.sign(payload), nil
}

// Verify checks framing, signature, and expiry, in that order, and returns
// distinct errors for each failure so callers can log the precise reason.
func (m *Minter) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}

	issuedMillis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}

	payload := parts[0] + ":" + parts[1]
	expect := m.sign(payload)
	if subtle.ConstantTimeCompare([]byte(expect), []byte(parts[2])) != 1 {
		return nil, ErrBadSignature
	}

	issuedAt := time.UnixMilli(issuedMillis)
	expiresAt := issuedAt.Add(Validity)
	if !m.now().Before(expiresAt) {
		return nil, ErrExpired
	}

	return &Claims{
		Subject:   parts[0],
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
