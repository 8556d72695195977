package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTStrategy implements Strategy with HS256-signed JWTs. It exists for
// applications that want standard claims and tooling interop instead of the
// compact format; both satisfy the same contract.
type JWTStrategy struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewJWTStrategy(secret string, expiry time.Duration) *JWTStrategy {
	if expiry == 0 {
		expiry = Validity
	}
	return &JWTStrategy{secret: []byte(secret), expiry: expiry, now: time.Now}
}

func (s *JWTStrategy) Mint(subject string) (string, error) {
	if subject == "" {
		return "", ErrSubject
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

func (s *JWTStrategy) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadSignature
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrBadSignature
	case err != nil:
		return nil, ErrMalformed
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrMalformed
	}

	out := &Claims{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
