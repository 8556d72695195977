// Package provider defines the contract every authentication method
// implements and the uniform result shapes the rest of the system depends on.
//
// A provider exposes exactly two operations: Authenticate, which runs a full
// authentication attempt against opaque credentials, and Verify, which checks
// a previously issued session token. Validation and security rejections are
// reported inside the result shapes rather than as errors, so callers can
// treat all authentication outcomes uniformly; returned errors are reserved
// for infrastructure failures such as an unreachable store.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/getveridian/veridian/token"
)

// Safe, user-visible rejection reasons. Internal distinctions (counter replay
// vs. origin mismatch) stay in logs; they are never echoed to the caller.
const (
	ReasonAuthFailed     = "authentication failed"
	ReasonTokenMalformed = "malformed token"
	ReasonTokenTampered  = "invalid token signature"
	ReasonTokenExpired   = "token expired"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	Success  bool           `json:"success"`
	Token    string         `json:"token,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// VerifyResult is the outcome of a session token check.
type VerifyResult struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Provider is the uniform authentication contract. Credentials are an opaque
// attribute bag whose shape is provider-specific.
type Provider interface {
	Authenticate(ctx context.Context, credentials map[string]any) (*AuthResult, error)
	Verify(ctx context.Context, sessionToken string) (*VerifyResult, error)
}

// Fail builds a failed AuthResult with a safe reason.
func Fail(reason string) *AuthResult {
	return &AuthResult{Success: false, Error: reason}
}

// VerifyToken checks a session token against a token strategy and folds the
// distinct failure modes into a VerifyResult. Shared by every provider.
func VerifyToken(s token.Strategy, sessionToken string) *VerifyResult {
	claims, err := s.Verify(sessionToken)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrBadSignature):
		return &VerifyResult{Valid: false, Error: ReasonTokenTampered}
	case errors.Is(err, token.ErrExpired):
		return &VerifyResult{Valid: false, Error: ReasonTokenExpired}
	default:
		return &VerifyResult{Valid: false, Error: ReasonTokenMalformed}
	}

	return &VerifyResult{
		Valid:     true,
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt,
	}
}
