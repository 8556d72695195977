// Package identity provides the multi-identity registry for Veridian.
//
// An identity is a verifiable claim binding a user to an external credential:
// a hardware passkey, a wallet address, a biometric enrollment, a social or
// government account. One user may hold many identities across independent
// providers; the registry owns the canonical user-to-identities mapping and
// keeps it consistent under concurrent mutation.
//
// # Identity Types
//
//   - device: hardware-backed credentials (passkeys, security keys)
//   - biometric: fingerprint/face enrollments
//   - social: third-party social accounts
//   - wallet: blockchain wallet signatures
//   - government: government-issued identity programs
package identity

import (
	"errors"
	"time"
)

// Type is the closed enumeration of identity categories.
type Type string

const (
	TypeDevice     Type = "device"
	TypeBiometric  Type = "biometric"
	TypeSocial     Type = "social"
	TypeWallet     Type = "wallet"
	TypeGovernment Type = "government"
)

// Valid reports whether t is one of the known identity types.
func (t Type) Valid() bool {
	switch t {
	case TypeDevice, TypeBiometric, TypeSocial, TypeWallet, TypeGovernment:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when the referenced identity does not exist.
	ErrNotFound = errors.New("identity: not found")
	// ErrInvalidType is returned for a type outside the closed enumeration.
	ErrInvalidType = errors.New("identity: invalid type")
)

// Identity is one stored claim. ID and CreatedAt never change after creation;
// UpdatedAt strictly increases on every mutation.
type Identity struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	UserID    string         `json:"user_id"`
	Provider  string         `json:"provider"`
	Data      map[string]any `json:"data"`
	Verified  bool           `json:"verified"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RegisterParams is the caller-supplied portion of a new identity. ID and the
// timestamps are assigned by the registry.
type RegisterParams struct {
	Type     Type
	UserID   string
	Provider string
	Data     map[string]any
	Verified bool
}

// Data annotation keys written by Deactivate.
const (
	DataKeyDeactivationReason = "deactivation_reason"
	DataKeyDeactivatedAt      = "deactivated_at"
)
