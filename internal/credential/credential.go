// Package credential owns the secret lifecycle: API keys, refresh tokens,
// OAuth client secrets, and password records. Plaintext secrets exist only
// transiently at issuance; the store keeps a keyed one-way fingerprint.
package credential

import (
	"context"
	"errors"
	"time"
)

// Credential kinds.
const (
	KindAPIKey       = "api_key"
	KindRefreshToken = "refresh_token"
	KindClientSecret = "client_secret"
)

var (
	// ErrAuthFailure is deliberately opaque. The internal sub-reason
	// (not found, revoked, expired, owner disabled) is written to the
	// audit trail but never surfaced to the caller, which prevents
	// credential enumeration.
	ErrAuthFailure  = errors.New("credential: unauthorized")
	ErrInvalidOwner = errors.New("credential: invalid owner")
	ErrInvalidInput = errors.New("credential: invalid input")
	ErrNotFound     = errors.New("credential: not found")
)

// Internal verification failure reasons, recorded on the audit trail only.
const (
	reasonNotFound      = "not_found"
	reasonRevoked       = "revoked"
	reasonExpired       = "expired"
	reasonOwnerDisabled = "owner_disabled"
)

// Credential is the persisted record of one secret. Hash is a keyed
// HMAC-SHA256 fingerprint; the plaintext is never stored.
type Credential struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	OwnerID    string     `json:"owner_id"`
	OwnerKind  string     `json:"owner_kind"`
	Name       string     `json:"name,omitempty"`
	Prefix     string     `json:"prefix,omitempty"`
	Hash       string     `json:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	RevokedBy  string     `json:"revoked_by,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Owner is the minimal view of the identity owning a credential.
type Owner struct {
	ID             string
	Kind           string
	OrganizationID string
	Disabled       bool
}

// OwnerDirectory resolves credential owners without binding this package
// to the identity implementation.
type OwnerDirectory interface {
	FindOwner(ctx context.Context, id string) (Owner, error)
}

// Store describes persistence operations for credentials. Implementations
// enforce fingerprint uniqueness per kind and must make Rotate atomic:
// once Rotate returns, the old record no longer matches any lookup.
type Store interface {
	Create(ctx context.Context, c *Credential) error
	Find(ctx context.Context, id string) (*Credential, error)
	FindByHash(ctx context.Context, kind, hash string) (*Credential, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Credential, error)
	// Revoke marks the credential revoked. Revoking an already revoked
	// credential is a no-op.
	Revoke(ctx context.Context, id string, at time.Time, by string) error
	// Rotate revokes old and creates repl as a single atomic unit.
	Rotate(ctx context.Context, oldID string, repl *Credential, at time.Time, by string) error
	RevokeByOwner(ctx context.Context, ownerID string, kind string, at time.Time, by string) error
	Touch(ctx context.Context, id string, at time.Time) error
}
