// Package catalog manages API products, their versions, declared scopes,
// and endpoints. Version lifecycle gates subscribability: only Published
// versions accept new subscriptions.
package catalog

import (
	"errors"
	"time"
)

// Version lifecycle states.
const (
	StatusDraft      = "draft"
	StatusPublished  = "published"
	StatusDeprecated = "deprecated"
)

var (
	ErrNotFound          = errors.New("catalog: not found")
	ErrAlreadyExists     = errors.New("catalog: already exists")
	ErrInvalidInput      = errors.New("catalog: invalid input")
	ErrInvalidTransition = errors.New("catalog: invalid lifecycle transition")
)

// APIProduct is a named API owned by one organization.
type APIProduct struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// APIVersion is one publishable revision of a product.
type APIVersion struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Version     string    `json:"version"`
	BasePath    string    `json:"base_path"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Scope is a named permission unit declared by a product, e.g. orders.read.
type Scope struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Endpoint is one operation of a version together with the scopes a caller
// must hold to invoke it.
type Endpoint struct {
	ID             string    `json:"id"`
	VersionID      string    `json:"version_id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	Summary        string    `json:"summary,omitempty"`
	RequiredScopes []string  `json:"required_scopes"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subscribable reports whether new subscription requests are accepted for
// a version in this state. Deprecated keeps existing subscriptions valid
// but rejects new requests.
func Subscribable(status string) bool { return status == StatusPublished }

// canTransition encodes the version lifecycle: Draft -> Published ->
// Deprecated, no way back.
func canTransition(from, to string) bool {
	switch {
	case from == StatusDraft && to == StatusPublished:
		return true
	case from == StatusPublished && to == StatusDeprecated:
		return true
	}
	return false
}
