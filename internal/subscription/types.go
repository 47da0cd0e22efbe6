// Package subscription tracks consumer access to API versions through an
// explicit state machine: Pending -> {Approved, Denied}; Approved ->
// Revoked. Denied and Revoked are terminal.
package subscription

import (
	"errors"
	"time"
)

// Subscription states.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusRevoked  = "revoked"
)

var (
	ErrNotFound = errors.New("subscription: not found")
	// ErrNotPublished rejects requests against versions outside the
	// Published state.
	ErrNotPublished = errors.New("subscription: api version is not published")
	// ErrDuplicateRequest rejects a second active (pending or approved)
	// subscription for the same consumer/version pair.
	ErrDuplicateRequest = errors.New("subscription: active subscription already exists")
	// ErrInvalidTransition flags a state machine violation. It is a client
	// programming error, distinct from authorization failures.
	ErrInvalidTransition = errors.New("subscription: invalid transition")
	// ErrScopeOutOfBounds rejects grants outside the version's declared
	// scope set.
	ErrScopeOutOfBounds = errors.New("subscription: scope out of bounds")
	ErrForbidden        = errors.New("subscription: decider lacks authority")
	ErrInvalidInput     = errors.New("subscription: invalid input")
)

// Subscription relates one app client to one API version.
type Subscription struct {
	ID                 string     `json:"id"`
	AppClientID        string     `json:"app_client_id"`
	APIVersionID       string     `json:"api_version_id"`
	Status             string     `json:"status"`
	RequestedScopes    []string   `json:"requested_scopes"`
	GrantedScopes      []string   `json:"granted_scopes"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	Justification      string     `json:"justification,omitempty"`
	DenialReason       string     `json:"denial_reason,omitempty"`
	DecidedBy          string     `json:"decided_by,omitempty"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Active reports whether the subscription occupies the consumer/version
// pair for duplicate-request purposes.
func (s *Subscription) Active() bool {
	return s.Status == StatusPending || s.Status == StatusApproved
}

// canTransition encodes the state machine. No transition leaves Denied or
// Revoked.
func canTransition(from, to string) bool {
	switch {
	case from == StatusPending && (to == StatusApproved || to == StatusDenied):
		return true
	case from == StatusApproved && to == StatusRevoked:
		return true
	}
	return false
}
