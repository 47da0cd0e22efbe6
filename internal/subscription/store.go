package subscription

import "context"

// Store describes persistence for subscriptions. Implementations enforce
// at most one active subscription per (app_client_id, api_version_id)
// pair, and make Update visible to subsequent Find/FindActive calls before
// returning (read-your-writes).
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Find(ctx context.Context, id string) (*Subscription, error)
	// FindActive returns the Pending or Approved subscription for the
	// pair, or ErrNotFound.
	FindActive(ctx context.Context, appClientID, versionID string) (*Subscription, error)
	// Update persists a transitioned record guarded by the expected
	// current status; a concurrent transition surfaces as
	// ErrInvalidTransition.
	Update(ctx context.Context, sub *Subscription, expectStatus string) error
	ListByClient(ctx context.Context, appClientID string) ([]*Subscription, error)
	ListByVersion(ctx context.Context, versionID string) ([]*Subscription, error)
	// GrantedScopes returns the distinct granted scope names across the
	// client's Approved subscriptions.
	GrantedScopes(ctx context.Context, appClientID string) ([]string, error)
}
