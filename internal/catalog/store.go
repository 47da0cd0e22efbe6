package catalog

import "context"

// Store describes persistence operations required by the catalog.
type Store interface {
	Products(ctx context.Context) ProductStore
	Versions(ctx context.Context) VersionStore
	Scopes(ctx context.Context) ScopeStore
	Endpoints(ctx context.Context) EndpointStore
}

// ProductStore manages API products. (org_id, name) uniqueness is enforced
// by the store.
type ProductStore interface {
	Create(ctx context.Context, p *APIProduct) error
	Find(ctx context.Context, id string) (*APIProduct, error)
	ListByOrg(ctx context.Context, orgID string) ([]*APIProduct, error)
}

// VersionStore manages API versions. (product_id, version) uniqueness is
// enforced by the store.
type VersionStore interface {
	Create(ctx context.Context, v *APIVersion) error
	Find(ctx context.Context, id string) (*APIVersion, error)
	ListByProduct(ctx context.Context, productID string) ([]*APIVersion, error)
	SetStatus(ctx context.Context, id, status string) error
}

// ScopeStore manages declared scopes. (product_id, name) uniqueness is
// enforced by the store.
type ScopeStore interface {
	Create(ctx context.Context, s *Scope) error
	ListByProduct(ctx context.Context, productID string) ([]*Scope, error)
}

// EndpointStore manages endpoints. (version_id, method, path) uniqueness is
// enforced by the store.
type EndpointStore interface {
	Create(ctx context.Context, e *Endpoint) error
	Find(ctx context.Context, id string) (*Endpoint, error)
	ListByVersion(ctx context.Context, versionID string) ([]*Endpoint, error)
}
