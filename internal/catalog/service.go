package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/ids"
)

var httpMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
}

// Service provides catalog operations on top of a Store.
type Service struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("catalog: store is required")
	}
	if recorder == nil {
		return nil, errors.New("catalog: audit recorder is required")
	}
	s := &Service{store: store, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateProduct registers a new API product owned by an organization.
func (s *Service) CreateProduct(ctx context.Context, orgID, name, description string) (*APIProduct, error) {
	orgID = strings.TrimSpace(orgID)
	name = strings.TrimSpace(name)
	if orgID == "" || name == "" {
		return nil, fmt.Errorf("%w: organization_id and name are required", ErrInvalidInput)
	}
	now := s.now().UTC()
	p := &APIProduct{
		ID:             ids.New(),
		OrganizationID: orgID,
		Name:           name,
		Description:    strings.TrimSpace(description),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Products(ctx).Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProduct returns one product by id.
func (s *Service) GetProduct(ctx context.Context, id string) (*APIProduct, error) {
	return s.store.Products(ctx).Find(ctx, strings.TrimSpace(id))
}

// ListProducts returns the products owned by an organization.
func (s *Service) ListProducts(ctx context.Context, orgID string) ([]*APIProduct, error) {
	return s.store.Products(ctx).ListByOrg(ctx, strings.TrimSpace(orgID))
}

// CreateVersion adds a Draft version to a product.
func (s *Service) CreateVersion(ctx context.Context, productID, version, basePath, description string) (*APIVersion, error) {
	productID = strings.TrimSpace(productID)
	version = strings.TrimSpace(version)
	basePath = strings.TrimSpace(basePath)
	if productID == "" || version == "" {
		return nil, fmt.Errorf("%w: product_id and version are required", ErrInvalidInput)
	}
	if basePath == "" || !strings.HasPrefix(basePath, "/") {
		return nil, fmt.Errorf("%w: base_path must start with /", ErrInvalidInput)
	}
	if _, err := s.store.Products(ctx).Find(ctx, productID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	v := &APIVersion{
		ID:          ids.New(),
		ProductID:   productID,
		Version:     version,
		BasePath:    basePath,
		Description: strings.TrimSpace(description),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Versions(ctx).Create(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetVersion returns one version by id.
func (s *Service) GetVersion(ctx context.Context, id string) (*APIVersion, error) {
	return s.store.Versions(ctx).Find(ctx, strings.TrimSpace(id))
}

// ListVersions returns the versions of a product.
func (s *Service) ListVersions(ctx context.Context, productID string) ([]*APIVersion, error) {
	return s.store.Versions(ctx).ListByProduct(ctx, strings.TrimSpace(productID))
}

// Publish transitions a Draft version to Published, making it subscribable.
func (s *Service) Publish(ctx context.Context, versionID, actor string) (*APIVersion, error) {
	return s.transition(ctx, versionID, StatusPublished, actor)
}

// Deprecate transitions a Published version to Deprecated. Existing
// subscriptions remain valid; new requests are rejected.
func (s *Service) Deprecate(ctx context.Context, versionID, actor string) (*APIVersion, error) {
	return s.transition(ctx, versionID, StatusDeprecated, actor)
}

func (s *Service) transition(ctx context.Context, versionID, to, actor string) (*APIVersion, error) {
	versions := s.store.Versions(ctx)
	v, err := versions.Find(ctx, strings.TrimSpace(versionID))
	if err != nil {
		return nil, err
	}
	if !canTransition(v.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, v.Status, to)
	}
	if err := versions.SetStatus(ctx, v.ID, to); err != nil {
		return nil, err
	}
	v.Status = to
	v.UpdatedAt = s.now().UTC()
	if err := s.recorder.Record(ctx, audit.Record{
		ActorID:      actor,
		ActorType:    audit.ActorUser,
		Action:       "catalog.version." + to,
		ResourceType: "api_version",
		ResourceID:   v.ID,
		Decision:     audit.DecisionAllowed,
	}); err != nil {
		return nil, err
	}
	return v, nil
}

// AddScope declares a scope on a product.
func (s *Service) AddScope(ctx context.Context, productID, name, description string) (*Scope, error) {
	productID = strings.TrimSpace(productID)
	name = strings.TrimSpace(name)
	if productID == "" || name == "" {
		return nil, fmt.Errorf("%w: product_id and name are required", ErrInvalidInput)
	}
	if _, err := s.store.Products(ctx).Find(ctx, productID); err != nil {
		return nil, err
	}
	sc := &Scope{
		ID:          ids.New(),
		ProductID:   productID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Scopes(ctx).Create(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// ListScopes returns the scopes declared by a product.
func (s *Service) ListScopes(ctx context.Context, productID string) ([]*Scope, error) {
	return s.store.Scopes(ctx).ListByProduct(ctx, strings.TrimSpace(productID))
}

// DeclaredScopes returns the scope names declared by the product owning a
// version. These bound what a subscription may be granted.
func (s *Service) DeclaredScopes(ctx context.Context, versionID string) ([]string, error) {
	v, err := s.store.Versions(ctx).Find(ctx, strings.TrimSpace(versionID))
	if err != nil {
		return nil, err
	}
	scopes, err := s.store.Scopes(ctx).ListByProduct(ctx, v.ProductID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		names = append(names, sc.Name)
	}
	return names, nil
}

// AddEndpoint registers an operation on a version with its required scopes.
func (s *Service) AddEndpoint(ctx context.Context, versionID, method, path, summary string, requiredScopes []string) (*Endpoint, error) {
	versionID = strings.TrimSpace(versionID)
	method = strings.ToUpper(strings.TrimSpace(method))
	path = strings.TrimSpace(path)
	if versionID == "" || path == "" {
		return nil, fmt.Errorf("%w: version_id and path are required", ErrInvalidInput)
	}
	if _, ok := httpMethods[method]; !ok {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidInput, method)
	}
	v, err := s.store.Versions(ctx).Find(ctx, versionID)
	if err != nil {
		return nil, err
	}
	declared, err := s.DeclaredScopes(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	declaredSet := make(map[string]struct{}, len(declared))
	for _, name := range declared {
		declaredSet[name] = struct{}{}
	}
	cleaned := dedupe(requiredScopes)
	for _, scope := range cleaned {
		if _, ok := declaredSet[scope]; !ok {
			return nil, fmt.Errorf("%w: scope %q is not declared by the product", ErrInvalidInput, scope)
		}
	}
	now := s.now().UTC()
	e := &Endpoint{
		ID:             ids.New(),
		VersionID:      v.ID,
		Method:         method,
		Path:           path,
		Summary:        strings.TrimSpace(summary),
		RequiredScopes: cleaned,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Endpoints(ctx).Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEndpoints returns the endpoints of a version.
func (s *Service) ListEndpoints(ctx context.Context, versionID string) ([]*Endpoint, error) {
	return s.store.Endpoints(ctx).ListByVersion(ctx, strings.TrimSpace(versionID))
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
