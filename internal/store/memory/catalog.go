package memory

import (
	"context"
	"strings"

	"gatekeep.org/internal/catalog"
)

func (s *Store) Products(ctx context.Context) catalog.ProductStore {
	return &productStore{s}
}

func (s *Store) Versions(ctx context.Context) catalog.VersionStore {
	return &versionStore{s}
}

func (s *Store) Scopes(ctx context.Context) catalog.ScopeStore {
	return &scopeStore{s}
}

func (s *Store) Endpoints(ctx context.Context) catalog.EndpointStore {
	return &endpointStore{s}
}

type productStore struct{ s *Store }

func (p *productStore) Create(ctx context.Context, prod *catalog.APIProduct) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.products[prod.ID]; ok {
		return catalog.ErrAlreadyExists
	}
	for _, existing := range p.s.products {
		if existing.OrganizationID == prod.OrganizationID && strings.EqualFold(existing.Name, prod.Name) {
			return catalog.ErrAlreadyExists
		}
	}
	p.s.products[prod.ID] = *prod
	return nil
}

func (p *productStore) Find(ctx context.Context, id string) (*catalog.APIProduct, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	prod, ok := p.s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &prod, nil
}

func (p *productStore) ListByOrg(ctx context.Context, orgID string) ([]*catalog.APIProduct, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var out []*catalog.APIProduct
	for _, prod := range p.s.products {
		if prod.OrganizationID == orgID {
			prod := prod
			out = append(out, &prod)
		}
	}
	sortStable(out,
		func(v *catalog.APIProduct) int64 { return v.CreatedAt.UnixNano() },
		func(v *catalog.APIProduct) string { return v.ID })
	return out, nil
}

type versionStore struct{ s *Store }

func (v *versionStore) Create(ctx context.Context, ver *catalog.APIVersion) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.versions[ver.ID]; ok {
		return catalog.ErrAlreadyExists
	}
	for _, existing := range v.s.versions {
		if existing.ProductID == ver.ProductID && existing.Version == ver.Version {
			return catalog.ErrAlreadyExists
		}
	}
	v.s.versions[ver.ID] = *ver
	return nil
}

func (v *versionStore) Find(ctx context.Context, id string) (*catalog.APIVersion, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	ver, ok := v.s.versions[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &ver, nil
}

func (v *versionStore) ListByProduct(ctx context.Context, productID string) ([]*catalog.APIVersion, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []*catalog.APIVersion
	for _, ver := range v.s.versions {
		if ver.ProductID == productID {
			ver := ver
			out = append(out, &ver)
		}
	}
	sortStable(out,
		func(x *catalog.APIVersion) int64 { return x.CreatedAt.UnixNano() },
		func(x *catalog.APIVersion) string { return x.ID })
	return out, nil
}

func (v *versionStore) SetStatus(ctx context.Context, id, status string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	ver, ok := v.s.versions[id]
	if !ok {
		return catalog.ErrNotFound
	}
	ver.Status = status
	v.s.versions[id] = ver
	return nil
}

type scopeStore struct{ s *Store }

func (sc *scopeStore) Create(ctx context.Context, scope *catalog.Scope) error {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	if _, ok := sc.s.scopes[scope.ID]; ok {
		return catalog.ErrAlreadyExists
	}
	for _, existing := range sc.s.scopes {
		if existing.ProductID == scope.ProductID && existing.Name == scope.Name {
			return catalog.ErrAlreadyExists
		}
	}
	sc.s.scopes[scope.ID] = *scope
	return nil
}

func (sc *scopeStore) ListByProduct(ctx context.Context, productID string) ([]*catalog.Scope, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()
	var out []*catalog.Scope
	for _, scope := range sc.s.scopes {
		if scope.ProductID == productID {
			scope := scope
			out = append(out, &scope)
		}
	}
	sortStable(out,
		func(v *catalog.Scope) int64 { return v.CreatedAt.UnixNano() },
		func(v *catalog.Scope) string { return v.ID })
	return out, nil
}

type endpointStore struct{ s *Store }

func (e *endpointStore) Create(ctx context.Context, ep *catalog.Endpoint) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if _, ok := e.s.endpoints[ep.ID]; ok {
		return catalog.ErrAlreadyExists
	}
	for _, existing := range e.s.endpoints {
		if existing.VersionID == ep.VersionID && existing.Method == ep.Method && existing.Path == ep.Path {
			return catalog.ErrAlreadyExists
		}
	}
	e.s.endpoints[ep.ID] = *ep
	return nil
}

func (e *endpointStore) Find(ctx context.Context, id string) (*catalog.Endpoint, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	ep, ok := e.s.endpoints[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &ep, nil
}

func (e *endpointStore) ListByVersion(ctx context.Context, versionID string) ([]*catalog.Endpoint, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	var out []*catalog.Endpoint
	for _, ep := range e.s.endpoints {
		if ep.VersionID == versionID {
			ep := ep
			out = append(out, &ep)
		}
	}
	sortStable(out,
		func(v *catalog.Endpoint) int64 { return v.CreatedAt.UnixNano() },
		func(v *catalog.Endpoint) string { return v.ID })
	return out, nil
}
