package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatekeep.org/internal/catalog"
)

var _ catalog.Store = (*Store)(nil)

func (s *Store) Products(ctx context.Context) catalog.ProductStore {
	return &productStore{db: s.db}
}

func (s *Store) Versions(ctx context.Context) catalog.VersionStore {
	return &versionStore{db: s.db}
}

func (s *Store) Scopes(ctx context.Context) catalog.ScopeStore {
	return &scopeStore{db: s.db}
}

func (s *Store) Endpoints(ctx context.Context) catalog.EndpointStore {
	return &endpointStore{db: s.db}
}

type productStore struct{ db *sql.DB }

const productColumns = `id, organization_id, name, coalesce(description, ''), active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*catalog.APIProduct, error) {
	var p catalog.APIProduct
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Description,
		&p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *productStore) Create(ctx context.Context, p *catalog.APIProduct) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_products (id, organization_id, name, description, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.OrganizationID, p.Name, nullIfEmpty(p.Description), p.Active, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return catalog.ErrAlreadyExists
	}
	return err
}

func (s *productStore) Find(ctx context.Context, id string) (*catalog.APIProduct, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		select `+productColumns+` from api_products where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return p, err
}

func (s *productStore) ListByOrg(ctx context.Context, orgID string) ([]*catalog.APIProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+productColumns+` from api_products where organization_id = $1 order by created_at, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.APIProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type versionStore struct{ db *sql.DB }

const versionColumns = `id, product_id, version, base_path, coalesce(description, ''), status, created_at, updated_at`

func scanVersion(row interface{ Scan(...any) error }) (*catalog.APIVersion, error) {
	var v catalog.APIVersion
	if err := row.Scan(&v.ID, &v.ProductID, &v.Version, &v.BasePath, &v.Description,
		&v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *versionStore) Create(ctx context.Context, v *catalog.APIVersion) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_versions (id, product_id, version, base_path, description, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.ProductID, v.Version, v.BasePath, nullIfEmpty(v.Description), v.Status, v.CreatedAt, v.UpdatedAt)
	if isUniqueViolation(err) {
		return catalog.ErrAlreadyExists
	}
	return err
}

func (s *versionStore) Find(ctx context.Context, id string) (*catalog.APIVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, `
		select `+versionColumns+` from api_versions where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return v, err
}

func (s *versionStore) ListByProduct(ctx context.Context, productID string) ([]*catalog.APIVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+versionColumns+` from api_versions where product_id = $1 order by created_at, id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.APIVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *versionStore) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		update api_versions set status = $2, updated_at = now() where id = $1
	`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res, catalog.ErrNotFound)
}

type scopeStore struct{ db *sql.DB }

func (s *scopeStore) Create(ctx context.Context, sc *catalog.Scope) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_scopes (id, product_id, name, description, created_at)
		values ($1, $2, $3, $4, $5)
	`, sc.ID, sc.ProductID, sc.Name, nullIfEmpty(sc.Description), sc.CreatedAt)
	if isUniqueViolation(err) {
		return catalog.ErrAlreadyExists
	}
	return err
}

func (s *scopeStore) ListByProduct(ctx context.Context, productID string) ([]*catalog.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, product_id, name, coalesce(description, ''), created_at
		from api_scopes where product_id = $1 order by name
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.Scope
	for rows.Next() {
		var sc catalog.Scope
		if err := rows.Scan(&sc.ID, &sc.ProductID, &sc.Name, &sc.Description, &sc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

type endpointStore struct{ db *sql.DB }

const endpointColumns = `id, version_id, method, path, coalesce(summary, ''), required_scopes, active, created_at, updated_at`

func scanEndpoint(row interface{ Scan(...any) error }) (*catalog.Endpoint, error) {
	var (
		e         catalog.Endpoint
		rawScopes []byte
	)
	if err := row.Scan(&e.ID, &e.VersionID, &e.Method, &e.Path, &e.Summary,
		&rawScopes, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if len(rawScopes) > 0 {
		if err := json.Unmarshal(rawScopes, &e.RequiredScopes); err != nil {
			return nil, fmt.Errorf("decode required scopes: %w", err)
		}
	}
	return &e, nil
}

func (s *endpointStore) Create(ctx context.Context, e *catalog.Endpoint) error {
	scopes, err := json.Marshal(e.RequiredScopes)
	if err != nil {
		return fmt.Errorf("encode required scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into api_endpoints (id, version_id, method, path, summary, required_scopes, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.VersionID, e.Method, e.Path, nullIfEmpty(e.Summary), scopes, e.Active, e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return catalog.ErrAlreadyExists
	}
	return err
}

func (s *endpointStore) Find(ctx context.Context, id string) (*catalog.Endpoint, error) {
	e, err := scanEndpoint(s.db.QueryRowContext(ctx, `
		select `+endpointColumns+` from api_endpoints where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	return e, err
}

func (s *endpointStore) ListByVersion(ctx context.Context, versionID string) ([]*catalog.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+endpointColumns+` from api_endpoints where version_id = $1 order by path, method
	`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*catalog.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
