package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatekeep.org/internal/identity"
)

var _ identity.Store = (*Store)(nil)

func (s *Store) Organizations(ctx context.Context) identity.OrganizationStore {
	return &orgStore{db: s.db}
}

func (s *Store) Users(ctx context.Context) identity.UserStore {
	return &userStore{db: s.db}
}

func (s *Store) AppClients(ctx context.Context) identity.AppClientStore {
	return &appClientStore{db: s.db}
}

type orgStore struct{ db *sql.DB }

func (o *orgStore) Create(ctx context.Context, org *identity.Organization) error {
	_, err := o.db.ExecContext(ctx, `
		insert into organizations (id, name, description, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.Name, nullIfEmpty(org.Description), org.Active, org.CreatedAt, org.UpdatedAt)
	if isUniqueViolation(err) {
		return identity.ErrAlreadyExists
	}
	return err
}

const orgColumns = `id, name, coalesce(description, ''), active, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (*identity.Organization, error) {
	var org identity.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Description, &org.Active, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	return &org, nil
}

func (o *orgStore) Find(ctx context.Context, id string) (*identity.Organization, error) {
	org, err := scanOrg(o.db.QueryRowContext(ctx, `
		select `+orgColumns+` from organizations where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return org, err
}

func (o *orgStore) List(ctx context.Context) ([]*identity.Organization, error) {
	rows, err := o.db.QueryContext(ctx, `
		select `+orgColumns+` from organizations order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.Organization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (o *orgStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := o.db.ExecContext(ctx, `
		update organizations set active = $2, updated_at = now() where id = $1
	`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res, identity.ErrNotFound)
}

type userStore struct{ db *sql.DB }

const userColumns = `id, email, name, password_hash, role, coalesce(organization_id, ''), active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*identity.User, error) {
	var u identity.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
		&u.OrganizationID, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, name, password_hash, role, organization_id, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Role, nullIfEmpty(u.OrganizationID), u.Active, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return identity.ErrAlreadyExists
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return u, err
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where lower(email) = lower($1)
	`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return u, err
}

func (s *userStore) ListByOrg(ctx context.Context, orgID string) ([]*identity.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+` from users where organization_id = $1 order by created_at, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *userStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update users set active = $2, updated_at = now() where id = $1
	`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res, identity.ErrNotFound)
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now() where id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res, identity.ErrNotFound)
}

type appClientStore struct{ db *sql.DB }

const appClientColumns = `id, organization_id, name, coalesce(description, ''), client_id, active, created_at, updated_at`

func scanAppClient(row interface{ Scan(...any) error }) (*identity.AppClient, error) {
	var c identity.AppClient
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Description,
		&c.ClientID, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *appClientStore) Create(ctx context.Context, c *identity.AppClient) error {
	_, err := s.db.ExecContext(ctx, `
		insert into app_clients (id, organization_id, name, description, client_id, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.OrganizationID, c.Name, nullIfEmpty(c.Description), c.ClientID, c.Active, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return identity.ErrAlreadyExists
	}
	return err
}

func (s *appClientStore) Find(ctx context.Context, id string) (*identity.AppClient, error) {
	c, err := scanAppClient(s.db.QueryRowContext(ctx, `
		select `+appClientColumns+` from app_clients where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return c, err
}

func (s *appClientStore) FindByClientID(ctx context.Context, clientID string) (*identity.AppClient, error) {
	c, err := scanAppClient(s.db.QueryRowContext(ctx, `
		select `+appClientColumns+` from app_clients where client_id = $1
	`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return c, err
}

func (s *appClientStore) ListByOrg(ctx context.Context, orgID string) ([]*identity.AppClient, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+appClientColumns+` from app_clients where organization_id = $1 order by created_at, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.AppClient
	for rows.Next() {
		c, err := scanAppClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *appClientStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update app_clients set active = $2, updated_at = now() where id = $1
	`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res, identity.ErrNotFound)
}

// requireRow translates a zero-row update into notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
