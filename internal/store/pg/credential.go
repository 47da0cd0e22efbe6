package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatekeep.org/internal/credential"
)

// Credentials returns the credential store view.
func (s *Store) Credentials() credential.Store { return &credentialStore{db: s.db} }

type credentialStore struct{ db *sql.DB }

const credentialColumns = `id, kind, owner_id, owner_kind, coalesce(name, ''), prefix, hash,
	expires_at, created_at, revoked, revoked_at, coalesce(revoked_by, ''), last_used_at`

func scanCredential(row interface{ Scan(...any) error }) (*credential.Credential, error) {
	var (
		c                             credential.Credential
		expiresAt, revokedAt, lastUse sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Kind, &c.OwnerID, &c.OwnerKind, &c.Name, &c.Prefix, &c.Hash,
		&expiresAt, &c.CreatedAt, &c.Revoked, &revokedAt, &c.RevokedBy, &lastUse); err != nil {
		return nil, err
	}
	c.ExpiresAt = timePtr(expiresAt)
	c.RevokedAt = timePtr(revokedAt)
	c.LastUsedAt = timePtr(lastUse)
	return &c, nil
}

func (s *credentialStore) Create(ctx context.Context, c *credential.Credential) error {
	return insertCredential(ctx, s.db, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCredential(ctx context.Context, db execer, c *credential.Credential) error {
	_, err := db.ExecContext(ctx, `
		insert into credentials (id, kind, owner_id, owner_kind, name, prefix, hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.Kind, c.OwnerID, c.OwnerKind, nullIfEmpty(c.Name), c.Prefix, c.Hash,
		nullIfZero(c.ExpiresAt), c.CreatedAt)
	if isUniqueViolation(err) {
		return credential.ErrInvalidInput
	}
	return err
}

func (s *credentialStore) Find(ctx context.Context, id string) (*credential.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx, `
		select `+credentialColumns+` from credentials where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNotFound
	}
	return c, err
}

func (s *credentialStore) FindByHash(ctx context.Context, kind, hash string) (*credential.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx, `
		select `+credentialColumns+` from credentials where kind = $1 and hash = $2
	`, kind, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNotFound
	}
	return c, err
}

func (s *credentialStore) ListByOwner(ctx context.Context, ownerID string) ([]*credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+credentialColumns+` from credentials where owner_id = $1 order by created_at, id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *credentialStore) Revoke(ctx context.Context, id string, at time.Time, by string) error {
	res, err := s.db.ExecContext(ctx, `
		update credentials set revoked = true, revoked_at = $2, revoked_by = $3
		where id = $1 and not revoked
	`, id, at, nullIfEmpty(by))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Revoking twice is a no-op, but revoking a missing id is an error.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from credentials where id = $1)
	`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return credential.ErrNotFound
	}
	return nil
}

// Rotate revokes old and inserts repl in one transaction. Readers see
// either the old secret or the new one, never both.
func (s *credentialStore) Rotate(ctx context.Context, oldID string, repl *credential.Credential, at time.Time, by string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update credentials set revoked = true, revoked_at = $2, revoked_by = $3
		where id = $1 and not revoked
	`, oldID, at, nullIfEmpty(by))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credential.ErrNotFound
	}
	if err := insertCredential(ctx, tx, repl); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *credentialStore) RevokeByOwner(ctx context.Context, ownerID string, kind string, at time.Time, by string) error {
	_, err := s.db.ExecContext(ctx, `
		update credentials set revoked = true, revoked_at = $3, revoked_by = $4
		where owner_id = $1 and kind = $2 and not revoked
	`, ownerID, kind, at, nullIfEmpty(by))
	return err
}

func (s *credentialStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update credentials set last_used_at = $2 where id = $1
	`, id, at)
	return err
}
