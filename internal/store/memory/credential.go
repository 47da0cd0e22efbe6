package memory

import (
	"context"
	"time"

	"gatekeep.org/internal/credential"
)

type credentialStore struct{ s *Store }

func (c *credentialStore) Create(ctx context.Context, cred *credential.Credential) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.create(cred)
}

// create assumes the caller holds the write lock.
func (c *credentialStore) create(cred *credential.Credential) error {
	if _, ok := c.s.creds[cred.ID]; ok {
		return credential.ErrInvalidInput
	}
	for _, existing := range c.s.creds {
		if existing.Kind == cred.Kind && existing.Hash == cred.Hash {
			return credential.ErrInvalidInput
		}
	}
	c.s.creds[cred.ID] = *cred
	return nil
}

func (c *credentialStore) Find(ctx context.Context, id string) (*credential.Credential, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	cred, ok := c.s.creds[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return &cred, nil
}

func (c *credentialStore) FindByHash(ctx context.Context, kind, hash string) (*credential.Credential, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, cred := range c.s.creds {
		if cred.Kind == kind && cred.Hash == hash {
			cred := cred
			return &cred, nil
		}
	}
	return nil, credential.ErrNotFound
}

func (c *credentialStore) ListByOwner(ctx context.Context, ownerID string) ([]*credential.Credential, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []*credential.Credential
	for _, cred := range c.s.creds {
		if cred.OwnerID == ownerID {
			cred := cred
			out = append(out, &cred)
		}
	}
	sortStable(out,
		func(v *credential.Credential) int64 { return v.CreatedAt.UnixNano() },
		func(v *credential.Credential) string { return v.ID })
	return out, nil
}

func (c *credentialStore) Revoke(ctx context.Context, id string, at time.Time, by string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.revoke(id, at, by)
}

// revoke assumes the caller holds the write lock.
func (c *credentialStore) revoke(id string, at time.Time, by string) error {
	cred, ok := c.s.creds[id]
	if !ok {
		return credential.ErrNotFound
	}
	if cred.Revoked {
		return nil
	}
	cred.Revoked = true
	cred.RevokedAt = &at
	cred.RevokedBy = by
	c.s.creds[id] = cred
	return nil
}

// Rotate revokes old and inserts repl under one lock acquisition, so no
// reader ever observes both secrets valid or neither.
func (c *credentialStore) Rotate(ctx context.Context, oldID string, repl *credential.Credential, at time.Time, by string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.revoke(oldID, at, by); err != nil {
		return err
	}
	return c.create(repl)
}

func (c *credentialStore) RevokeByOwner(ctx context.Context, ownerID string, kind string, at time.Time, by string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for id, cred := range c.s.creds {
		if cred.OwnerID != ownerID || cred.Kind != kind || cred.Revoked {
			continue
		}
		cred.Revoked = true
		cred.RevokedAt = &at
		cred.RevokedBy = by
		c.s.creds[id] = cred
	}
	return nil
}

func (c *credentialStore) Touch(ctx context.Context, id string, at time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cred, ok := c.s.creds[id]
	if !ok {
		return credential.ErrNotFound
	}
	cred.LastUsedAt = &at
	c.s.creds[id] = cred
	return nil
}
