package memory

import (
	"context"
	"strings"

	"gatekeep.org/internal/identity"
)

func (s *Store) Organizations(ctx context.Context) identity.OrganizationStore {
	return &orgStore{s}
}

func (s *Store) Users(ctx context.Context) identity.UserStore {
	return &userStore{s}
}

func (s *Store) AppClients(ctx context.Context) identity.AppClientStore {
	return &appClientStore{s}
}

type orgStore struct{ s *Store }

func (o *orgStore) Create(ctx context.Context, org *identity.Organization) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.orgs[org.ID]; ok {
		return identity.ErrAlreadyExists
	}
	for _, existing := range o.s.orgs {
		if strings.EqualFold(existing.Name, org.Name) {
			return identity.ErrAlreadyExists
		}
	}
	o.s.orgs[org.ID] = *org
	return nil
}

func (o *orgStore) Find(ctx context.Context, id string) (*identity.Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	org, ok := o.s.orgs[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &org, nil
}

func (o *orgStore) List(ctx context.Context) ([]*identity.Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	out := make([]*identity.Organization, 0, len(o.s.orgs))
	for _, org := range o.s.orgs {
		org := org
		out = append(out, &org)
	}
	sortStable(out,
		func(v *identity.Organization) int64 { return v.CreatedAt.UnixNano() },
		func(v *identity.Organization) string { return v.ID })
	return out, nil
}

func (o *orgStore) SetActive(ctx context.Context, id string, active bool) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	org, ok := o.s.orgs[id]
	if !ok {
		return identity.ErrNotFound
	}
	org.Active = active
	o.s.orgs[id] = org
	return nil
}

type userStore struct{ s *Store }

func (u *userStore) Create(ctx context.Context, usr *identity.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[usr.ID]; ok {
		return identity.ErrAlreadyExists
	}
	for _, existing := range u.s.users {
		if strings.EqualFold(existing.Email, usr.Email) {
			return identity.ErrAlreadyExists
		}
	}
	u.s.users[usr.ID] = *usr
	return nil
}

func (u *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	usr, ok := u.s.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &usr, nil
}

func (u *userStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, usr := range u.s.users {
		if strings.EqualFold(usr.Email, email) {
			usr := usr
			return &usr, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (u *userStore) ListByOrg(ctx context.Context, orgID string) ([]*identity.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	var out []*identity.User
	for _, usr := range u.s.users {
		if usr.OrganizationID == orgID {
			usr := usr
			out = append(out, &usr)
		}
	}
	sortStable(out,
		func(v *identity.User) int64 { return v.CreatedAt.UnixNano() },
		func(v *identity.User) string { return v.ID })
	return out, nil
}

func (u *userStore) SetActive(ctx context.Context, id string, active bool) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	usr, ok := u.s.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	usr.Active = active
	u.s.users[id] = usr
	return nil
}

func (u *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	usr, ok := u.s.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	usr.PasswordHash = passwordHash
	u.s.users[id] = usr
	return nil
}

type appClientStore struct{ s *Store }

func (a *appClientStore) Create(ctx context.Context, c *identity.AppClient) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.appClients[c.ID]; ok {
		return identity.ErrAlreadyExists
	}
	for _, existing := range a.s.appClients {
		if existing.ClientID == c.ClientID {
			return identity.ErrAlreadyExists
		}
		if existing.OrganizationID == c.OrganizationID && strings.EqualFold(existing.Name, c.Name) {
			return identity.ErrAlreadyExists
		}
	}
	a.s.appClients[c.ID] = *c
	return nil
}

func (a *appClientStore) Find(ctx context.Context, id string) (*identity.AppClient, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	c, ok := a.s.appClients[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return &c, nil
}

func (a *appClientStore) FindByClientID(ctx context.Context, clientID string) (*identity.AppClient, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	for _, c := range a.s.appClients {
		if c.ClientID == clientID {
			c := c
			return &c, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (a *appClientStore) ListByOrg(ctx context.Context, orgID string) ([]*identity.AppClient, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []*identity.AppClient
	for _, c := range a.s.appClients {
		if c.OrganizationID == orgID {
			c := c
			out = append(out, &c)
		}
	}
	sortStable(out,
		func(v *identity.AppClient) int64 { return v.CreatedAt.UnixNano() },
		func(v *identity.AppClient) string { return v.ID })
	return out, nil
}

func (a *appClientStore) SetActive(ctx context.Context, id string, active bool) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	c, ok := a.s.appClients[id]
	if !ok {
		return identity.ErrNotFound
	}
	c.Active = active
	a.s.appClients[id] = c
	return nil
}
