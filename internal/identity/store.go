package identity

import "context"

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Organizations(ctx context.Context) OrganizationStore
	Users(ctx context.Context) UserStore
	AppClients(ctx context.Context) AppClientStore
}

// OrganizationStore manages organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// UserStore manages users. Email uniqueness is enforced by the store.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByOrg(ctx context.Context, orgID string) ([]*User, error)
	SetActive(ctx context.Context, id string, active bool) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// AppClientStore manages app clients. (org_id, name) and client_id
// uniqueness are enforced by the store.
type AppClientStore interface {
	Create(ctx context.Context, c *AppClient) error
	Find(ctx context.Context, id string) (*AppClient, error)
	FindByClientID(ctx context.Context, clientID string) (*AppClient, error)
	ListByOrg(ctx context.Context, orgID string) ([]*AppClient, error)
	SetActive(ctx context.Context, id string, active bool) error
}
