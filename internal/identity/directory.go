package identity

import (
	"context"
	"errors"
	"strings"

	"gatekeep.org/internal/credential"
)

// Directory adapts the identity store to the credential package's owner
// lookup, so credentials can validate owners without importing identity
// internals.
type Directory struct {
	store Store
}

// NewDirectory constructs a Directory over store.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

var _ credential.OwnerDirectory = (*Directory)(nil)

// FindOwner resolves a user or app client by id.
func (d *Directory) FindOwner(ctx context.Context, id string) (credential.Owner, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return credential.Owner{}, ErrNotFound
	}
	if u, err := d.store.Users(ctx).Find(ctx, id); err == nil {
		return credential.Owner{
			ID:             u.ID,
			Kind:           KindUser,
			OrganizationID: u.OrganizationID,
			Disabled:       !u.Active,
		}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return credential.Owner{}, err
	}
	c, err := d.store.AppClients(ctx).Find(ctx, id)
	if err != nil {
		return credential.Owner{}, err
	}
	return credential.Owner{
		ID:             c.ID,
		Kind:           KindAppClient,
		OrganizationID: c.OrganizationID,
		Disabled:       !c.Active,
	}, nil
}
