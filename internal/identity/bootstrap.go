package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"gatekeep.org/internal/ids"
)

// Bootstrap ensures a platform admin exists for the given email, creating
// one when absent. RegisterUser needs an admin actor, so a fresh deployment
// has to mint its first admin out of band; cmd/migrate calls this with
// operator-supplied credentials. The call is idempotent: an existing
// platform admin with the same email is returned unchanged.
func Bootstrap(ctx context.Context, store Store, email, name, password string) (*User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, false, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	users := store.Users(ctx)
	existing, err := users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != RolePlatformAdmin {
			return nil, false, fmt.Errorf("%w: %s is not a platform admin", ErrAlreadyExists, email)
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := time.Now().UTC()
	u := &User{
		ID:           ids.New(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         RolePlatformAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}
