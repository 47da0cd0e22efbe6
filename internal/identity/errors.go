package identity

import "errors"

var (
	ErrNotFound      = errors.New("identity: not found")
	ErrAlreadyExists = errors.New("identity: already exists")
	ErrInvalidInput  = errors.New("identity: invalid input")
	// ErrUnauthorized is deliberately opaque: login and token failures all
	// collapse into it so callers cannot enumerate accounts.
	ErrUnauthorized = errors.New("identity: unauthorized")
	ErrDisabled     = errors.New("identity: disabled")
)
