// Package identity holds principals (human users and machine app clients),
// their organizations, and the token service that authenticates them.
package identity

import (
	"slices"
	"time"
)

// Roles are a static enumeration; they are not runtime-mutable.
const (
	RolePlatformAdmin = "platform_admin"
	RoleOrgAdmin      = "org_admin"
	RoleDeveloper     = "developer"
)

// Principal kinds.
const (
	KindUser      = "user"
	KindAppClient = "app_client"
)

// Organization is the isolation boundary owning identities and API products.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is a human principal. Users are never hard-deleted; Active=false
// soft-disables them so audit references stay resolvable.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	PasswordHash   string    `json:"-"`
	Role           string    `json:"role"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AppClient is a machine principal owned by an organization. ClientID is
// the public OAuth identifier; its secret lives in the credential store.
type AppClient struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	ClientID       string    `json:"client_id"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Principal is a resolved caller identity handed to the authorization
// engine. Scopes are only populated for app-client principals whose token
// was narrowed at issuance.
type Principal struct {
	ID             string
	Kind           string
	OrganizationID string
	Role           string
	AppClientID    string
	Scopes         []string
}

// IsPlatformAdmin reports whether the principal holds the global role.
func (p Principal) IsPlatformAdmin() bool {
	return p.Kind == KindUser && p.Role == RolePlatformAdmin
}

// IsOrgAdminOf reports whether the principal administers orgID.
func (p Principal) IsOrgAdminOf(orgID string) bool {
	if orgID == "" {
		return false
	}
	return p.Kind == KindUser && p.Role == RoleOrgAdmin && p.OrganizationID == orgID
}

// HasScope reports whether the principal's token carries the scope.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// ValidRole reports whether role is one of the static enumeration.
func ValidRole(role string) bool {
	switch role {
	case RolePlatformAdmin, RoleOrgAdmin, RoleDeveloper:
		return true
	}
	return false
}
