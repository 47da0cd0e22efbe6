package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/ids"
)

// Service implements identity lifecycle and authentication flows.
type Service struct {
	store    Store
	creds    *credential.Service
	tokens   *TokenService
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service over its collaborators.
func NewService(store Store, creds *credential.Service, tokens *TokenService, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	if creds == nil {
		return nil, errors.New("identity: credential service is required")
	}
	if tokens == nil {
		return nil, errors.New("identity: token service is required")
	}
	if recorder == nil {
		return nil, errors.New("identity: audit recorder is required")
	}
	s := &Service{
		store:    store,
		creds:    creds,
		tokens:   tokens,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// CreateOrganization registers a new organization.
func (s *Service) CreateOrganization(ctx context.Context, actor Principal, name, description string) (*Organization, error) {
	if !actor.IsPlatformAdmin() {
		return nil, ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	org := &Organization{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Organizations(ctx).Create(ctx, org); err != nil {
		return nil, err
	}
	if err := s.auditChange(ctx, actor, "organization.create", "organization", org.ID, nil); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization returns the organization by id.
func (s *Service) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return s.store.Organizations(ctx).Find(ctx, strings.TrimSpace(id))
}

// ListOrganizations returns all organizations.
func (s *Service) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	return s.store.Organizations(ctx).List(ctx)
}

// RegisterParams describes a user to create.
type RegisterParams struct {
	Email          string
	Name           string
	Password       string
	Role           string
	OrganizationID string
}

// RegisterUser creates a user. Platform admins are org-less; every other
// role must belong to an existing organization.
func (s *Service) RegisterUser(ctx context.Context, actor Principal, p RegisterParams) (*User, error) {
	if !s.canManageMembers(actor, p.OrganizationID) {
		return nil, ErrUnauthorized
	}
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if !ValidRole(p.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, p.Role)
	}
	if p.Role == RolePlatformAdmin {
		if p.OrganizationID != "" {
			return nil, fmt.Errorf("%w: platform admins are not organization members", ErrInvalidInput)
		}
		if !actor.IsPlatformAdmin() {
			return nil, ErrUnauthorized
		}
	} else {
		if strings.TrimSpace(p.OrganizationID) == "" {
			return nil, fmt.Errorf("%w: organization is required for role %q", ErrInvalidInput, p.Role)
		}
		if _, err := s.store.Organizations(ctx).Find(ctx, p.OrganizationID); err != nil {
			return nil, err
		}
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := s.now().UTC()
	u := &User{
		ID:             ids.New(),
		Email:          email,
		Name:           strings.TrimSpace(p.Name),
		PasswordHash:   hash,
		Role:           p.Role,
		OrganizationID: strings.TrimSpace(p.OrganizationID),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Users(ctx).Create(ctx, u); err != nil {
		return nil, err
	}
	if err := s.auditChange(ctx, actor, "user.create", "user", u.ID, map[string]any{"role": u.Role}); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns an organization's members.
func (s *Service) ListUsers(ctx context.Context, orgID string) ([]*User, error) {
	return s.store.Users(ctx).ListByOrg(ctx, strings.TrimSpace(orgID))
}

// Login authenticates by email and password and mints a token pair. All
// failure modes collapse into ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, *User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, s.loginDenied(ctx, email, "unknown_email")
		}
		return nil, nil, err
	}
	if !u.Active {
		return nil, nil, s.loginDenied(ctx, email, "disabled")
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, nil, s.loginDenied(ctx, email, "bad_password")
	}
	pair, err := s.mintPair(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	if err := s.recorder.Record(ctx, audit.Record{
		ActorID:      u.ID,
		ActorType:    audit.ActorUser,
		Action:       "auth.login",
		ResourceType: "user",
		ResourceID:   u.ID,
		Decision:     audit.DecisionAllowed,
	}); err != nil {
		return nil, nil, err
	}
	return pair, u, nil
}

// Refresh exchanges a refresh token for a fresh pair. The presented token
// is rotated; it never validates twice.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	owner, cred, err := s.creds.Verify(ctx, credential.KindRefreshToken, refreshToken)
	if err != nil {
		if errors.Is(err, credential.ErrAuthFailure) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if owner.Kind != KindUser {
		return nil, ErrUnauthorized
	}
	u, err := s.store.Users(ctx).Find(ctx, owner.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrUnauthorized
	}
	repl, plaintext, err := s.creds.Rotate(ctx, cred.ID, u.ID)
	if err != nil {
		return nil, err
	}
	access, exp, err := s.tokens.SignUserToken(*u)
	if err != nil {
		return nil, err
	}
	pair := &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    plaintext,
	}
	if repl.ExpiresAt != nil {
		pair.RefreshExpiresAt = *repl.ExpiresAt
	}
	return pair, nil
}

// Logout revokes every refresh token held by the user.
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.creds.RevokeAllForOwner(ctx, userID, credential.KindRefreshToken, userID)
}

// DisableUser soft-disables the user and revokes their refresh tokens.
// Existing access tokens lapse at expiry; everything re-checked live
// (refresh, credential verification) fails immediately.
func (s *Service) DisableUser(ctx context.Context, actor Principal, userID string) error {
	u, err := s.store.Users(ctx).Find(ctx, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	if !s.canManageMembers(actor, u.OrganizationID) {
		return ErrUnauthorized
	}
	if err := s.store.Users(ctx).SetActive(ctx, u.ID, false); err != nil {
		return err
	}
	if err := s.creds.RevokeAllForOwner(ctx, u.ID, credential.KindRefreshToken, actor.ID); err != nil {
		return err
	}
	return s.auditChange(ctx, actor, "user.disable", "user", u.ID, nil)
}

// CreateAppClient registers a machine client under an organization and
// issues its initial secret. The secret is returned exactly once.
func (s *Service) CreateAppClient(ctx context.Context, actor Principal, orgID, name, description string) (*AppClient, string, error) {
	orgID = strings.TrimSpace(orgID)
	if !s.canManageMembers(actor, orgID) {
		return nil, "", ErrUnauthorized
	}
	if strings.TrimSpace(name) == "" {
		return nil, "", fmt.Errorf("%w: app client name is required", ErrInvalidInput)
	}
	org, err := s.store.Organizations(ctx).Find(ctx, orgID)
	if err != nil {
		return nil, "", err
	}
	if !org.Active {
		return nil, "", ErrDisabled
	}
	now := s.now().UTC()
	c := &AppClient{
		ID:             ids.New(),
		OrganizationID: org.ID,
		Name:           strings.TrimSpace(name),
		Description:    strings.TrimSpace(description),
		ClientID:       uuid.NewString(),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.AppClients(ctx).Create(ctx, c); err != nil {
		return nil, "", err
	}
	_, secret, err := s.creds.Issue(ctx, credential.IssueParams{
		Kind:    credential.KindClientSecret,
		OwnerID: c.ID,
		Name:    c.Name,
		Actor:   actor.ID,
	})
	if err != nil {
		return nil, "", err
	}
	if err := s.auditChange(ctx, actor, "app_client.create", "app_client", c.ID, map[string]any{"client_id": c.ClientID}); err != nil {
		return nil, "", err
	}
	return c, secret, nil
}

// RotateClientSecret replaces the client's active secret. The old secret
// stops validating the moment the call returns.
func (s *Service) RotateClientSecret(ctx context.Context, actor Principal, appClientID string) (string, error) {
	c, err := s.store.AppClients(ctx).Find(ctx, strings.TrimSpace(appClientID))
	if err != nil {
		return "", err
	}
	if !s.canManageMembers(actor, c.OrganizationID) {
		return "", ErrUnauthorized
	}
	active, err := s.activeSecret(ctx, c.ID)
	if err != nil {
		return "", err
	}
	_, plaintext, err := s.creds.Rotate(ctx, active.ID, actor.ID)
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// DisableAppClient soft-disables the client and revokes its secrets and
// API keys.
func (s *Service) DisableAppClient(ctx context.Context, actor Principal, appClientID string) error {
	c, err := s.store.AppClients(ctx).Find(ctx, strings.TrimSpace(appClientID))
	if err != nil {
		return err
	}
	if !s.canManageMembers(actor, c.OrganizationID) {
		return ErrUnauthorized
	}
	if err := s.store.AppClients(ctx).SetActive(ctx, c.ID, false); err != nil {
		return err
	}
	for _, kind := range []string{credential.KindClientSecret, credential.KindAPIKey} {
		if err := s.creds.RevokeAllForOwner(ctx, c.ID, kind, actor.ID); err != nil {
			return err
		}
	}
	return s.auditChange(ctx, actor, "app_client.disable", "app_client", c.ID, nil)
}

// GetAppClient returns the app client by id.
func (s *Service) GetAppClient(ctx context.Context, id string) (*AppClient, error) {
	return s.store.AppClients(ctx).Find(ctx, strings.TrimSpace(id))
}

// ListAppClients returns an organization's app clients.
func (s *Service) ListAppClients(ctx context.Context, orgID string) ([]*AppClient, error) {
	return s.store.AppClients(ctx).ListByOrg(ctx, strings.TrimSpace(orgID))
}

// AuthenticateClient validates an OAuth client_id/client_secret pair and
// returns the app client. Failures are opaque.
func (s *Service) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*AppClient, error) {
	c, err := s.store.AppClients(ctx).FindByClientID(ctx, strings.TrimSpace(clientID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	owner, _, err := s.creds.Verify(ctx, credential.KindClientSecret, clientSecret)
	if err != nil {
		if errors.Is(err, credential.ErrAuthFailure) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	// The secret must belong to the client named in the request.
	if owner.ID != c.ID || !c.Active {
		return nil, ErrUnauthorized
	}
	return c, nil
}

// SignClientToken mints a client-credentials token through the underlying
// token service.
func (s *Service) SignClientToken(appClientID string, scopes []string) (string, time.Time, error) {
	return s.tokens.SignClientToken(appClientID, scopes)
}

// AuthenticateToken verifies a bearer JWT and resolves the live principal.
// Disabled principals are rejected even while their token is unexpired.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	switch claims.TokenType {
	case TokenTypeAccess:
		u, err := s.store.Users(ctx).Find(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Principal{}, ErrUnauthorized
			}
			return Principal{}, err
		}
		if !u.Active {
			return Principal{}, ErrUnauthorized
		}
		return Principal{
			ID:             u.ID,
			Kind:           KindUser,
			OrganizationID: u.OrganizationID,
			Role:           u.Role,
		}, nil
	case TokenTypeClient:
		c, err := s.store.AppClients(ctx).Find(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Principal{}, ErrUnauthorized
			}
			return Principal{}, err
		}
		if !c.Active {
			return Principal{}, ErrUnauthorized
		}
		return Principal{
			ID:             c.ID,
			Kind:           KindAppClient,
			OrganizationID: c.OrganizationID,
			AppClientID:    c.ID,
			Scopes:         claims.Scopes,
		}, nil
	}
	return Principal{}, ErrUnauthorized
}

func (s *Service) mintPair(ctx context.Context, u *User) (*TokenPair, error) {
	access, exp, err := s.tokens.SignUserToken(*u)
	if err != nil {
		return nil, err
	}
	cred, refresh, err := s.creds.Issue(ctx, credential.IssueParams{
		Kind:    credential.KindRefreshToken,
		OwnerID: u.ID,
		Name:    "session",
		Actor:   u.ID,
	})
	if err != nil {
		return nil, err
	}
	pair := &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    refresh,
	}
	if cred.ExpiresAt != nil {
		pair.RefreshExpiresAt = *cred.ExpiresAt
	}
	return pair, nil
}

// activeSecret finds the one unrevoked client secret for an app client.
func (s *Service) activeSecret(ctx context.Context, appClientID string) (*credential.Credential, error) {
	list, err := s.creds.ListByOwner(ctx, appClientID)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		if c.Kind == credential.KindClientSecret && !c.Revoked {
			return c, nil
		}
	}
	return nil, credential.ErrNotFound
}

// canManageMembers reports whether the actor may manage identities of the
// given organization.
func (s *Service) canManageMembers(actor Principal, orgID string) bool {
	if actor.IsPlatformAdmin() {
		return true
	}
	return actor.IsOrgAdminOf(orgID)
}

func (s *Service) loginDenied(ctx context.Context, email, reason string) error {
	if err := s.recorder.Record(ctx, audit.Record{
		ActorType:    audit.ActorAnonymous,
		Action:       "auth.login",
		ResourceType: "user",
		Decision:     audit.DecisionDenied,
		Reason:       reason,
		Details:      map[string]any{"email": email},
	}); err != nil {
		return err
	}
	return ErrUnauthorized
}

func (s *Service) auditChange(ctx context.Context, actor Principal, action, resourceType, resourceID string, details map[string]any) error {
	return s.recorder.Record(ctx, audit.Record{
		ActorID:      actor.ID,
		ActorType:    audit.ActorUser,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Decision:     audit.DecisionAllowed,
		Details:      details,
	})
}
