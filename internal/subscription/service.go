package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/catalog"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/ids"
)

const defaultRateLimitPerMinute = 100

// BudgetSetter lets the registry push approved budgets into the rate
// limiter and clear them on revocation.
type BudgetSetter interface {
	SetBudget(key string, perMinute int)
	Reset(key string)
}

// Service implements the subscription state machine on top of a Store.
type Service struct {
	store            Store
	catalog          *catalog.Service
	limits           BudgetSetter
	recorder         *audit.Recorder
	now              func() time.Time
	defaultRateLimit int
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

// WithDefaultRateLimit overrides the platform default budget applied when
// an approval omits one.
func WithDefaultRateLimit(perMinute int) ServiceOption {
	return func(s *Service) {
		if perMinute > 0 {
			s.defaultRateLimit = perMinute
		}
	}
}

// NewService constructs a Service. limits may be nil when no in-process
// limiter is wired (budgets are still persisted).
func NewService(store Store, cat *catalog.Service, limits BudgetSetter, recorder *audit.Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("subscription: store is required")
	}
	if cat == nil {
		return nil, errors.New("subscription: catalog is required")
	}
	if recorder == nil {
		return nil, errors.New("subscription: audit recorder is required")
	}
	s := &Service{
		store:            store,
		catalog:          cat,
		limits:           limits,
		recorder:         recorder,
		now:              time.Now,
		defaultRateLimit: defaultRateLimitPerMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Request creates a Pending subscription for the app client on a Published
// version. Requested scopes must be declared by the owning product.
func (s *Service) Request(ctx context.Context, actor identity.Principal, appClientID, versionID string, requestedScopes []string, justification string) (*Subscription, error) {
	appClientID = strings.TrimSpace(appClientID)
	versionID = strings.TrimSpace(versionID)
	if appClientID == "" || versionID == "" {
		return nil, fmt.Errorf("%w: app_client_id and api_version_id are required", ErrInvalidInput)
	}

	version, err := s.catalog.GetVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%w: api version %s", ErrNotFound, versionID)
		}
		return nil, err
	}
	if !catalog.Subscribable(version.Status) {
		return nil, fmt.Errorf("%w: version is %s", ErrNotPublished, version.Status)
	}

	if existing, err := s.store.FindActive(ctx, appClientID, versionID); err == nil && existing != nil {
		return nil, ErrDuplicateRequest
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	declared, err := s.declaredSet(ctx, versionID)
	if err != nil {
		return nil, err
	}
	requested := dedupe(requestedScopes)
	for _, scope := range requested {
		if _, ok := declared[scope]; !ok {
			return nil, fmt.Errorf("%w: %q is not declared by the version", ErrScopeOutOfBounds, scope)
		}
	}

	now := s.now().UTC()
	sub := &Subscription{
		ID:              ids.New(),
		AppClientID:     appClientID,
		APIVersionID:    versionID,
		Status:          StatusPending,
		RequestedScopes: requested,
		GrantedScopes:   nil,
		Justification:   strings.TrimSpace(justification),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.auditTransition(ctx, actor, "subscription.request", sub, ""); err != nil {
		return nil, err
	}
	return sub, nil
}

// Approve transitions Pending -> Approved, recording decider and granted
// scopes. Granted scopes must be a subset of the version's declared
// scopes; an omitted budget falls back to the platform default so an
// Approved subscription always carries a non-empty budget.
func (s *Service) Approve(ctx context.Context, decider identity.Principal, subscriptionID string, grantedScopes []string, ratePerMinute int) (*Subscription, error) {
	sub, err := s.store.Find(ctx, strings.TrimSpace(subscriptionID))
	if err != nil {
		return nil, err
	}
	if err := s.requireDecider(ctx, decider, sub); err != nil {
		return nil, err
	}
	if !canTransition(sub.Status, StatusApproved) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, StatusApproved)
	}

	declared, err := s.declaredSet(ctx, sub.APIVersionID)
	if err != nil {
		return nil, err
	}
	granted := dedupe(grantedScopes)
	for _, scope := range granted {
		if _, ok := declared[scope]; !ok {
			return nil, fmt.Errorf("%w: %q is not declared by the version", ErrScopeOutOfBounds, scope)
		}
	}
	if ratePerMinute <= 0 {
		ratePerMinute = s.defaultRateLimit
	}

	now := s.now().UTC()
	prev := sub.Status
	sub.Status = StatusApproved
	sub.GrantedScopes = granted
	sub.RateLimitPerMinute = ratePerMinute
	sub.DecidedBy = decider.ID
	sub.DecidedAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub, prev); err != nil {
		return nil, err
	}
	if s.limits != nil {
		s.limits.SetBudget(sub.ID, ratePerMinute)
	}
	if err := s.auditTransition(ctx, decider, "subscription.approve", sub, ""); err != nil {
		return nil, err
	}
	return sub, nil
}

// Deny transitions Pending -> Denied. The reason is mandatory and lands on
// both the record and the audit trail.
func (s *Service) Deny(ctx context.Context, decider identity.Principal, subscriptionID, reason string) (*Subscription, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: denial reason is required", ErrInvalidInput)
	}
	sub, err := s.store.Find(ctx, strings.TrimSpace(subscriptionID))
	if err != nil {
		return nil, err
	}
	if err := s.requireDecider(ctx, decider, sub); err != nil {
		return nil, err
	}
	if !canTransition(sub.Status, StatusDenied) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, StatusDenied)
	}

	now := s.now().UTC()
	prev := sub.Status
	sub.Status = StatusDenied
	sub.DenialReason = reason
	sub.DecidedBy = decider.ID
	sub.DecidedAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub, prev); err != nil {
		return nil, err
	}
	if err := s.auditTransition(ctx, decider, "subscription.deny", sub, reason); err != nil {
		return nil, err
	}
	return sub, nil
}

// Revoke transitions Approved -> Revoked. Revoking an already Revoked
// subscription is a no-op so retries stay cheap; the transition is visible
// to the authorization read path before the call returns.
func (s *Service) Revoke(ctx context.Context, decider identity.Principal, subscriptionID string) (*Subscription, error) {
	sub, err := s.store.Find(ctx, strings.TrimSpace(subscriptionID))
	if err != nil {
		return nil, err
	}
	if err := s.requireDecider(ctx, decider, sub); err != nil {
		return nil, err
	}
	if sub.Status == StatusRevoked {
		return sub, nil
	}
	if !canTransition(sub.Status, StatusRevoked) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, StatusRevoked)
	}

	now := s.now().UTC()
	prev := sub.Status
	sub.Status = StatusRevoked
	sub.DecidedBy = decider.ID
	sub.DecidedAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub, prev); err != nil {
		return nil, err
	}
	if s.limits != nil {
		s.limits.Reset(sub.ID)
	}
	if err := s.auditTransition(ctx, decider, "subscription.revoke", sub, ""); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get returns one subscription by id.
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.store.Find(ctx, strings.TrimSpace(id))
}

// ListByClient returns the subscriptions held by an app client.
func (s *Service) ListByClient(ctx context.Context, appClientID string) ([]*Subscription, error) {
	return s.store.ListByClient(ctx, strings.TrimSpace(appClientID))
}

// ListByVersion returns the subscriptions targeting a version.
func (s *Service) ListByVersion(ctx context.Context, versionID string) ([]*Subscription, error) {
	return s.store.ListByVersion(ctx, strings.TrimSpace(versionID))
}

// GrantedScopes returns the distinct scopes granted to the client across
// its Approved subscriptions. Used by the client-credentials token flow.
func (s *Service) GrantedScopes(ctx context.Context, appClientID string) ([]string, error) {
	return s.store.GrantedScopes(ctx, strings.TrimSpace(appClientID))
}

// ActiveApproved returns the Approved subscription for the pair, or
// ErrNotFound. This is the authorization engine's read path: it reflects
// revocations immediately.
func (s *Service) ActiveApproved(ctx context.Context, appClientID, versionID string) (*Subscription, error) {
	sub, err := s.store.FindActive(ctx, strings.TrimSpace(appClientID), strings.TrimSpace(versionID))
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusApproved {
		return nil, ErrNotFound
	}
	return sub, nil
}

// requireDecider enforces that transitions are decided by platform_admin
// or an org_admin of the organization owning the target API.
func (s *Service) requireDecider(ctx context.Context, decider identity.Principal, sub *Subscription) error {
	if decider.IsPlatformAdmin() {
		return nil
	}
	version, err := s.catalog.GetVersion(ctx, sub.APIVersionID)
	if err != nil {
		return err
	}
	product, err := s.catalog.GetProduct(ctx, version.ProductID)
	if err != nil {
		return err
	}
	if decider.IsOrgAdminOf(product.OrganizationID) {
		return nil
	}
	return ErrForbidden
}

func (s *Service) declaredSet(ctx context.Context, versionID string) (map[string]struct{}, error) {
	declared, err := s.catalog.DeclaredScopes(ctx, versionID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(declared))
	for _, name := range declared {
		set[name] = struct{}{}
	}
	return set, nil
}

func (s *Service) auditTransition(ctx context.Context, actor identity.Principal, action string, sub *Subscription, reason string) error {
	actorType := audit.ActorUser
	if actor.Kind == identity.KindAppClient {
		actorType = audit.ActorAppClient
	}
	return s.recorder.Record(ctx, audit.Record{
		ActorID:      actor.ID,
		ActorType:    actorType,
		Action:       action,
		ResourceType: "subscription",
		ResourceID:   sub.ID,
		Decision:     audit.DecisionAllowed,
		Reason:       reason,
		Details: map[string]any{
			"status":         sub.Status,
			"api_version_id": sub.APIVersionID,
			"app_client_id":  sub.AppClientID,
		},
	})
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
