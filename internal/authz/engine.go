// Package authz is the single decision point for every access check.
// Role and scope rules live in one declarative action table instead of
// per-endpoint conditionals, and the engine default-denies anything the
// table does not explicitly allow.
package authz

import (
	"context"
	"errors"
	"time"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/subscription"
)

// Deny reasons. Scope and role reasons are safe to surface to callers;
// they reveal nothing about credential existence.
const (
	ReasonInsufficientRole     = "insufficient_role"
	ReasonNoActiveSubscription = "no_active_subscription"
	ReasonScopeNotGranted      = "scope_not_granted"
	ReasonUnknownAction        = "unknown_action"
	ReasonElevatedAccess       = "elevated_access"
)

// Resource identifies what an action targets.
type Resource struct {
	Type           string
	ID             string
	OrganizationID string
	APIVersionID   string
	// RequiredScope is the scope an api.invoke action demands; empty means
	// the endpoint declares none.
	RequiredScope string
}

// Decision is the engine's verdict.
type Decision struct {
	Allowed    bool
	Reason     string
	ScopesUsed []string
	// Elevated marks platform_admin bypass for the audit trail.
	Elevated bool
}

// SubscriptionReader is the engine's live read path into the registry.
// Reading live state (not token claims) is what makes revocations visible
// to the very next check.
type SubscriptionReader interface {
	ActiveApproved(ctx context.Context, appClientID, versionID string) (*subscription.Subscription, error)
}

// actionClass partitions actions by the rule that governs them.
type actionClass int

const (
	classUnknown actionClass = iota
	classPlatform
	classOrgManage
	classInvoke
)

// Actions understood by the engine. Adding an action means adding a row
// here; nothing else grants access.
const (
	ActionOrgManage          = "org.manage"
	ActionOrgMembersManage   = "org.members.manage"
	ActionCatalogManage      = "catalog.manage"
	ActionSubscriptionDecide = "subscription.decide"
	ActionPlatformManage     = "platform.manage"
	ActionAPIInvoke          = "api.invoke"
)

var actionTable = map[string]actionClass{
	ActionOrgManage:          classOrgManage,
	ActionOrgMembersManage:   classOrgManage,
	ActionCatalogManage:      classOrgManage,
	ActionSubscriptionDecide: classOrgManage,
	ActionPlatformManage:     classPlatform,
	ActionAPIInvoke:          classInvoke,
}

// Engine evaluates access decisions. Every call, allow or deny, produces
// exactly one audit record before returning.
type Engine struct {
	subs     SubscriptionReader
	recorder *audit.Recorder
	now      func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(subs SubscriptionReader, recorder *audit.Recorder) (*Engine, error) {
	if subs == nil {
		return nil, errors.New("authz: subscription reader is required")
	}
	if recorder == nil {
		return nil, errors.New("authz: audit recorder is required")
	}
	return &Engine{subs: subs, recorder: recorder, now: time.Now}, nil
}

// Authorize decides whether principal p may perform action on res.
// Infrastructure faults return an error and are never converted into a
// deny: conflating "repository down" with "access denied" would make
// outages indistinguishable from revocations.
func (e *Engine) Authorize(ctx context.Context, p identity.Principal, action string, res Resource) (Decision, error) {
	d, infraErr := e.evaluate(ctx, p, action, res)
	if err := e.record(ctx, p, action, res, d, infraErr); err != nil {
		return Decision{}, err
	}
	if infraErr != nil {
		return Decision{}, infraErr
	}
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	obs.ObserveAuthzDecision(outcome, d.Reason)
	return d, nil
}

func (e *Engine) evaluate(ctx context.Context, p identity.Principal, action string, res Resource) (Decision, error) {
	class, known := actionTable[action]
	if !known {
		// Default-deny: an action the table does not name is never an
		// implicit allow.
		return Decision{Reason: ReasonUnknownAction}, nil
	}

	if p.IsPlatformAdmin() {
		return Decision{Allowed: true, Reason: ReasonElevatedAccess, Elevated: true}, nil
	}

	switch class {
	case classPlatform:
		return Decision{Reason: ReasonInsufficientRole}, nil

	case classOrgManage:
		if p.IsOrgAdminOf(res.OrganizationID) {
			return Decision{Allowed: true}, nil
		}
		return Decision{Reason: ReasonInsufficientRole}, nil

	case classInvoke:
		clientID := p.AppClientID
		if clientID == "" && p.Kind == identity.KindAppClient {
			clientID = p.ID
		}
		if clientID == "" {
			return Decision{Reason: ReasonNoActiveSubscription}, nil
		}
		sub, err := e.subs.ActiveApproved(ctx, clientID, res.APIVersionID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				return Decision{Reason: ReasonNoActiveSubscription}, nil
			}
			return Decision{}, err
		}
		if res.RequiredScope == "" {
			return Decision{Allowed: true}, nil
		}
		if !contains(sub.GrantedScopes, res.RequiredScope) {
			return Decision{Reason: ReasonScopeNotGranted}, nil
		}
		// A token narrowed at issuance must not regain scopes the caller
		// chose to leave behind.
		if len(p.Scopes) > 0 && !p.HasScope(res.RequiredScope) {
			return Decision{Reason: ReasonScopeNotGranted}, nil
		}
		return Decision{Allowed: true, ScopesUsed: []string{res.RequiredScope}}, nil
	}

	return Decision{Reason: ReasonUnknownAction}, nil
}

func (e *Engine) record(ctx context.Context, p identity.Principal, action string, res Resource, d Decision, infraErr error) error {
	rec := audit.Record{
		ActorID:      p.ID,
		ActorType:    actorType(p),
		Action:       action,
		ResourceType: res.Type,
		ResourceID:   res.ID,
	}
	switch {
	case infraErr != nil:
		rec.Decision = "error"
		rec.Reason = "repository_unavailable"
	case d.Allowed:
		rec.Decision = audit.DecisionAllowed
		if d.Elevated {
			rec.Reason = ReasonElevatedAccess
		}
	default:
		rec.Decision = audit.DecisionDenied
		rec.Reason = d.Reason
	}
	if res.APIVersionID != "" {
		rec.Details = map[string]any{"api_version_id": res.APIVersionID}
		if res.RequiredScope != "" {
			rec.Details["required_scope"] = res.RequiredScope
		}
	}
	return e.recorder.Record(ctx, rec)
}

func actorType(p identity.Principal) string {
	switch p.Kind {
	case identity.KindUser:
		return audit.ActorUser
	case identity.KindAppClient:
		return audit.ActorAppClient
	}
	return audit.ActorAnonymous
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
