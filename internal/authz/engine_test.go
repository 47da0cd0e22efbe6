package authz_test

import (
	"context"
	"errors"
	"testing"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/authz"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/store/memory"
	"gatekeep.org/internal/subscription"
)

// subMap is a canned SubscriptionReader keyed by client/version pair.
type subMap struct {
	subs map[string]*subscription.Subscription
	err  error
}

func (m *subMap) ActiveApproved(_ context.Context, appClientID, versionID string) (*subscription.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	sub, ok := m.subs[appClientID+"/"+versionID]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return sub, nil
}

func newEngine(t *testing.T, subs *subMap) (*authz.Engine, *memory.AuditSink) {
	t.Helper()
	sink := memory.NewAuditSink()
	engine, err := authz.NewEngine(subs, audit.NewRecorder(sink))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, sink
}

var (
	admin    = identity.Principal{ID: "admin-1", Kind: identity.KindUser, Role: identity.RolePlatformAdmin}
	orgAdmin = identity.Principal{ID: "oa-1", Kind: identity.KindUser, Role: identity.RoleOrgAdmin, OrganizationID: "org-1"}
	dev      = identity.Principal{ID: "dev-1", Kind: identity.KindUser, Role: identity.RoleDeveloper, OrganizationID: "org-1"}
	client   = identity.Principal{ID: "client-1", Kind: identity.KindAppClient, OrganizationID: "org-1"}
)

func TestUnknownActionDefaultDenies(t *testing.T) {
	engine, _ := newEngine(t, &subMap{})

	d, err := engine.Authorize(context.Background(), admin, "billing.export", authz.Resource{})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if d.Allowed {
		t.Fatalf("unknown actions must be denied, even for platform admins")
	}
	if d.Reason != authz.ReasonUnknownAction {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestPlatformAdminBypass(t *testing.T) {
	engine, _ := newEngine(t, &subMap{})
	ctx := context.Background()

	for _, action := range []string{authz.ActionOrgManage, authz.ActionCatalogManage, authz.ActionPlatformManage, authz.ActionSubscriptionDecide} {
		d, err := engine.Authorize(ctx, admin, action, authz.Resource{OrganizationID: "any-org"})
		if err != nil {
			t.Fatalf("Authorize %s: %v", action, err)
		}
		if !d.Allowed || !d.Elevated {
			t.Fatalf("%s: platform admin should be allowed with the elevated marker, got %+v", action, d)
		}
	}
}

func TestOrgAdminScoping(t *testing.T) {
	engine, _ := newEngine(t, &subMap{})
	ctx := context.Background()

	d, _ := engine.Authorize(ctx, orgAdmin, authz.ActionCatalogManage, authz.Resource{OrganizationID: "org-1"})
	if !d.Allowed {
		t.Fatalf("org admin should manage own org's catalog")
	}

	d, _ = engine.Authorize(ctx, orgAdmin, authz.ActionCatalogManage, authz.Resource{OrganizationID: "org-2"})
	if d.Allowed {
		t.Fatalf("org admin must not manage another org")
	}
	if d.Reason != authz.ReasonInsufficientRole {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}

	d, _ = engine.Authorize(ctx, dev, authz.ActionCatalogManage, authz.Resource{OrganizationID: "org-1"})
	if d.Allowed {
		t.Fatalf("developers must not manage the catalog")
	}

	d, _ = engine.Authorize(ctx, orgAdmin, authz.ActionPlatformManage, authz.Resource{})
	if d.Allowed {
		t.Fatalf("org admin must not perform platform actions")
	}
}

func TestInvokeRequiresActiveSubscription(t *testing.T) {
	subs := &subMap{subs: map[string]*subscription.Subscription{
		"client-1/v1": {ID: "sub-1", Status: subscription.StatusApproved, GrantedScopes: []string{"orders.read"}},
	}}
	engine, _ := newEngine(t, subs)
	ctx := context.Background()

	d, err := engine.Authorize(ctx, client, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1", RequiredScope: "orders.read"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("subscribed client with granted scope should be allowed: %+v", d)
	}
	if len(d.ScopesUsed) != 1 || d.ScopesUsed[0] != "orders.read" {
		t.Fatalf("unexpected scopes used: %v", d.ScopesUsed)
	}

	d, _ = engine.Authorize(ctx, client, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v2", RequiredScope: "orders.read"})
	if d.Allowed || d.Reason != authz.ReasonNoActiveSubscription {
		t.Fatalf("unsubscribed version should deny with no_active_subscription, got %+v", d)
	}

	d, _ = engine.Authorize(ctx, client, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1", RequiredScope: "orders.write"})
	if d.Allowed || d.Reason != authz.ReasonScopeNotGranted {
		t.Fatalf("ungranted scope should deny with scope_not_granted, got %+v", d)
	}
}

func TestInvokeWithoutScopeRequirement(t *testing.T) {
	subs := &subMap{subs: map[string]*subscription.Subscription{
		"client-1/v1": {ID: "sub-1", Status: subscription.StatusApproved},
	}}
	engine, _ := newEngine(t, subs)

	d, _ := engine.Authorize(context.Background(), client, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1"})
	if !d.Allowed {
		t.Fatalf("endpoint without scopes needs only an active subscription, got %+v", d)
	}
}

func TestInvokeDeniesPrincipalWithoutClient(t *testing.T) {
	engine, _ := newEngine(t, &subMap{})

	d, _ := engine.Authorize(context.Background(), dev, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1"})
	if d.Allowed || d.Reason != authz.ReasonNoActiveSubscription {
		t.Fatalf("user principals without a client cannot invoke, got %+v", d)
	}
}

func TestNarrowedTokenCannotRegainScopes(t *testing.T) {
	subs := &subMap{subs: map[string]*subscription.Subscription{
		"client-1/v1": {ID: "sub-1", Status: subscription.StatusApproved, GrantedScopes: []string{"orders.read", "orders.write"}},
	}}
	engine, _ := newEngine(t, subs)
	ctx := context.Background()

	narrowed := identity.Principal{ID: "client-1", Kind: identity.KindAppClient, Scopes: []string{"orders.read"}}

	d, _ := engine.Authorize(ctx, narrowed, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1", RequiredScope: "orders.read"})
	if !d.Allowed {
		t.Fatalf("scope inside the narrowed set should be allowed, got %+v", d)
	}

	d, _ = engine.Authorize(ctx, narrowed, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1", RequiredScope: "orders.write"})
	if d.Allowed || d.Reason != authz.ReasonScopeNotGranted {
		t.Fatalf("scope left behind at issuance must stay denied, got %+v", d)
	}
}

func TestInfraErrorIsNotADeny(t *testing.T) {
	boom := errors.New("pg: connection refused")
	engine, sink := newEngine(t, &subMap{err: boom})

	_, err := engine.Authorize(context.Background(), client, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1"})
	if !errors.Is(err, boom) {
		t.Fatalf("repository faults must propagate, got %v", err)
	}

	records := sink.Records()
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
	if records[0].Decision != "error" || records[0].Reason != "repository_unavailable" {
		t.Fatalf("fault should be audited as an error, got %+v", records[0])
	}
}

func TestEveryDecisionProducesExactlyOneAuditRecord(t *testing.T) {
	subs := &subMap{subs: map[string]*subscription.Subscription{
		"client-1/v1": {ID: "sub-1", Status: subscription.StatusApproved, GrantedScopes: []string{"orders.read"}},
	}}
	engine, sink := newEngine(t, subs)
	ctx := context.Background()

	engine.Authorize(ctx, admin, authz.ActionPlatformManage, authz.Resource{})
	engine.Authorize(ctx, dev, authz.ActionPlatformManage, authz.Resource{})
	engine.Authorize(ctx, client, authz.ActionAPIInvoke, authz.Resource{APIVersionID: "v1", RequiredScope: "orders.read"})

	records := sink.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}
	if records[0].Decision != audit.DecisionAllowed || records[0].Reason != authz.ReasonElevatedAccess {
		t.Fatalf("elevated allow should be marked on the trail, got %+v", records[0])
	}
	if records[1].Decision != audit.DecisionDenied {
		t.Fatalf("denies must be audited, got %+v", records[1])
	}
	if records[2].Details["required_scope"] != "orders.read" {
		t.Fatalf("invoke records should carry the required scope, got %+v", records[2].Details)
	}
}

func TestMandatoryAuditBlocksDecision(t *testing.T) {
	engine, err := authz.NewEngine(&subMap{}, audit.NewRecorder(failingSink{}, audit.WithMandatory()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = engine.Authorize(context.Background(), admin, authz.ActionPlatformManage, authz.Resource{})
	if !errors.Is(err, audit.ErrUnavailable) {
		t.Fatalf("mandatory audit failure must fail the decision, got %v", err)
	}
}

type failingSink struct{}

func (failingSink) Append(context.Context, audit.Record) error {
	return errors.New("sink down")
}
