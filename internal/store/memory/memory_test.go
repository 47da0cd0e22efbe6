package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/subscription"
)

func TestSubscriptionUpdateGuard(t *testing.T) {
	st := New().Subscriptions()
	ctx := context.Background()

	sub := &subscription.Subscription{
		ID:           "sub-1",
		AppClientID:  "client-1",
		APIVersionID: "v1",
		Status:       subscription.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sub.Status = subscription.StatusApproved
	if err := st.Update(ctx, sub, subscription.StatusPending); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A second decision racing against the first loses.
	sub.Status = subscription.StatusDenied
	if err := st.Update(ctx, sub, subscription.StatusPending); !errors.Is(err, subscription.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := st.Update(ctx, &subscription.Subscription{ID: "missing"}, subscription.StatusPending); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscriptionActivePairUnique(t *testing.T) {
	st := New().Subscriptions()
	ctx := context.Background()

	first := &subscription.Subscription{ID: "sub-1", AppClientID: "c", APIVersionID: "v", Status: subscription.StatusPending}
	if err := st.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second := &subscription.Subscription{ID: "sub-2", AppClientID: "c", APIVersionID: "v", Status: subscription.StatusPending}
	if err := st.Create(ctx, second); !errors.Is(err, subscription.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	// A terminal subscription frees the pair.
	first.Status = subscription.StatusDenied
	if err := st.Update(ctx, first, subscription.StatusPending); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := st.Create(ctx, second); err != nil {
		t.Fatalf("Create after terminal state: %v", err)
	}
}

func TestSubscriptionCloneIsolation(t *testing.T) {
	st := New().Subscriptions()
	ctx := context.Background()

	sub := &subscription.Subscription{
		ID: "sub-1", AppClientID: "c", APIVersionID: "v",
		Status:        subscription.StatusApproved,
		GrantedScopes: []string{"orders.read"},
	}
	st.Create(ctx, sub)

	got, err := st.Find(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got.GrantedScopes[0] = "mutated"

	again, _ := st.Find(ctx, "sub-1")
	if again.GrantedScopes[0] != "orders.read" {
		t.Fatalf("stored state leaked through a returned record: %v", again.GrantedScopes)
	}
}

func TestCredentialRotateAtomicity(t *testing.T) {
	st := New().Credentials()
	ctx := context.Background()
	now := time.Now().UTC()

	old := &credential.Credential{ID: "cred-1", Kind: credential.KindAPIKey, OwnerID: "o", Hash: "hash-a", CreatedAt: now}
	if err := st.Create(ctx, old); err != nil {
		t.Fatalf("Create: %v", err)
	}
	repl := &credential.Credential{ID: "cred-2", Kind: credential.KindAPIKey, OwnerID: "o", Hash: "hash-b", CreatedAt: now}
	if err := st.Rotate(ctx, "cred-1", repl, now, "actor"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if _, err := st.FindByHash(ctx, credential.KindAPIKey, "hash-a"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("old hash must not resolve after rotation, got %v", err)
	}
	got, err := st.FindByHash(ctx, credential.KindAPIKey, "hash-b")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if got.ID != "cred-2" {
		t.Fatalf("unexpected credential: %s", got.ID)
	}

	stored, _ := st.Find(ctx, "cred-1")
	if !stored.Revoked {
		t.Fatalf("rotated-out credential must be revoked")
	}
}

func TestCredentialHashUniquePerKind(t *testing.T) {
	st := New().Credentials()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.Create(ctx, &credential.Credential{ID: "c1", Kind: credential.KindAPIKey, OwnerID: "o", Hash: "h", CreatedAt: now}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := st.Create(ctx, &credential.Credential{ID: "c2", Kind: credential.KindAPIKey, OwnerID: "o", Hash: "h", CreatedAt: now})
	if err == nil {
		t.Fatalf("duplicate hash within a kind must be rejected")
	}
	// The same fingerprint under a different kind is a distinct namespace.
	if err := st.Create(ctx, &credential.Credential{ID: "c3", Kind: credential.KindRefreshToken, OwnerID: "o", Hash: "h", CreatedAt: now}); err != nil {
		t.Fatalf("Create under another kind: %v", err)
	}
}

func TestUserEmailUniqueCaseInsensitive(t *testing.T) {
	st := New()
	ctx := context.Background()
	users := st.Users(ctx)

	if err := users.Create(ctx, &identity.User{ID: "u1", Email: "dev@example.com", Role: identity.RoleDeveloper}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := users.Create(ctx, &identity.User{ID: "u2", Email: "DEV@example.com", Role: identity.RoleDeveloper}); !errors.Is(err, identity.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	got, err := users.FindByEmail(ctx, "Dev@Example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.ID != "u1" {
		t.Fatalf("unexpected user: %s", got.ID)
	}
}

func TestGrantedScopesDistinctAndSorted(t *testing.T) {
	st := New().Subscriptions()
	ctx := context.Background()

	st.Create(ctx, &subscription.Subscription{
		ID: "s1", AppClientID: "c", APIVersionID: "v1",
		Status: subscription.StatusApproved, GrantedScopes: []string{"b.write", "a.read"},
	})
	st.Create(ctx, &subscription.Subscription{
		ID: "s2", AppClientID: "c", APIVersionID: "v2",
		Status: subscription.StatusApproved, GrantedScopes: []string{"a.read"},
	})
	// Pending grants do not count.
	st.Create(ctx, &subscription.Subscription{
		ID: "s3", AppClientID: "c", APIVersionID: "v3",
		Status: subscription.StatusPending, GrantedScopes: []string{"c.admin"},
	})

	scopes, err := st.GrantedScopes(ctx, "c")
	if err != nil {
		t.Fatalf("GrantedScopes: %v", err)
	}
	want := []string{"a.read", "b.write"}
	if len(scopes) != len(want) {
		t.Fatalf("unexpected scopes: %v", scopes)
	}
	for i := range want {
		if scopes[i] != want[i] {
			t.Fatalf("scopes must be distinct and sorted, got %v", scopes)
		}
	}
}

func TestAuditSinkListFiltersNewestFirst(t *testing.T) {
	ctx := context.Background()
	sink := NewAuditSink()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, rec := range []audit.Record{
		{ID: "r1", ActorID: "u1", Action: "auth.login", Decision: audit.DecisionDenied},
		{ID: "r2", ActorID: "u2", Action: "subscription.approve", ResourceType: "subscription", ResourceID: "s1", Decision: audit.DecisionAllowed},
		{ID: "r3", ActorID: "u1", Action: "auth.login", Decision: audit.DecisionAllowed},
	} {
		rec.OccurredAt = base.Add(time.Duration(i) * time.Second)
		if err := sink.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := sink.List(ctx, audit.Query{Action: "auth.login"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r3" || got[1].ID != "r1" {
		t.Fatalf("expected r3 then r1, got %v", got)
	}

	got, err = sink.List(ctx, audit.Query{ActorID: "u1", Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r3" {
		t.Fatalf("limit should keep the newest match, got %v", got)
	}

	got, err = sink.List(ctx, audit.Query{ResourceType: "subscription", ResourceID: "s1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("resource filter should match r2 only, got %v", got)
	}
}
