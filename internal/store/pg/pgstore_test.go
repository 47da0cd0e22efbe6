package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/subscription"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505"}
}

var credentialRows = []string{
	"id", "kind", "owner_id", "owner_kind", "name", "prefix", "hash",
	"expires_at", "created_at", "revoked", "revoked_at", "revoked_by", "last_used_at",
}

func TestCredentialRotateIsTransactional(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update credentials set revoked = true").
		WithArgs("cred-old", now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into credentials").
		WithArgs("cred-new", credential.KindAPIKey, "owner-1", "app_client", sqlmock.AnyArg(),
			"abcd1234", "hash-new", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repl := &credential.Credential{
		ID: "cred-new", Kind: credential.KindAPIKey, OwnerID: "owner-1", OwnerKind: "app_client",
		Prefix: "abcd1234", Hash: "hash-new", CreatedAt: now,
	}
	if err := store.Credentials().Rotate(context.Background(), "cred-old", repl, now, "actor-1"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRotateMissingRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update credentials set revoked = true").
		WithArgs("cred-gone", now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repl := &credential.Credential{ID: "cred-new", Kind: credential.KindAPIKey, OwnerID: "o", CreatedAt: now}
	err := store.Credentials().Rotate(context.Background(), "cred-gone", repl, now, "actor-1")
	if !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialRevokeIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// Already revoked: zero rows updated, but the row exists.
	mock.ExpectExec("update credentials set revoked = true").
		WithArgs("cred-1", now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("cred-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := store.Credentials().Revoke(context.Background(), "cred-1", now, "actor"); err != nil {
		t.Fatalf("double revoke should be a no-op: %v", err)
	}

	// Missing id is an error, not a silent no-op.
	mock.ExpectExec("update credentials set revoked = true").
		WithArgs("cred-missing", now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("cred-missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := store.Credentials().Revoke(context.Background(), "cred-missing", now, "actor"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialFindByHash(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	rows := sqlmock.NewRows(credentialRows).
		AddRow("cred-1", "api_key", "owner-1", "app_client", "ci key", "abcd1234", "hash-1",
			nil, created, false, nil, "", nil)
	mock.ExpectQuery("from credentials where kind =").
		WithArgs("api_key", "hash-1").
		WillReturnRows(rows)

	cred, err := store.Credentials().FindByHash(context.Background(), "api_key", "hash-1")
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if cred.ID != "cred-1" || cred.Revoked {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if cred.ExpiresAt != nil {
		t.Fatalf("null expiry should map to nil, got %v", cred.ExpiresAt)
	}

	mock.ExpectQuery("from credentials where kind =").
		WithArgs("api_key", "hash-unknown").
		WillReturnRows(sqlmock.NewRows(credentialRows))

	if _, err := store.Credentials().FindByHash(context.Background(), "api_key", "hash-unknown"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubscriptionCreateTranslatesUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into subscriptions").
		WillReturnError(uniqueViolation())

	sub := &subscription.Subscription{
		ID: "sub-1", AppClientID: "c", APIVersionID: "v",
		Status: subscription.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Subscriptions().Create(context.Background(), sub); !errors.Is(err, subscription.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubscriptionUpdateGuard(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	sub := &subscription.Subscription{
		ID: "sub-1", AppClientID: "c", APIVersionID: "v",
		Status: subscription.StatusApproved, RateLimitPerMinute: 100,
		CreatedAt: now, UpdatedAt: now,
	}

	// Status already moved on: zero rows, record exists.
	mock.ExpectExec("update subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := store.Subscriptions().Update(context.Background(), sub, subscription.StatusPending)
	if !errors.Is(err, subscription.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Record deleted out from under us.
	mock.ExpectExec("update subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = store.Subscriptions().Update(context.Background(), sub, subscription.StatusPending)
	if !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubscriptionGrantedScopes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("jsonb_array_elements_text").
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{"scope"}).AddRow("orders.read").AddRow("orders.write"))

	scopes, err := store.Subscriptions().GrantedScopes(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("GrantedScopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0] != "orders.read" {
		t.Fatalf("unexpected scopes: %v", scopes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrganizationCreateTranslatesUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into organizations").
		WillReturnError(uniqueViolation())

	org := &identity.Organization{ID: "org-1", Name: "acme", Active: true, CreatedAt: now, UpdatedAt: now}
	err := store.Organizations(context.Background()).Create(context.Background(), org)
	if !errors.Is(err, identity.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "email", "name", "password_hash", "role", "organization_id", "active", "created_at", "updated_at",
	}).AddRow("user-1", "dev@example.com", "Dev", "$2a$10$hash", "developer", "org-1", true, now, now)

	mock.ExpectQuery("from users where lower").
		WithArgs("DEV@example.com").
		WillReturnRows(rows)

	u, err := store.Users(context.Background()).FindByEmail(context.Background(), "DEV@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "user-1" || u.Role != "developer" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
