package credential

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/ids"
	"gatekeep.org/internal/obs"
)

const (
	secretBytes  = 32
	prefixLength = 8

	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Service implements the credential lifecycle on top of a Store.
type Service struct {
	store      Store
	owners     OwnerDirectory
	recorder   *audit.Recorder
	hashKey    []byte
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service. hashKey keys the HMAC fingerprints and
// must stay stable across restarts or every stored credential stops
// validating.
func NewService(store Store, owners OwnerDirectory, recorder *audit.Recorder, hashKey string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("credential: store is required")
	}
	if owners == nil {
		return nil, errors.New("credential: owner directory is required")
	}
	if recorder == nil {
		return nil, errors.New("credential: audit recorder is required")
	}
	if strings.TrimSpace(hashKey) == "" {
		return nil, errors.New("credential: hash key is required")
	}
	s := &Service{
		store:      store,
		owners:     owners,
		recorder:   recorder,
		hashKey:    []byte(hashKey),
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueParams describes the credential to mint.
type IssueParams struct {
	Kind    string
	OwnerID string
	Name    string
	// TTL of zero means the kind's default (refresh tokens) or no expiry.
	TTL time.Duration
	// Actor is the identity performing the issuance, for the audit trail.
	Actor string
}

// Issue generates a cryptographically random secret, persists only its
// fingerprint plus metadata, and returns the plaintext exactly once.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*Credential, string, error) {
	if !validKind(p.Kind) {
		return nil, "", fmt.Errorf("%w: unsupported kind %q", ErrInvalidInput, p.Kind)
	}
	owner, err := s.owners.FindOwner(ctx, strings.TrimSpace(p.OwnerID))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidOwner, err)
	}
	if owner.Disabled {
		return nil, "", fmt.Errorf("%w: owner is disabled", ErrInvalidOwner)
	}

	cred, plaintext, err := s.mint(p.Kind, owner, p.Name, p.TTL)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.Create(ctx, cred); err != nil {
		return nil, "", err
	}
	if err := s.auditLifecycle(ctx, "credential.issue", p.Actor, cred); err != nil {
		return nil, "", err
	}
	return cred, plaintext, nil
}

// Verify recomputes the fingerprint of the presented secret and compares
// it in constant time against the stored one. On success the owning
// identity reference is returned and the credential's last-use is stamped.
// All failures collapse into ErrAuthFailure.
func (s *Service) Verify(ctx context.Context, kind, presented string) (Owner, *Credential, error) {
	if !validKind(kind) || strings.TrimSpace(presented) == "" {
		obs.ObserveCredentialVerify(kind, "failure")
		return Owner{}, nil, ErrAuthFailure
	}
	fingerprint := s.fingerprint(presented)
	cred, err := s.store.FindByHash(ctx, kind, fingerprint)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.verifyFailed(ctx, kind, nil, reasonNotFound)
		}
		// Infrastructure faults propagate; they are not auth failures.
		return Owner{}, nil, err
	}
	// The index lookup already matched; the explicit constant-time compare
	// keeps verification independent of secret length and store behavior.
	if subtle.ConstantTimeCompare([]byte(cred.Hash), []byte(fingerprint)) != 1 {
		return s.verifyFailed(ctx, kind, cred, reasonNotFound)
	}
	now := s.now().UTC()
	if cred.Revoked {
		return s.verifyFailed(ctx, kind, cred, reasonRevoked)
	}
	if cred.ExpiresAt != nil && now.After(*cred.ExpiresAt) {
		return s.verifyFailed(ctx, kind, cred, reasonExpired)
	}
	owner, err := s.owners.FindOwner(ctx, cred.OwnerID)
	if err != nil {
		return s.verifyFailed(ctx, kind, cred, reasonNotFound)
	}
	if owner.Disabled {
		return s.verifyFailed(ctx, kind, cred, reasonOwnerDisabled)
	}
	// Last-use is best effort; a failed touch must not fail authentication.
	_ = s.store.Touch(ctx, cred.ID, now)
	obs.ObserveCredentialVerify(kind, "success")
	return owner, cred, nil
}

// Rotate atomically revokes the old credential and issues a replacement
// for the same owner. Once Rotate returns, the old secret no longer
// validates, even under concurrent verification.
func (s *Service) Rotate(ctx context.Context, credentialID, actor string) (*Credential, string, error) {
	old, err := s.store.Find(ctx, strings.TrimSpace(credentialID))
	if err != nil {
		return nil, "", err
	}
	if old.Revoked {
		return nil, "", fmt.Errorf("%w: credential already revoked", ErrInvalidInput)
	}
	owner, err := s.owners.FindOwner(ctx, old.OwnerID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidOwner, err)
	}
	if owner.Disabled {
		return nil, "", fmt.Errorf("%w: owner is disabled", ErrInvalidOwner)
	}

	ttl := time.Duration(0)
	if old.ExpiresAt != nil {
		ttl = old.ExpiresAt.Sub(old.CreatedAt)
	}
	repl, plaintext, err := s.mint(old.Kind, owner, old.Name, ttl)
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	if err := s.store.Rotate(ctx, old.ID, repl, now, actor); err != nil {
		return nil, "", err
	}
	if err := s.auditLifecycle(ctx, "credential.rotate", actor, repl, "replaces", old.ID); err != nil {
		return nil, "", err
	}
	return repl, plaintext, nil
}

// Revoke marks the credential revoked with a timestamp. It is idempotent;
// subsequent Verify calls fail immediately.
func (s *Service) Revoke(ctx context.Context, credentialID, actor string) error {
	cred, err := s.store.Find(ctx, strings.TrimSpace(credentialID))
	if err != nil {
		return err
	}
	if err := s.store.Revoke(ctx, cred.ID, s.now().UTC(), actor); err != nil {
		return err
	}
	return s.auditLifecycle(ctx, "credential.revoke", actor, cred)
}

// RevokeAllForOwner revokes every credential of the given kind held by the
// owner. Used on principal disable and logout-everywhere.
func (s *Service) RevokeAllForOwner(ctx context.Context, ownerID, kind, actor string) error {
	if err := s.store.RevokeByOwner(ctx, strings.TrimSpace(ownerID), kind, s.now().UTC(), actor); err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Record{
		ActorID:      actor,
		ActorType:    audit.ActorUser,
		Action:       "credential.revoke_all",
		ResourceType: "credential",
		ResourceID:   ownerID,
		Decision:     audit.DecisionAllowed,
		Details:      map[string]any{"kind": kind},
	})
}

// Get returns credential metadata by id.
func (s *Service) Get(ctx context.Context, credentialID string) (*Credential, error) {
	return s.store.Find(ctx, strings.TrimSpace(credentialID))
}

// ListByOwner returns credential metadata for an owner. Hashes stay inside
// the package; the JSON shape of Credential excludes them.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Credential, error) {
	return s.store.ListByOwner(ctx, strings.TrimSpace(ownerID))
}

func (s *Service) mint(kind string, owner Owner, name string, ttl time.Duration) (*Credential, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate secret: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)
	now := s.now().UTC()

	cred := &Credential{
		ID:        ids.New(),
		Kind:      kind,
		OwnerID:   owner.ID,
		OwnerKind: owner.Kind,
		Name:      strings.TrimSpace(name),
		Prefix:    plaintext[:prefixLength],
		Hash:      s.fingerprint(plaintext),
		CreatedAt: now,
	}
	if kind == KindRefreshToken && ttl == 0 {
		ttl = s.refreshTTL
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		cred.ExpiresAt = &exp
	}
	return cred, plaintext, nil
}

func (s *Service) fingerprint(secret string) string {
	mac := hmac.New(sha256.New, s.hashKey)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) verifyFailed(ctx context.Context, kind string, cred *Credential, reason string) (Owner, *Credential, error) {
	obs.ObserveCredentialVerify(kind, "failure")
	rec := audit.Record{
		ActorType:    audit.ActorAnonymous,
		Action:       "credential.verify",
		ResourceType: "credential",
		Decision:     audit.DecisionDenied,
		Reason:       reason,
		Details:      map[string]any{"kind": kind},
	}
	if cred != nil {
		rec.ResourceID = cred.ID
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		return Owner{}, nil, err
	}
	return Owner{}, nil, ErrAuthFailure
}

func (s *Service) auditLifecycle(ctx context.Context, action, actor string, cred *Credential, extra ...string) error {
	details := map[string]any{"kind": cred.Kind, "prefix": cred.Prefix}
	for i := 0; i+1 < len(extra); i += 2 {
		details[extra[i]] = extra[i+1]
	}
	return s.recorder.Record(ctx, audit.Record{
		ActorID:      actor,
		ActorType:    audit.ActorUser,
		Action:       action,
		ResourceType: "credential",
		ResourceID:   cred.ID,
		Decision:     audit.DecisionAllowed,
		Details:      details,
	})
}

func validKind(kind string) bool {
	switch kind {
	case KindAPIKey, KindRefreshToken, KindClientSecret:
		return true
	}
	return false
}
