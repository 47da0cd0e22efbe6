package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatekeep.org/internal/subscription"
)

// Subscriptions returns the subscription store view.
func (s *Store) Subscriptions() subscription.Store { return &subscriptionStore{db: s.db} }

type subscriptionStore struct{ db *sql.DB }

const subscriptionColumns = `id, app_client_id, api_version_id, status, requested_scopes, granted_scopes,
	rate_limit_per_minute, coalesce(justification, ''), coalesce(denial_reason, ''),
	coalesce(decided_by, ''), decided_at, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*subscription.Subscription, error) {
	var (
		sub                      subscription.Subscription
		rawRequested, rawGranted []byte
		decidedAt                sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.AppClientID, &sub.APIVersionID, &sub.Status,
		&rawRequested, &rawGranted, &sub.RateLimitPerMinute, &sub.Justification,
		&sub.DenialReason, &sub.DecidedBy, &decidedAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if len(rawRequested) > 0 {
		if err := json.Unmarshal(rawRequested, &sub.RequestedScopes); err != nil {
			return nil, fmt.Errorf("decode requested scopes: %w", err)
		}
	}
	if len(rawGranted) > 0 {
		if err := json.Unmarshal(rawGranted, &sub.GrantedScopes); err != nil {
			return nil, fmt.Errorf("decode granted scopes: %w", err)
		}
	}
	sub.DecidedAt = timePtr(decidedAt)
	return &sub, nil
}

func (s *subscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	requested, granted, err := encodeScopes(sub)
	if err != nil {
		return err
	}
	// The partial unique index on (app_client_id, api_version_id) where
	// the status is active enforces the one-active-subscription rule.
	_, err = s.db.ExecContext(ctx, `
		insert into subscriptions (id, app_client_id, api_version_id, status, requested_scopes,
			granted_scopes, rate_limit_per_minute, justification, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sub.ID, sub.AppClientID, sub.APIVersionID, sub.Status, requested, granted,
		sub.RateLimitPerMinute, nullIfEmpty(sub.Justification), sub.CreatedAt, sub.UpdatedAt)
	if isUniqueViolation(err) {
		return subscription.ErrDuplicateRequest
	}
	return err
}

func (s *subscriptionStore) Find(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
		select `+subscriptionColumns+` from subscriptions where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

func (s *subscriptionStore) FindActive(ctx context.Context, appClientID, versionID string) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
		select `+subscriptionColumns+` from subscriptions
		where app_client_id = $1 and api_version_id = $2 and status in ('pending', 'approved')
	`, appClientID, versionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscription.ErrNotFound
	}
	return sub, err
}

// Update is guarded by the expected current status; a concurrent decision
// makes the where clause match zero rows.
func (s *subscriptionStore) Update(ctx context.Context, sub *subscription.Subscription, expectStatus string) error {
	requested, granted, err := encodeScopes(sub)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update subscriptions
		set status = $2, requested_scopes = $3, granted_scopes = $4, rate_limit_per_minute = $5,
			denial_reason = $6, decided_by = $7, decided_at = $8, updated_at = $9
		where id = $1 and status = $10
	`, sub.ID, sub.Status, requested, granted, sub.RateLimitPerMinute,
		nullIfEmpty(sub.DenialReason), nullIfEmpty(sub.DecidedBy), nullIfZero(sub.DecidedAt),
		sub.UpdatedAt, expectStatus)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from subscriptions where id = $1)
	`, sub.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return subscription.ErrNotFound
	}
	return subscription.ErrInvalidTransition
}

func (s *subscriptionStore) ListByClient(ctx context.Context, appClientID string) ([]*subscription.Subscription, error) {
	return s.list(ctx, `
		select `+subscriptionColumns+` from subscriptions where app_client_id = $1 order by created_at, id
	`, appClientID)
}

func (s *subscriptionStore) ListByVersion(ctx context.Context, versionID string) ([]*subscription.Subscription, error) {
	return s.list(ctx, `
		select `+subscriptionColumns+` from subscriptions where api_version_id = $1 order by created_at, id
	`, versionID)
}

func (s *subscriptionStore) GrantedScopes(ctx context.Context, appClientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct scope
		from subscriptions, jsonb_array_elements_text(granted_scopes) as scope
		where app_client_id = $1 and status = 'approved'
		order by scope
	`, appClientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var sc string
		if err := rows.Scan(&sc); err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

func (s *subscriptionStore) list(ctx context.Context, query string, arg any) ([]*subscription.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func encodeScopes(sub *subscription.Subscription) ([]byte, []byte, error) {
	requested, err := json.Marshal(emptyIfNil(sub.RequestedScopes))
	if err != nil {
		return nil, nil, fmt.Errorf("encode requested scopes: %w", err)
	}
	granted, err := json.Marshal(emptyIfNil(sub.GrantedScopes))
	if err != nil {
		return nil, nil, fmt.Errorf("encode granted scopes: %w", err)
	}
	return requested, granted, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
