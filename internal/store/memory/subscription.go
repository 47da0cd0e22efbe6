package memory

import (
	"context"
	"slices"
	"sort"

	"gatekeep.org/internal/subscription"
)

type subscriptionStore struct{ s *Store }

func (st *subscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.subs[sub.ID]; ok {
		return subscription.ErrDuplicateRequest
	}
	// One active subscription per (app client, version) pair, checked
	// under the same lock the insert takes.
	for _, existing := range st.s.subs {
		if existing.AppClientID == sub.AppClientID &&
			existing.APIVersionID == sub.APIVersionID &&
			existing.Active() {
			return subscription.ErrDuplicateRequest
		}
	}
	st.s.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (st *subscriptionStore) Find(ctx context.Context, id string) (*subscription.Subscription, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	sub, ok := st.s.subs[id]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	out := cloneSub(&sub)
	return &out, nil
}

func (st *subscriptionStore) FindActive(ctx context.Context, appClientID, versionID string) (*subscription.Subscription, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, sub := range st.s.subs {
		if sub.AppClientID == appClientID && sub.APIVersionID == versionID && sub.Active() {
			out := cloneSub(&sub)
			return &out, nil
		}
	}
	return nil, subscription.ErrNotFound
}

// Update persists sub only if the stored record still carries
// expectStatus, which turns concurrent decisions into
// ErrInvalidTransition instead of lost updates.
func (st *subscriptionStore) Update(ctx context.Context, sub *subscription.Subscription, expectStatus string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	current, ok := st.s.subs[sub.ID]
	if !ok {
		return subscription.ErrNotFound
	}
	if current.Status != expectStatus {
		return subscription.ErrInvalidTransition
	}
	st.s.subs[sub.ID] = cloneSub(sub)
	return nil
}

func (st *subscriptionStore) ListByClient(ctx context.Context, appClientID string) ([]*subscription.Subscription, error) {
	return st.list(func(sub *subscription.Subscription) bool {
		return sub.AppClientID == appClientID
	})
}

func (st *subscriptionStore) ListByVersion(ctx context.Context, versionID string) ([]*subscription.Subscription, error) {
	return st.list(func(sub *subscription.Subscription) bool {
		return sub.APIVersionID == versionID
	})
}

func (st *subscriptionStore) GrantedScopes(ctx context.Context, appClientID string) ([]string, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var scopes []string
	for _, sub := range st.s.subs {
		if sub.AppClientID != appClientID || sub.Status != subscription.StatusApproved {
			continue
		}
		for _, sc := range sub.GrantedScopes {
			if !slices.Contains(scopes, sc) {
				scopes = append(scopes, sc)
			}
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

func (st *subscriptionStore) list(match func(*subscription.Subscription) bool) ([]*subscription.Subscription, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*subscription.Subscription
	for _, sub := range st.s.subs {
		sub := cloneSub(&sub)
		if match(&sub) {
			out = append(out, &sub)
		}
	}
	sortStable(out,
		func(v *subscription.Subscription) int64 { return v.CreatedAt.UnixNano() },
		func(v *subscription.Subscription) string { return v.ID })
	return out, nil
}

// cloneSub deep-copies the scope slices so callers cannot mutate stored
// state through a returned record.
func cloneSub(sub *subscription.Subscription) subscription.Subscription {
	out := *sub
	out.RequestedScopes = slices.Clone(sub.RequestedScopes)
	out.GrantedScopes = slices.Clone(sub.GrantedScopes)
	return out
}
