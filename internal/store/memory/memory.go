// Package memory is an in-process store used by tests and single-node
// development runs. It enforces the same uniqueness constraints as the
// Postgres store so service-level behavior matches across backends.
package memory

import (
	"sort"
	"sync"

	"gatekeep.org/internal/catalog"
	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/subscription"
)

// Store holds every entity behind one lock. Values are copied on the way
// in and out so callers never alias internal state.
type Store struct {
	mu sync.RWMutex

	orgs       map[string]identity.Organization
	users      map[string]identity.User
	appClients map[string]identity.AppClient
	creds      map[string]credential.Credential
	products   map[string]catalog.APIProduct
	versions   map[string]catalog.APIVersion
	scopes     map[string]catalog.Scope
	endpoints  map[string]catalog.Endpoint
	subs       map[string]subscription.Subscription
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		orgs:       make(map[string]identity.Organization),
		users:      make(map[string]identity.User),
		appClients: make(map[string]identity.AppClient),
		creds:      make(map[string]credential.Credential),
		products:   make(map[string]catalog.APIProduct),
		versions:   make(map[string]catalog.APIVersion),
		scopes:     make(map[string]catalog.Scope),
		endpoints:  make(map[string]catalog.Endpoint),
		subs:       make(map[string]subscription.Subscription),
	}
}

var (
	_ identity.Store = (*Store)(nil)
	_ catalog.Store  = (*Store)(nil)
)

// Credentials returns the credential store view.
func (s *Store) Credentials() credential.Store { return &credentialStore{s} }

// Subscriptions returns the subscription store view.
func (s *Store) Subscriptions() subscription.Store { return &subscriptionStore{s} }

// sortStable orders list output deterministically: creation time, then id.
func sortStable[T any](items []T, createdAt func(T) int64, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		a, b := createdAt(items[i]), createdAt(items[j])
		if a != b {
			return a < b
		}
		return id(items[i]) < id(items[j])
	})
}
