package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const maxStateGenerationAttempts = 8

// AuthorizationRegistry tracks outstanding authorization attempts keyed by
// their correlation state. All mutation happens under a single mutex so a
// state is consumed at most once.
type AuthorizationRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]PendingAuthorization
	now      Clock
	generate func() (string, error)
}

type RegistryOption func(*AuthorizationRegistry)

func WithRegistryClock(clock Clock) RegistryOption {
	return func(r *AuthorizationRegistry) {
		if clock != nil {
			r.now = clock
		}
	}
}

func WithStateGenerator(generate func() (string, error)) RegistryOption {
	return func(r *AuthorizationRegistry) {
		if generate != nil {
			r.generate = generate
		}
	}
}

func NewAuthorizationRegistry(ttl time.Duration, opts ...RegistryOption) *AuthorizationRegistry {
	if ttl <= 0 {
		ttl = DefaultAuthorizationTTL
	}
	registry := &AuthorizationRegistry{
		ttl:      ttl,
		entries:  map[string]PendingAuthorization{},
		now:      systemClock,
		generate: generateAuthorizationState,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(registry)
	}
	return registry
}

// Add records a new pending authorization and returns it with a fresh state.
// A ttl of zero uses the registry default.
func (r *AuthorizationRegistry) Add(
	_ context.Context,
	tenantID string,
	serviceID string,
	scope string,
	ttl time.Duration,
) (PendingAuthorization, error) {
	if r == nil {
		return PendingAuthorization{}, fmt.Errorf("core: authorization registry is not configured")
	}
	key := NewTenantServiceKey(serviceID, tenantID)
	if err := key.Validate(); err != nil {
		return PendingAuthorization{}, err
	}
	if ttl <= 0 {
		ttl = r.ttl
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxStateGenerationAttempts; attempt++ {
		state, err := r.generate()
		if err != nil {
			return PendingAuthorization{}, err
		}
		if state == "" || strings.Contains(state, "/") {
			continue
		}
		if _, exists := r.entries[state]; exists {
			continue
		}
		now := r.now().UTC()
		entry := PendingAuthorization{
			TenantID:  key.TenantID,
			ServiceID: key.ServiceID,
			State:     state,
			Scope:     scope,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		r.entries[state] = entry
		return entry, nil
	}
	return PendingAuthorization{}, brokerError(
		"core: could not generate a unique authorization state",
		goerrors.CategoryInternal,
		BrokerErrorStateSpaceDrained,
		map[string]any{"attempts": maxStateGenerationAttempts},
	)
}

// Consume removes the entry for state and returns it. Unknown and expired
// states both yield an expired-request error.
func (r *AuthorizationRegistry) Consume(_ context.Context, state string) (PendingAuthorization, error) {
	if r == nil {
		return PendingAuthorization{}, fmt.Errorf("core: authorization registry is not configured")
	}
	state = strings.TrimSpace(state)

	r.mu.Lock()
	entry, ok := r.entries[state]
	if ok {
		delete(r.entries, state)
	}
	now := r.now().UTC()
	r.mu.Unlock()

	if !ok || entry.Expired(now) {
		return PendingAuthorization{}, NewExpiredRequestError(state)
	}
	return entry, nil
}

// Sweep drops every entry expired at now and returns how many were removed.
func (r *AuthorizationRegistry) Sweep(now time.Time) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for state, entry := range r.entries {
		if entry.Expired(now) {
			delete(r.entries, state)
			removed++
		}
	}
	return removed
}

// Pending returns the entries still live at now, oldest first.
func (r *AuthorizationRegistry) Pending(now time.Time) []PendingAuthorization {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]PendingAuthorization, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.Expired(now) {
			continue
		}
		out = append(out, entry)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].State < out[j].State
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *AuthorizationRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *AuthorizationRegistry) TTL() time.Duration {
	if r == nil {
		return 0
	}
	return r.ttl
}

func generateAuthorizationState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate authorization state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
