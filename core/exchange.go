package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EngineDependencies wires the token exchange engine.
type EngineDependencies struct {
	Catalog         ServiceCatalog
	Client          TokenClient
	Store           CredentialStore
	Locker          *KeyedLocker
	Logger          Logger
	MetricsRecorder MetricsRecorder
	Clock           Clock
	RedirectURI     string
	DefaultTokenTTL time.Duration
}

// Engine runs the authorization-code and refresh grants and persists their
// results.
type Engine struct {
	instrumentation
	catalog         ServiceCatalog
	client          TokenClient
	store           CredentialStore
	locker          *KeyedLocker
	now             Clock
	redirectURI     string
	defaultTokenTTL time.Duration

	observerMu sync.RWMutex
	observer   LinkObserver
}

func NewEngine(deps EngineDependencies) (*Engine, error) {
	if deps.Catalog == nil {
		return nil, NewConfigurationError("core: service catalog is required", nil)
	}
	if deps.Client == nil {
		return nil, NewConfigurationError("core: token client is required", nil)
	}
	if deps.Store == nil {
		return nil, NewUsageError(ErrStoreNotConfigured, "core: engine requires a credential store")
	}
	if deps.Locker == nil {
		deps.Locker = NewKeyedLocker()
	}
	if deps.Clock == nil {
		deps.Clock = systemClock
	}
	if deps.DefaultTokenTTL <= 0 {
		deps.DefaultTokenTTL = DefaultTokenTTL
	}
	return &Engine{
		instrumentation: newInstrumentation(deps.Logger, deps.MetricsRecorder),
		catalog:         deps.Catalog,
		client:          deps.Client,
		store:           deps.Store,
		locker:          deps.Locker,
		now:             deps.Clock,
		redirectURI:     strings.TrimSpace(deps.RedirectURI),
		defaultTokenTTL: deps.DefaultTokenTTL,
	}, nil
}

// OnLinked replaces the link completion observer.
func (e *Engine) OnLinked(observer LinkObserver) {
	if e == nil {
		return
	}
	e.observerMu.Lock()
	e.observer = observer
	e.observerMu.Unlock()
}

// ExchangeCode trades an authorization code for tokens, persists them and
// notifies the link observer once. Provider failures leave the store as is.
func (e *Engine) ExchangeCode(ctx context.Context, serviceID string, tenantID string, code string) (record CredentialRecord, err error) {
	if e == nil {
		return CredentialRecord{}, fmt.Errorf("core: engine is nil")
	}
	startedAt := time.Now()
	key := NewTenantServiceKey(serviceID, tenantID)
	fields := map[string]any{"service_id": key.ServiceID, "tenant_id": key.TenantID}
	defer func() {
		e.observeOperation(ctx, startedAt, "exchange_code", err, fields)
	}()

	if err := key.Validate(); err != nil {
		return CredentialRecord{}, err
	}
	if strings.TrimSpace(code) == "" {
		return CredentialRecord{}, NewBadInputError("authorization code is required", "code")
	}
	descriptor, ok := e.catalog.Descriptor(key.ServiceID)
	if !ok {
		return CredentialRecord{}, NewServiceNotConfiguredError(key.ServiceID)
	}

	grant, err := e.client.ExchangeCode(ctx, descriptor, code, e.redirectURI)
	if err != nil {
		return CredentialRecord{}, asProviderError(err, "core: authorization code exchange failed", fields)
	}

	unlock, err := e.locker.Lock(ctx, key.String())
	if err != nil {
		return CredentialRecord{}, err
	}
	prior, _, getErr := e.store.Get(ctx, key.ServiceID, key.TenantID)
	if getErr != nil {
		if mustSurface(getErr) {
			unlock()
			return CredentialRecord{}, getErr
		}
		e.logWarn(ctx, "prior credential lookup failed", map[string]any{
			"service_id": key.ServiceID,
			"tenant_id":  key.TenantID,
			"error":      getErr.Error(),
		})
	}
	record = e.applyGrant(prior, grant)
	setErr := e.store.Set(ctx, key.ServiceID, key.TenantID, record)
	unlock()
	if setErr != nil {
		return CredentialRecord{}, asStoreError(setErr, "core: persist exchanged credential failed", fields)
	}

	e.notifyLinked(ctx, LinkCompletionEvent{
		ServiceID: key.ServiceID,
		TenantID:  key.TenantID,
		LinkedAt:  e.now().UTC(),
	})
	return record.Clone(), nil
}

// Refresh runs the refresh grant for (serviceID, tenantID) under the tenant
// lock and persists the new access token.
func (e *Engine) Refresh(ctx context.Context, serviceID string, tenantID string, refreshToken string) (CredentialRecord, error) {
	if e == nil {
		return CredentialRecord{}, fmt.Errorf("core: engine is nil")
	}
	key := NewTenantServiceKey(serviceID, tenantID)
	if err := key.Validate(); err != nil {
		return CredentialRecord{}, err
	}
	unlock, err := e.locker.Lock(ctx, key.String())
	if err != nil {
		return CredentialRecord{}, err
	}
	defer unlock()
	return e.refreshLocked(ctx, key, refreshToken)
}

// refreshLocked expects the caller to hold the tenant lock for key.
func (e *Engine) refreshLocked(ctx context.Context, key TenantServiceKey, refreshToken string) (record CredentialRecord, err error) {
	startedAt := time.Now()
	fields := map[string]any{"service_id": key.ServiceID, "tenant_id": key.TenantID}
	defer func() {
		e.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return CredentialRecord{}, NewBadInputError("refresh token is required", "refresh_token")
	}
	descriptor, ok := e.catalog.Descriptor(key.ServiceID)
	if !ok {
		return CredentialRecord{}, NewServiceNotConfiguredError(key.ServiceID)
	}

	grant, err := e.client.Refresh(ctx, descriptor, refreshToken)
	if err != nil {
		return CredentialRecord{}, asProviderError(err, "core: token refresh failed", fields)
	}
	record = e.applyGrant(CredentialRecord{RefreshToken: refreshToken}, grant)
	if err := e.store.Set(ctx, key.ServiceID, key.TenantID, record); err != nil {
		return CredentialRecord{}, asStoreError(err, "core: persist refreshed credential failed", fields)
	}
	return record.Clone(), nil
}

// applyGrant merges grant into prior. The prior refresh token survives when
// the provider does not rotate it, and a missing expires_in falls back to the
// default token TTL so an access token always carries an expiry. The expiry
// is kept at the millisecond precision the persisted form carries.
func (e *Engine) applyGrant(prior CredentialRecord, grant TokenGrant) CredentialRecord {
	ttl := grant.ExpiresIn
	if ttl <= 0 {
		ttl = e.defaultTokenTTL
	}
	expiresAt := e.now().UTC().Add(ttl).Truncate(time.Millisecond)
	refreshToken := strings.TrimSpace(grant.RefreshToken)
	if refreshToken == "" {
		refreshToken = strings.TrimSpace(prior.RefreshToken)
	}
	return CredentialRecord{
		RefreshToken: refreshToken,
		AccessToken:  strings.TrimSpace(grant.AccessToken),
		ExpiresAt:    &expiresAt,
	}
}

func (e *Engine) notifyLinked(ctx context.Context, event LinkCompletionEvent) {
	e.observerMu.RLock()
	observer := e.observer
	e.observerMu.RUnlock()
	if observer == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logError(ctx, "link observer panicked", map[string]any{
				"service_id": event.ServiceID,
				"tenant_id":  event.TenantID,
				"panic":      fmt.Sprint(recovered),
			})
		}
	}()
	observer(event)
}

func asProviderError(err error, message string, fields map[string]any) error {
	if err == nil || IsProviderError(err) || mustSurface(err) {
		return err
	}
	return NewProviderError(err, message, cloneFields(fields))
}

func asStoreError(err error, message string, fields map[string]any) error {
	if err == nil || IsTransientStoreError(err) || mustSurface(err) {
		return err
	}
	return NewTransientStoreError(err, message, cloneFields(fields))
}
