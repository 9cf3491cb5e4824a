package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Broker is the public entry point for linking tenants and serving fresh
// access tokens. Storage and provider failures are logged and reported as
// "no token"; only configuration and usage errors are returned.
type Broker struct {
	instrumentation
	config         Config
	loggerProvider LoggerProvider
	errorMapper    ErrorMapper
	catalog        *ServiceRegistry
	store          CredentialStore
	registry       *AuthorizationRegistry
	locker         *KeyedLocker
	engine         *Engine
	poller         *Poller
	now            Clock
}

// AuthorizationStart is the outcome of beginning an authorization attempt.
type AuthorizationStart struct {
	URL       string
	State     string
	ServiceID string
	TenantID  string
	ExpiresAt time.Time
}

func NewBroker(cfg Config, opts ...Option) (*Broker, error) {
	builder := defaultBrokerBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("broker", builder.loggerProvider, builder.logger)
	logger = namedLogger(provider, "broker", glog.Ensure(logger))

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = systemClock
	}
	if builder.locker == nil {
		builder.locker = NewKeyedLocker()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig = finalConfig.withFallbacks()

	if builder.credentialStore == nil {
		return nil, mapBuildError(builder.errorMapper, NewUsageError(ErrStoreNotConfigured, "core: broker requires a credential store"))
	}
	if builder.tokenClient == nil && builder.tokenClientFactory != nil {
		client, err := builder.tokenClientFactory(finalConfig)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, brokerWrapError(err, goerrors.CategoryBadInput, "core: build token client", BrokerErrorConfiguration, nil))
		}
		builder.tokenClient = client
	}
	if builder.relay == nil && builder.relayFactory != nil && strings.TrimSpace(finalConfig.Relay.BaseURL) != "" {
		relay, err := builder.relayFactory(finalConfig.Relay)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, brokerWrapError(err, goerrors.CategoryBadInput, "core: build relay client", BrokerErrorConfiguration, nil))
		}
		builder.relay = relay
	}
	if builder.schedulerLogger == nil && builder.schedulerLoggerFactory != nil {
		builder.schedulerLogger = builder.schedulerLoggerFactory(namedLogger(provider, "broker.scheduler", logger))
	}
	if builder.tokenClient == nil {
		return nil, mapBuildError(builder.errorMapper, NewConfigurationError("core: broker requires a token client", nil))
	}

	catalog, err := NewServiceRegistry(append(finalConfig.Descriptors(), builder.services...)...)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.registry == nil {
		builder.registry = NewAuthorizationRegistry(finalConfig.AuthorizationTTL, WithRegistryClock(builder.clock))
	}

	engine, err := NewEngine(EngineDependencies{
		Catalog:         catalog,
		Client:          builder.tokenClient,
		Store:           builder.credentialStore,
		Locker:          builder.locker,
		Logger:          logger,
		MetricsRecorder: builder.metricsRecorder,
		Clock:           builder.clock,
		RedirectURI:     finalConfig.RedirectURI,
		DefaultTokenTTL: finalConfig.DefaultTokenTTL,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	engine.OnLinked(builder.linkObserver)

	poller, err := NewPoller(PollerDependencies{
		Registry:        builder.registry,
		Relay:           builder.relay,
		Exchanger:       engine,
		Logger:          namedLogger(provider, "broker.poller", logger),
		SchedulerLogger: builder.schedulerLogger,
		MetricsRecorder: builder.metricsRecorder,
		Clock:           builder.clock,
		Interval:        finalConfig.PollInterval,
		Concurrency:     finalConfig.PollConcurrency,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Broker{
		instrumentation: newInstrumentation(logger, builder.metricsRecorder),
		config:          finalConfig,
		loggerProvider:  provider,
		errorMapper:     builder.errorMapper,
		catalog:         catalog,
		store:           builder.credentialStore,
		registry:        builder.registry,
		locker:          builder.locker,
		engine:          engine,
		poller:          poller,
		now:             builder.clock,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// namedLogger returns provider's logger for name, or fallback.
func namedLogger(provider LoggerProvider, name string, fallback Logger) Logger {
	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return glog.Ensure(named)
		}
	}
	return fallback
}

func (b *Broker) Config() Config {
	if b == nil {
		return Config{}
	}
	return b.config
}

func (b *Broker) Services() []string {
	if b == nil {
		return nil
	}
	return b.catalog.ServiceIDs()
}

func (b *Broker) Registry() *AuthorizationRegistry {
	if b == nil {
		return nil
	}
	return b.registry
}

func (b *Broker) Poller() *Poller {
	if b == nil {
		return nil
	}
	return b.poller
}

func (b *Broker) Engine() *Engine {
	if b == nil {
		return nil
	}
	return b.engine
}

// Start begins background polling of pending authorizations.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.mapError(b.poller.Start(ctx))
}

func (b *Broker) Stop() context.Context {
	if b == nil {
		return doneContext()
	}
	return b.poller.Stop()
}

// OnLinked registers the single link completion observer, replacing any
// previous one.
func (b *Broker) OnLinked(observer LinkObserver) {
	if b == nil || b.engine == nil {
		return
	}
	b.engine.OnLinked(observer)
}

// IsLinked reports whether a refresh token is stored for the tenant.
func (b *Broker) IsLinked(ctx context.Context, serviceID string, tenantID string) (bool, error) {
	key, err := b.prepare(serviceID, tenantID)
	if err != nil {
		return false, err
	}
	record, found, err := b.load(ctx, key)
	if err != nil {
		return false, err
	}
	return found && record.Linked(), nil
}

// GenerateAuthURL starts an authorization attempt and returns the consent URL.
func (b *Broker) GenerateAuthURL(ctx context.Context, serviceID string, tenantID string, scope string) (string, error) {
	started, err := b.BeginAuthorization(ctx, serviceID, tenantID, scope)
	if err != nil {
		return "", err
	}
	return started.URL, nil
}

// BeginAuthorization registers a pending authorization and renders the
// service template with its state.
func (b *Broker) BeginAuthorization(
	ctx context.Context,
	serviceID string,
	tenantID string,
	scope string,
) (started AuthorizationStart, err error) {
	startedAt := time.Now()
	key, err := b.prepare(serviceID, tenantID)
	if err != nil {
		return AuthorizationStart{}, err
	}
	fields := map[string]any{"service_id": key.ServiceID, "tenant_id": key.TenantID}
	defer func() {
		b.observeOperation(ctx, startedAt, "generate_auth_url", err, fields)
	}()

	descriptor, ok := b.catalog.Descriptor(key.ServiceID)
	if !ok {
		return AuthorizationStart{}, b.mapError(NewServiceNotConfiguredError(key.ServiceID))
	}
	entry, err := b.registry.Add(ctx, key.TenantID, key.ServiceID, scope, 0)
	if err != nil {
		return AuthorizationStart{}, b.mapError(err)
	}
	authURL, err := BuildAuthURL(descriptor.AuthorizationURLTemplate, AuthURLParams{
		ClientID:    descriptor.ClientID,
		RedirectURI: b.config.RedirectURI,
		Scope:       scope,
		State:       entry.State,
	})
	if err != nil {
		return AuthorizationStart{}, b.mapError(err)
	}
	return AuthorizationStart{
		URL:       authURL,
		State:     entry.State,
		ServiceID: key.ServiceID,
		TenantID:  key.TenantID,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// GetAccessToken returns a usable access token, refreshing it first when it
// is missing or expired. found is false when no token can be produced.
func (b *Broker) GetAccessToken(ctx context.Context, serviceID string, tenantID string) (string, bool, error) {
	key, err := b.prepare(serviceID, tenantID)
	if err != nil {
		return "", false, err
	}
	if _, ok := b.catalog.Descriptor(key.ServiceID); !ok {
		return "", false, b.mapError(NewServiceNotConfiguredError(key.ServiceID))
	}

	unlock, err := b.locker.Lock(ctx, key.String())
	if err != nil {
		b.logWarn(ctx, "tenant lock not acquired", map[string]any{
			"service_id": key.ServiceID,
			"tenant_id":  key.TenantID,
			"error":      err.Error(),
		})
		return "", false, nil
	}
	defer unlock()

	record, found, err := b.load(ctx, key)
	if err != nil || !found {
		return "", false, err
	}
	state := ResolveCredentialTokenState(b.now(), record)
	if state.Usable() {
		return record.AccessToken, true, nil
	}
	if !state.NeedsRefresh() {
		return "", false, nil
	}

	refreshed, err := b.engine.refreshLocked(ctx, key, record.RefreshToken)
	if err != nil {
		if mustSurface(err) {
			return "", false, b.mapError(err)
		}
		return "", false, nil
	}

	current, found, err := b.load(ctx, key)
	if err == nil && found && ResolveCredentialTokenState(b.now(), current).Usable() {
		return current.AccessToken, true, nil
	}
	return refreshed.AccessToken, refreshed.HasAccessToken(), nil
}

// AccessTokenExpiry returns the stored access token expiry without refreshing.
func (b *Broker) AccessTokenExpiry(ctx context.Context, serviceID string, tenantID string) (time.Time, bool, error) {
	key, err := b.prepare(serviceID, tenantID)
	if err != nil {
		return time.Time{}, false, err
	}
	record, found, err := b.load(ctx, key)
	if err != nil || !found || record.ExpiresAt == nil {
		return time.Time{}, false, err
	}
	return record.ExpiresAt.UTC(), true, nil
}

// RefreshToken returns the stored refresh token.
func (b *Broker) RefreshToken(ctx context.Context, serviceID string, tenantID string) (string, bool, error) {
	key, err := b.prepare(serviceID, tenantID)
	if err != nil {
		return "", false, err
	}
	record, found, err := b.load(ctx, key)
	if err != nil || !found || !record.Linked() {
		return "", false, err
	}
	return record.RefreshToken, true, nil
}

// load reads the stored record. Store failures are logged and reported as
// not found unless they are configuration or usage errors.
func (b *Broker) load(ctx context.Context, key TenantServiceKey) (CredentialRecord, bool, error) {
	record, found, err := b.store.Get(ctx, key.ServiceID, key.TenantID)
	if err != nil {
		if mustSurface(err) {
			return CredentialRecord{}, false, b.mapError(err)
		}
		b.logWarn(ctx, "credential lookup failed", map[string]any{
			"service_id": key.ServiceID,
			"tenant_id":  key.TenantID,
			"error":      err.Error(),
		})
		return CredentialRecord{}, false, nil
	}
	return record, found, nil
}

func (b *Broker) prepare(serviceID string, tenantID string) (TenantServiceKey, error) {
	if err := b.ready(); err != nil {
		return TenantServiceKey{}, err
	}
	key := NewTenantServiceKey(serviceID, tenantID)
	if err := key.Validate(); err != nil {
		return TenantServiceKey{}, b.mapError(err)
	}
	return key, nil
}

func (b *Broker) ready() error {
	if b == nil {
		return NewUsageError(fmt.Errorf("core: broker is nil"), "core: broker is not initialized")
	}
	if b.store == nil {
		return b.mapError(NewUsageError(ErrStoreNotConfigured, "core: credential store is not configured"))
	}
	if b.catalog == nil || b.registry == nil || b.engine == nil || b.poller == nil || b.locker == nil {
		return b.mapError(NewUsageError(fmt.Errorf("core: broker is not initialized"), "core: broker must be built with NewBroker"))
	}
	return nil
}

func (b *Broker) mapError(err error) error {
	if err == nil {
		return nil
	}
	if b == nil || b.errorMapper == nil {
		return err
	}
	mapped := b.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
