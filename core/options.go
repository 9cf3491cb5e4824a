package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/robfig/cron/v3"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type brokerBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	credentialStore CredentialStore
	relay           Relay
	tokenClient     TokenClient
	services        []ServiceDescriptor
	clock           Clock
	registry        *AuthorizationRegistry
	locker          *KeyedLocker
	linkObserver    LinkObserver
	schedulerLogger cron.Logger

	relayFactory           func(RelayConfig) (Relay, error)
	tokenClientFactory     func(Config) (TokenClient, error)
	schedulerLoggerFactory func(Logger) cron.Logger
}

type Option func(*brokerBuilder)

func WithLogger(logger Logger) Option {
	return func(b *brokerBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *brokerBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *brokerBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *brokerBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *brokerBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *brokerBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *brokerBuilder) {
		b.credentialStore = store
	}
}

// WithStoreHandlers installs a get/set callback pair as the credential store.
func WithStoreHandlers(
	get func(ctx context.Context, serviceID string, tenantID string) (CredentialRecord, bool, error),
	set func(ctx context.Context, serviceID string, tenantID string, record CredentialRecord) error,
) Option {
	return func(b *brokerBuilder) {
		if get == nil && set == nil {
			return
		}
		b.credentialStore = CredentialStoreFuncs{GetFn: get, SetFn: set}
	}
}

func WithRelay(relay Relay) Option {
	return func(b *brokerBuilder) {
		b.relay = relay
	}
}

func WithTokenClient(client TokenClient) Option {
	return func(b *brokerBuilder) {
		b.tokenClient = client
	}
}

// WithServices registers descriptors in addition to the configured services.
func WithServices(descriptors ...ServiceDescriptor) Option {
	return func(b *brokerBuilder) {
		b.services = append(b.services, descriptors...)
	}
}

func WithClock(clock Clock) Option {
	return func(b *brokerBuilder) {
		b.clock = clock
	}
}

func WithAuthorizationRegistry(registry *AuthorizationRegistry) Option {
	return func(b *brokerBuilder) {
		b.registry = registry
	}
}

func WithTenantLocker(locker *KeyedLocker) Option {
	return func(b *brokerBuilder) {
		b.locker = locker
	}
}

func WithLinkObserver(observer LinkObserver) Option {
	return func(b *brokerBuilder) {
		b.linkObserver = observer
	}
}

// WithSchedulerLogger routes poller scheduler logs to logger.
func WithSchedulerLogger(logger cron.Logger) Option {
	return func(b *brokerBuilder) {
		b.schedulerLogger = logger
	}
}

// WithRelayFactory builds the relay from the resolved relay configuration when
// no relay was given with WithRelay and a base URL is configured.
func WithRelayFactory(factory func(RelayConfig) (Relay, error)) Option {
	return func(b *brokerBuilder) {
		b.relayFactory = factory
	}
}

// WithTokenClientFactory builds the token client from the resolved
// configuration when none was given with WithTokenClient.
func WithTokenClientFactory(factory func(Config) (TokenClient, error)) Option {
	return func(b *brokerBuilder) {
		b.tokenClientFactory = factory
	}
}

// WithSchedulerLoggerFactory adapts the broker's "broker.scheduler" logger for
// the poller scheduler when WithSchedulerLogger is not given.
func WithSchedulerLoggerFactory(factory func(Logger) cron.Logger) Option {
	return func(b *brokerBuilder) {
		b.schedulerLoggerFactory = factory
	}
}

func defaultBrokerBuilder(runtime Config) brokerBuilder {
	loggerProvider, logger := glog.Resolve("broker", nil, nil)
	return brokerBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           systemClock,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return brokerErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw configuration map.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.RedirectURI) != "" {
		layer["redirect_uri"] = cfg.RedirectURI
	}
	if includeZero || cfg.PollInterval > 0 {
		layer["poll_interval"] = cfg.PollInterval
	}
	if includeZero || cfg.AuthorizationTTL > 0 {
		layer["authorization_ttl"] = cfg.AuthorizationTTL
	}
	if includeZero || cfg.PollConcurrency > 0 {
		layer["poll_concurrency"] = cfg.PollConcurrency
	}
	if includeZero || cfg.DefaultTokenTTL > 0 {
		layer["default_token_ttl"] = cfg.DefaultTokenTTL
	}
	if includeZero || cfg.TokenRequestTimeout > 0 {
		layer["token_request_timeout"] = cfg.TokenRequestTimeout
	}

	relay := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Relay.BaseURL) != "" {
		relay["base_url"] = cfg.Relay.BaseURL
	}
	if includeZero || strings.TrimSpace(cfg.Relay.PollFunction) != "" {
		relay["poll_function"] = cfg.Relay.PollFunction
	}
	if includeZero || strings.TrimSpace(cfg.Relay.CreateFunction) != "" {
		relay["create_function"] = cfg.Relay.CreateFunction
	}
	if includeZero || cfg.Relay.Timeout > 0 {
		relay["timeout"] = cfg.Relay.Timeout
	}
	if len(relay) > 0 {
		layer["relay"] = relay
	}

	if includeZero || len(cfg.Services) > 0 {
		services := make(map[string]any, len(cfg.Services))
		for id, svc := range cfg.Services {
			services[id] = map[string]any{
				"authorization_url_template": svc.AuthorizationURLTemplate,
				"token_endpoint_url":         svc.TokenEndpointURL,
				"client_id":                  svc.ClientID,
				"client_secret":              svc.ClientSecret,
			}
		}
		layer["services"] = services
	}
	return layer
}
