package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type failingConfigProvider struct{}

func (failingConfigProvider) Load(context.Context, Config) (Config, error) {
	return Config{}, errors.New("config source unavailable")
}

func TestNewBroker_DefaultConfig(t *testing.T) {
	fixture := newTestBroker(t)
	cfg := fixture.broker.Config()
	if cfg.ServiceName != "broker" {
		t.Fatalf("expected default service_name=broker, got %q", cfg.ServiceName)
	}
	if cfg.PollInterval != DefaultPollInterval || cfg.AuthorizationTTL != DefaultAuthorizationTTL {
		t.Fatalf("unexpected poll defaults %s/%s", cfg.PollInterval, cfg.AuthorizationTTL)
	}
	if cfg.Relay.PollFunction != DefaultRelayPollFunction {
		t.Fatalf("expected default relay poll function, got %q", cfg.Relay.PollFunction)
	}
	if cfg.RedirectURI != "https://relay.example.com/redir.html" {
		t.Fatalf("expected runtime redirect uri, got %q", cfg.RedirectURI)
	}
	if fixture.broker.Registry().TTL() != DefaultAuthorizationTTL {
		t.Fatalf("expected registry to use configured ttl")
	}
}

func TestNewBroker_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticConfigLoader(map[string]any{
		"service_name":  "from-config",
		"poll_interval": 2 * time.Second,
		"services": map[string]any{
			"spotify": map[string]any{
				"authorization_url_template": "https://accounts.spotify.com/authorize?client_id={{CLIENT_ID}}&state={{STATE}}",
				"token_endpoint_url":         "https://accounts.spotify.com/api/token",
				"client_id":                  "spotify-client",
				"client_secret":              "spotify-secret",
			},
		},
	}))

	broker, err := NewBroker(Config{ServiceName: "from-runtime"},
		WithConfigProvider(provider),
		WithCredentialStore(newMemoryCredentialStore()),
		WithTokenClient(&stubTokenClient{}),
		WithServices(googleDescriptor()),
	)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}

	cfg := broker.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected config layer poll interval, got %s", cfg.PollInterval)
	}
	if broker.Poller().Interval() != 2*time.Second {
		t.Fatalf("expected poller to use configured interval, got %s", broker.Poller().Interval())
	}
	if got := broker.Services(); !reflect.DeepEqual(got, []string{"google", "spotify"}) {
		t.Fatalf("expected configured and option services, got %v", got)
	}
}

func TestNewBroker_WithXOverrides(t *testing.T) {
	logger := newCaptureLogger()
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	optionsResolver := &fixedOptionsResolver{cfg: Config{ServiceName: "resolved", PollConcurrency: 3}}
	registry := NewAuthorizationRegistry(time.Minute)
	locker := NewKeyedLocker()

	fixture := newTestBroker(t,
		WithLogger(logger),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithErrorMapper(customMapper),
		WithConfigProvider(&fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}),
		WithOptionsResolver(optionsResolver),
		WithAuthorizationRegistry(registry),
		WithTenantLocker(locker),
	)
	broker := fixture.broker

	if got := broker.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}
	if broker.Config().PollInterval != DefaultPollInterval {
		t.Fatalf("expected fallbacks to fill unset values, got %s", broker.Config().PollInterval)
	}
	if broker.Registry() != registry {
		t.Fatalf("expected custom authorization registry override")
	}
	_, err := broker.GenerateAuthURL(context.Background(), "dropbox", "t1", "")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected custom error mapper to run, got %v", err)
	}
}

func TestNewBroker_ConfigProviderFailure(t *testing.T) {
	_, err := NewBroker(Config{},
		WithConfigProvider(failingConfigProvider{}),
		WithCredentialStore(newMemoryCredentialStore()),
		WithTokenClient(&stubTokenClient{}),
	)
	if err == nil {
		t.Fatalf("expected config provider failure to surface")
	}
}

func TestNewBroker_RejectsInvalidConfiguredService(t *testing.T) {
	_, err := NewBroker(Config{Services: map[string]ServiceConfig{
		"broken": {ClientID: "id"},
	}},
		WithCredentialStore(newMemoryCredentialStore()),
		WithTokenClient(&stubTokenClient{}),
	)
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error for incomplete service, got %v", err)
	}
}

func TestNewBroker_RelayFactoryUsesLayeredConfig(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticConfigLoader(map[string]any{
		"token_request_timeout": 7 * time.Second,
		"relay": map[string]any{
			"base_url": "https://relay.from-config.example.com",
		},
	}))
	stub := newStubRelay()
	var relayConfigs []RelayConfig
	var clientConfigs []Config

	broker, err := NewBroker(Config{},
		WithConfigProvider(provider),
		WithCredentialStore(newMemoryCredentialStore()),
		WithServices(googleDescriptor()),
		WithRelayFactory(func(cfg RelayConfig) (Relay, error) {
			relayConfigs = append(relayConfigs, cfg)
			return stub, nil
		}),
		WithTokenClientFactory(func(cfg Config) (TokenClient, error) {
			clientConfigs = append(clientConfigs, cfg)
			return &stubTokenClient{}, nil
		}),
	)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if len(relayConfigs) != 1 || relayConfigs[0].BaseURL != "https://relay.from-config.example.com" {
		t.Fatalf("expected relay built from layered base url, got %#v", relayConfigs)
	}
	if relayConfigs[0].PollFunction != DefaultRelayPollFunction {
		t.Fatalf("expected relay config after fallbacks, got %q", relayConfigs[0].PollFunction)
	}
	if len(clientConfigs) != 1 || clientConfigs[0].TokenRequestTimeout != 7*time.Second {
		t.Fatalf("expected token client built from layered timeout, got %#v", clientConfigs)
	}

	if err := broker.Start(context.Background()); err != nil {
		t.Fatalf("expected poller to start with the configured relay: %v", err)
	}
	<-broker.Stop().Done()
}

func TestNewBroker_RelayFactorySkippedForExplicitRelayOrBlankURL(t *testing.T) {
	calls := 0
	factory := WithRelayFactory(func(RelayConfig) (Relay, error) {
		calls++
		return newStubRelay(), nil
	})

	newTestBroker(t, factory, WithConfigProvider(NewCfgxConfigProvider(StaticConfigLoader(map[string]any{
		"relay": map[string]any{"base_url": "https://relay.example.com"},
	}))))
	if calls != 0 {
		t.Fatalf("expected explicit relay to win over the factory, got %d builds", calls)
	}

	broker, err := NewBroker(Config{Relay: RelayConfig{BaseURL: "  "}},
		factory,
		WithCredentialStore(newMemoryCredentialStore()),
		WithTokenClient(&stubTokenClient{}),
	)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected blank base url to skip the factory, got %d builds", calls)
	}
	if err := broker.Start(context.Background()); err == nil {
		t.Fatalf("expected poller without relay to refuse to start")
	}
}

func TestNewBroker_RelayFactoryFailureSurfaces(t *testing.T) {
	_, err := NewBroker(Config{Relay: RelayConfig{BaseURL: "https://relay.example.com"}},
		WithCredentialStore(newMemoryCredentialStore()),
		WithTokenClient(&stubTokenClient{}),
		WithRelayFactory(func(RelayConfig) (Relay, error) {
			return nil, errors.New("relay unavailable")
		}),
	)
	if !IsConfigurationError(err) {
		t.Fatalf("expected relay factory failure as configuration error, got %v", err)
	}
}

func TestNewBroker_SchedulerLoggerFactoryUsesBrokerLogger(t *testing.T) {
	logger := newCaptureLogger()
	var received []Logger
	factory := WithSchedulerLoggerFactory(func(l Logger) cron.Logger {
		received = append(received, l)
		return cron.DiscardLogger
	})

	newTestBroker(t, WithLogger(logger), factory)
	if len(received) != 1 {
		t.Fatalf("expected one scheduler logger build, got %d", len(received))
	}
	received[0].Info("scheduler tick")
	entries := logger.snapshot()
	if len(entries) == 0 || entries[len(entries)-1].msg != "scheduler tick" {
		t.Fatalf("expected scheduler logger to write through the broker logger, got %#v", entries)
	}

	explicit := cron.DiscardLogger
	received = nil
	newTestBroker(t, WithSchedulerLogger(explicit), factory)
	if len(received) != 0 {
		t.Fatalf("expected explicit scheduler logger to skip the factory")
	}
}
