package broker

import (
	"github.com/goliatone/go-oauth-broker/adapters/gologger"
	"github.com/goliatone/go-oauth-broker/core"
	"github.com/goliatone/go-oauth-broker/providers"
	"github.com/goliatone/go-oauth-broker/relay"
)

type Config = core.Config
type RelayConfig = core.RelayConfig
type ServiceConfig = core.ServiceConfig

type Option = core.Option

type Broker = core.Broker

type AuthorizationStart = core.AuthorizationStart
type CredentialRecord = core.CredentialRecord
type ServiceDescriptor = core.ServiceDescriptor
type TokenGrant = core.TokenGrant
type LinkCompletionEvent = core.LinkCompletionEvent
type LinkObserver = core.LinkObserver

type CredentialStore = core.CredentialStore
type Relay = core.Relay
type TokenClient = core.TokenClient

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorMapper           = core.WithErrorMapper
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithCredentialStore       = core.WithCredentialStore
	WithStoreHandlers         = core.WithStoreHandlers
	WithRelay                 = core.WithRelay
	WithTokenClient           = core.WithTokenClient
	WithServices              = core.WithServices
	WithClock                 = core.WithClock
	WithAuthorizationRegistry = core.WithAuthorizationRegistry
	WithTenantLocker          = core.WithTenantLocker
	WithLinkObserver          = core.WithLinkObserver
	WithSchedulerLogger       = core.WithSchedulerLogger
	WithRelayFactory          = core.WithRelayFactory
	WithTokenClientFactory    = core.WithTokenClientFactory
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// New builds a broker whose token client, relay client and scheduler logger
// are derived from the configuration after layering and from the broker's
// logger provider. The relay client is only built when relay.base_url is set.
// Options passed by the caller replace any of these.
func New(cfg Config, opts ...Option) (*Broker, error) {
	return core.NewBroker(cfg, append(defaultOptions(), opts...)...)
}

func defaultOptions() []Option {
	return []Option{
		core.WithTokenClientFactory(func(cfg Config) (TokenClient, error) {
			return providers.NewOAuth2Client(providers.OAuth2ClientConfig{
				TokenRequestTimeout: cfg.TokenRequestTimeout,
			}), nil
		}),
		core.WithRelayFactory(func(cfg RelayConfig) (Relay, error) {
			client, err := relay.NewClientFromConfig(cfg, nil)
			if err != nil {
				return nil, err
			}
			return client, nil
		}),
		core.WithSchedulerLoggerFactory(gologger.ToCronLogger),
	}
}
