package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollInterval        = 5 * time.Second
	DefaultAuthorizationTTL    = 5 * time.Minute
	DefaultPollConcurrency     = 8
	DefaultTokenTTL            = time.Hour
	DefaultTokenRequestTimeout = 30 * time.Second
	DefaultRelayTimeout        = 10 * time.Second
	DefaultRelayPollFunction   = "pollForAuthResult"
	DefaultRelayCreateFunction = "createAuthResult"
)

type RelayConfig struct {
	BaseURL        string        `koanf:"base_url" mapstructure:"base_url"`
	PollFunction   string        `koanf:"poll_function" mapstructure:"poll_function"`
	CreateFunction string        `koanf:"create_function" mapstructure:"create_function"`
	Timeout        time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type ServiceConfig struct {
	AuthorizationURLTemplate string `koanf:"authorization_url_template" mapstructure:"authorization_url_template"`
	TokenEndpointURL         string `koanf:"token_endpoint_url" mapstructure:"token_endpoint_url"`
	ClientID                 string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret             string `koanf:"client_secret" mapstructure:"client_secret"`
}

type Config struct {
	ServiceName         string                   `koanf:"service_name" mapstructure:"service_name"`
	RedirectURI         string                   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	PollInterval        time.Duration            `koanf:"poll_interval" mapstructure:"poll_interval"`
	AuthorizationTTL    time.Duration            `koanf:"authorization_ttl" mapstructure:"authorization_ttl"`
	PollConcurrency     int                      `koanf:"poll_concurrency" mapstructure:"poll_concurrency"`
	DefaultTokenTTL     time.Duration            `koanf:"default_token_ttl" mapstructure:"default_token_ttl"`
	TokenRequestTimeout time.Duration            `koanf:"token_request_timeout" mapstructure:"token_request_timeout"`
	Relay               RelayConfig              `koanf:"relay" mapstructure:"relay"`
	Services            map[string]ServiceConfig `koanf:"services" mapstructure:"services"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:         "broker",
		PollInterval:        DefaultPollInterval,
		AuthorizationTTL:    DefaultAuthorizationTTL,
		PollConcurrency:     DefaultPollConcurrency,
		DefaultTokenTTL:     DefaultTokenTTL,
		TokenRequestTimeout: DefaultTokenRequestTimeout,
		Relay: RelayConfig{
			PollFunction:   DefaultRelayPollFunction,
			CreateFunction: DefaultRelayCreateFunction,
			Timeout:        DefaultRelayTimeout,
		},
		Services: map[string]ServiceConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("core: poll_interval must not be negative")
	}
	if c.AuthorizationTTL < 0 {
		return fmt.Errorf("core: authorization_ttl must not be negative")
	}
	if c.PollConcurrency < 0 {
		return fmt.Errorf("core: poll_concurrency must not be negative")
	}
	return nil
}

// Descriptors converts the configured services into descriptors sorted by id.
func (c Config) Descriptors() []ServiceDescriptor {
	ids := sortedKeys(c.Services)
	out := make([]ServiceDescriptor, 0, len(ids))
	for _, id := range ids {
		svc := c.Services[id]
		out = append(out, ServiceDescriptor{
			ServiceID:                strings.TrimSpace(id),
			AuthorizationURLTemplate: strings.TrimSpace(svc.AuthorizationURLTemplate),
			TokenEndpointURL:         strings.TrimSpace(svc.TokenEndpointURL),
			ClientID:                 strings.TrimSpace(svc.ClientID),
			ClientSecret:             strings.TrimSpace(svc.ClientSecret),
		})
	}
	return out
}

func (c Config) withFallbacks() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.AuthorizationTTL <= 0 {
		c.AuthorizationTTL = defaults.AuthorizationTTL
	}
	if c.PollConcurrency <= 0 {
		c.PollConcurrency = defaults.PollConcurrency
	}
	if c.DefaultTokenTTL <= 0 {
		c.DefaultTokenTTL = defaults.DefaultTokenTTL
	}
	if c.TokenRequestTimeout <= 0 {
		c.TokenRequestTimeout = defaults.TokenRequestTimeout
	}
	if strings.TrimSpace(c.Relay.PollFunction) == "" {
		c.Relay.PollFunction = defaults.Relay.PollFunction
	}
	if strings.TrimSpace(c.Relay.CreateFunction) == "" {
		c.Relay.CreateFunction = defaults.Relay.CreateFunction
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = defaults.Relay.Timeout
	}
	if c.Services == nil {
		c.Services = map[string]ServiceConfig{}
	}
	return c
}
