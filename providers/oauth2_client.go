package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-oauth-broker/core"
	"golang.org/x/oauth2"
)

const defaultTokenRequestTimeout = 30 * time.Second

// OAuth2ClientConfig configures the token endpoint client.
type OAuth2ClientConfig struct {
	HTTPClient          *http.Client
	TokenRequestTimeout time.Duration
}

// OAuth2Client runs the authorization-code and refresh grants against the
// token endpoint named by each service descriptor. Client credentials are
// sent in the form body.
type OAuth2Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewOAuth2Client(cfg OAuth2ClientConfig) *OAuth2Client {
	timeout := cfg.TokenRequestTimeout
	if timeout <= 0 {
		timeout = defaultTokenRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OAuth2Client{httpClient: httpClient, timeout: timeout}
}

func (c *OAuth2Client) ExchangeCode(
	ctx context.Context,
	descriptor core.ServiceDescriptor,
	code string,
	redirectURI string,
) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenGrant{}, core.NewBadInputError("authorization code is required", "code")
	}
	cfg, err := oauthConfig(descriptor, redirectURI)
	if err != nil {
		return core.TokenGrant{}, err
	}
	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	token, err := cfg.Exchange(requestCtx, code)
	if err != nil {
		return core.TokenGrant{}, tokenEndpointError(descriptor, "authorization_code", err)
	}
	return grantFromToken(token), nil
}

func (c *OAuth2Client) Refresh(
	ctx context.Context,
	descriptor core.ServiceDescriptor,
	refreshToken string,
) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, fmt.Errorf("providers: oauth2 client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenGrant{}, core.NewBadInputError("refresh token is required", "refresh_token")
	}
	cfg, err := oauthConfig(descriptor, "")
	if err != nil {
		return core.TokenGrant{}, err
	}
	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	token, err := cfg.TokenSource(requestCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.TokenGrant{}, tokenEndpointError(descriptor, "refresh_token", err)
	}
	return grantFromToken(token), nil
}

func (c *OAuth2Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func oauthConfig(descriptor core.ServiceDescriptor, redirectURI string) (*oauth2.Config, error) {
	tokenURL := strings.TrimSpace(descriptor.TokenEndpointURL)
	if tokenURL == "" {
		return nil, core.NewConfigurationError(
			"providers: token endpoint url is required",
			map[string]any{"service_id": descriptor.ServiceID},
		)
	}
	return &oauth2.Config{
		ClientID:     strings.TrimSpace(descriptor.ClientID),
		ClientSecret: strings.TrimSpace(descriptor.ClientSecret),
		RedirectURL:  strings.TrimSpace(redirectURI),
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

func grantFromToken(token *oauth2.Token) core.TokenGrant {
	if token == nil {
		return core.TokenGrant{}
	}
	var expiresIn time.Duration
	switch {
	case token.ExpiresIn > 0:
		expiresIn = time.Duration(token.ExpiresIn) * time.Second
	case !token.Expiry.IsZero():
		expiresIn = time.Until(token.Expiry)
	}
	if expiresIn < 0 {
		expiresIn = 0
	}
	return core.TokenGrant{
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		TokenType:    strings.TrimSpace(token.TokenType),
		ExpiresIn:    expiresIn,
	}
}

func tokenEndpointError(descriptor core.ServiceDescriptor, grantType string, err error) error {
	metadata := map[string]any{
		"service_id": descriptor.ServiceID,
		"grant_type": grantType,
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			metadata["status"] = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode != "" {
			metadata["error_code"] = retrieveErr.ErrorCode
		}
		if retrieveErr.ErrorDescription != "" {
			metadata["error_description"] = retrieveErr.ErrorDescription
		}
	}
	return core.NewProviderError(err, "providers: token endpoint request failed", metadata)
}

var _ core.TokenClient = (*OAuth2Client)(nil)
