package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-oauth-broker/core"
	"github.com/goliatone/go-oauth-broker/transport"
)

// NotFoundMessage is the relay answer for a state with no stored code yet.
const NotFoundMessage = "No auth result found"

type Config struct {
	BaseURL        string
	PollFunction   string
	CreateFunction string
	Timeout        time.Duration
	HTTPClient     transport.HTTPDoer
}

// Client calls the relay's callable functions over HTTP. Requests are
// {"data": {...}} envelopes and answers arrive as {"result": {...}}.
type Client struct {
	adapter        *transport.RESTAdapter
	baseURL        string
	pollFunction   string
	createFunction string
	timeout        time.Duration
}

type callEnvelope struct {
	Data any `json:"data"`
}

type resultEnvelope struct {
	Result *callResult `json:"result"`
	Error  *callError  `json:"error"`
}

type callResult struct {
	Code    string `json:"code"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type callError struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, core.NewConfigurationError("relay: base url is required", nil)
	}
	pollFunction := strings.Trim(strings.TrimSpace(cfg.PollFunction), "/")
	if pollFunction == "" {
		pollFunction = core.DefaultRelayPollFunction
	}
	createFunction := strings.Trim(strings.TrimSpace(cfg.CreateFunction), "/")
	if createFunction == "" {
		createFunction = core.DefaultRelayCreateFunction
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = core.DefaultRelayTimeout
	}
	return &Client{
		adapter:        transport.NewRESTAdapter(cfg.HTTPClient),
		baseURL:        baseURL,
		pollFunction:   pollFunction,
		createFunction: createFunction,
		timeout:        timeout,
	}, nil
}

// Poll asks the relay for the code stored under state. found is false while
// the user has not completed consent.
func (c *Client) Poll(ctx context.Context, state string) (string, bool, error) {
	if c == nil {
		return "", false, fmt.Errorf("relay: client is nil")
	}
	if err := ValidateState(state); err != nil {
		return "", false, err
	}
	result, err := c.call(ctx, c.pollFunction, map[string]string{"state": state})
	if err != nil {
		return "", false, err
	}
	if message := strings.TrimSpace(result.Error); message != "" {
		if message == NotFoundMessage {
			return "", false, nil
		}
		return "", false, core.NewRelayError(
			fmt.Errorf("relay: %s", message),
			"relay: poll returned an error",
			map[string]any{"function": c.pollFunction},
		)
	}
	code := strings.TrimSpace(result.Code)
	if code == "" {
		return "", false, nil
	}
	return code, true, nil
}

// Create deposits code under state, the way the redirect page does.
func (c *Client) Create(ctx context.Context, state string, code string) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("relay: client is nil")
	}
	if err := ValidateState(state); err != nil {
		return false, err
	}
	if strings.TrimSpace(code) == "" {
		return false, core.NewBadInputError("authorization code is required", "code")
	}
	result, err := c.call(ctx, c.createFunction, map[string]string{"state": state, "code": code})
	if err != nil {
		return false, err
	}
	if message := strings.TrimSpace(result.Error); message != "" {
		return false, core.NewRelayError(
			fmt.Errorf("relay: %s", message),
			"relay: create returned an error",
			map[string]any{"function": c.createFunction},
		)
	}
	return result.Success, nil
}

func (c *Client) call(ctx context.Context, function string, data any) (callResult, error) {
	metadata := map[string]any{"function": function}
	res, err := c.adapter.PostJSON(ctx, c.baseURL+"/"+function, callEnvelope{Data: data}, c.timeout)
	if err != nil {
		return callResult{}, core.NewRelayError(err, "relay: request failed", metadata)
	}
	var envelope resultEnvelope
	if len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, &envelope); err != nil && res.OK() {
			return callResult{}, core.NewRelayError(err, "relay: decode response", metadata)
		}
	}
	if !res.OK() {
		metadata["status"] = res.StatusCode
		message := http.StatusText(res.StatusCode)
		if envelope.Error != nil && strings.TrimSpace(envelope.Error.Message) != "" {
			message = strings.TrimSpace(envelope.Error.Message)
		}
		return callResult{}, core.NewRelayError(fmt.Errorf("relay: %s", message), "relay: unexpected status", metadata)
	}
	if envelope.Result == nil {
		return callResult{}, nil
	}
	return *envelope.Result, nil
}

// ValidateState rejects states the relay cannot store as a single key.
func ValidateState(state string) error {
	if strings.TrimSpace(state) == "" {
		return core.NewBadInputError("state is required", "state")
	}
	if strings.Contains(state, "/") {
		return core.NewBadInputError("state must not contain a path separator", "state")
	}
	return nil
}

var _ core.Relay = (*Client)(nil)

// NewClientFromConfig builds a client from the broker relay section.
func NewClientFromConfig(cfg core.RelayConfig, httpClient transport.HTTPDoer) (*Client, error) {
	return NewClient(Config{
		BaseURL:        cfg.BaseURL,
		PollFunction:   cfg.PollFunction,
		CreateFunction: cfg.CreateFunction,
		Timeout:        cfg.Timeout,
		HTTPClient:     httpClient,
	})
}
