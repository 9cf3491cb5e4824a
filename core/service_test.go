package core

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBroker_ExchangeThenServeAccessToken(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)
	fixture.client.exchangeFn = func(ServiceDescriptor, string, string) (TokenGrant, error) {
		return TokenGrant{AccessToken: "xyz", RefreshToken: "abc", TokenType: "Bearer", ExpiresIn: 3600 * time.Second}, nil
	}

	if _, err := fixture.broker.Engine().ExchangeCode(ctx, "google", "12345", "code-1"); err != nil {
		t.Fatalf("exchange code: %v", err)
	}

	token, found, err := fixture.broker.GetAccessToken(ctx, "google", "12345")
	if err != nil || !found || token != "xyz" {
		t.Fatalf("expected xyz, got %q found=%v err=%v", token, found, err)
	}
	linked, err := fixture.broker.IsLinked(ctx, "google", "12345")
	if err != nil || !linked {
		t.Fatalf("expected linked tenant, got %v err=%v", linked, err)
	}
	if _, refreshes := fixture.client.calls(); refreshes != 0 {
		t.Fatalf("expected no refresh for a fresh token, got %d", refreshes)
	}
}

func TestBroker_RefreshesExpiredTokenAndKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)
	fixture.client.exchangeFn = func(ServiceDescriptor, string, string) (TokenGrant, error) {
		return TokenGrant{AccessToken: "xyz", RefreshToken: "abc", ExpiresIn: 3600 * time.Second}, nil
	}
	fixture.client.refreshFn = func(_ ServiceDescriptor, refreshToken string) (TokenGrant, error) {
		if refreshToken != "abc" {
			t.Fatalf("expected refresh with abc, got %q", refreshToken)
		}
		return TokenGrant{AccessToken: "xyz2", ExpiresIn: 3600 * time.Second}, nil
	}
	if _, err := fixture.broker.Engine().ExchangeCode(ctx, "google", "12345", "code-1"); err != nil {
		t.Fatalf("exchange code: %v", err)
	}

	fixture.clock.Advance(3601 * time.Second)
	token, found, err := fixture.broker.GetAccessToken(ctx, "google", "12345")
	if err != nil || !found || token != "xyz2" {
		t.Fatalf("expected refreshed xyz2, got %q found=%v err=%v", token, found, err)
	}
	stored, _ := fixture.store.record("google", "12345")
	if stored.RefreshToken != "abc" {
		t.Fatalf("expected refresh token abc to survive, got %q", stored.RefreshToken)
	}
	refreshToken, found, err := fixture.broker.RefreshToken(ctx, "google", "12345")
	if err != nil || !found || refreshToken != "abc" {
		t.Fatalf("unexpected refresh token %q found=%v err=%v", refreshToken, found, err)
	}
	expiry, found, err := fixture.broker.AccessTokenExpiry(ctx, "google", "12345")
	if err != nil || !found || !expiry.Equal(fixture.clock.Now().Add(3600*time.Second)) {
		t.Fatalf("unexpected expiry %s found=%v err=%v", expiry, found, err)
	}
}

func TestBroker_ExpiryAtNowTriggersRefresh(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)
	now := fixture.clock.Now()
	fixture.store.records[NewTenantServiceKey("google", "t1")] = CredentialRecord{
		RefreshToken: "abc",
		AccessToken:  "stale",
		ExpiresAt:    &now,
	}
	fixture.client.refreshFn = func(ServiceDescriptor, string) (TokenGrant, error) {
		return TokenGrant{AccessToken: "fresh", ExpiresIn: time.Hour}, nil
	}

	token, found, err := fixture.broker.GetAccessToken(ctx, "google", "t1")
	if err != nil || !found || token != "fresh" {
		t.Fatalf("expected refresh at the expiry instant, got %q found=%v err=%v", token, found, err)
	}
}

func TestBroker_UnlinkedTenantMakesNoNetworkCalls(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)

	token, found, err := fixture.broker.GetAccessToken(ctx, "google", "nobody")
	if err != nil || found || token != "" {
		t.Fatalf("expected no token, got %q found=%v err=%v", token, found, err)
	}
	linked, err := fixture.broker.IsLinked(ctx, "google", "nobody")
	if err != nil || linked {
		t.Fatalf("expected unlinked tenant, got %v err=%v", linked, err)
	}
	exchanges, refreshes := fixture.client.calls()
	if exchanges != 0 || refreshes != 0 {
		t.Fatalf("expected no token endpoint calls, got %d/%d", exchanges, refreshes)
	}
}

func TestBroker_ProviderFailureReportsNoToken(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)
	past := fixture.clock.Now().Add(-time.Minute)
	fixture.store.records[NewTenantServiceKey("google", "t1")] = CredentialRecord{
		RefreshToken: "revoked",
		AccessToken:  "old",
		ExpiresAt:    &past,
	}
	fixture.client.refreshFn = func(ServiceDescriptor, string) (TokenGrant, error) {
		return TokenGrant{}, errors.New("invalid_grant")
	}

	token, found, err := fixture.broker.GetAccessToken(ctx, "google", "t1")
	if err != nil || found || token != "" {
		t.Fatalf("expected swallowed provider failure, got %q found=%v err=%v", token, found, err)
	}
	stored, _ := fixture.store.record("google", "t1")
	if stored.AccessToken != "old" || stored.RefreshToken != "revoked" {
		t.Fatalf("expected store untouched after provider failure, got %#v", stored)
	}
}

func TestBroker_StoreFailureReportsNoToken(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)
	fixture.store.getErr = errors.New("connection reset")

	token, found, err := fixture.broker.GetAccessToken(ctx, "google", "t1")
	if err != nil || found || token != "" {
		t.Fatalf("expected swallowed store failure, got %q found=%v err=%v", token, found, err)
	}
	linked, err := fixture.broker.IsLinked(ctx, "google", "t1")
	if err != nil || linked {
		t.Fatalf("expected unlinked on store failure, got %v err=%v", linked, err)
	}
}

func TestBroker_ConcurrentRequestsRefreshOnce(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)
	past := fixture.clock.Now().Add(-time.Minute)
	fixture.store.records[NewTenantServiceKey("google", "t1")] = CredentialRecord{
		RefreshToken: "abc",
		AccessToken:  "old",
		ExpiresAt:    &past,
	}
	fixture.client.refreshFn = func(ServiceDescriptor, string) (TokenGrant, error) {
		time.Sleep(20 * time.Millisecond)
		return TokenGrant{AccessToken: "fresh", ExpiresIn: time.Hour}, nil
	}

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			token, _, _ := fixture.broker.GetAccessToken(ctx, "google", "t1")
			tokens[index] = token
		}(i)
	}
	wg.Wait()

	if _, refreshes := fixture.client.calls(); refreshes != 1 {
		t.Fatalf("expected a single refresh, got %d", refreshes)
	}
	for i, token := range tokens {
		if token != "fresh" {
			t.Fatalf("caller %d got %q", i, token)
		}
	}
}

func TestBroker_GenerateAuthURLRegistersPendingAuthorization(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)

	started, err := fixture.broker.BeginAuthorization(ctx, "google", "12345", "email profile")
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	parsed, err := url.Parse(started.URL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("client_id") != "client-123" || query.Get("state") != started.State {
		t.Fatalf("unexpected auth url %s", started.URL)
	}
	if query.Get("redirect_uri") != "https://relay.example.com/redir.html" || query.Get("scope") != "email profile" {
		t.Fatalf("unexpected redirect or scope in %s", started.URL)
	}
	if !strings.Contains(started.URL, "scope=email%20profile") {
		t.Fatalf("expected %%20 encoded scope, got %s", started.URL)
	}
	pending := fixture.broker.Registry().Pending(fixture.clock.Now())
	if len(pending) != 1 || pending[0].TenantID != "12345" || pending[0].ServiceID != "google" {
		t.Fatalf("expected one pending authorization, got %#v", pending)
	}

	second, err := fixture.broker.GenerateAuthURL(ctx, "google", "12345", "email")
	if err != nil {
		t.Fatalf("generate auth url: %v", err)
	}
	if second == started.URL || fixture.broker.Registry().Len() != 2 {
		t.Fatalf("expected independent authorization attempts")
	}
}

func TestBroker_RelayCodeCompletesLink(t *testing.T) {
	ctx := context.Background()
	var events []LinkCompletionEvent
	fixture := newTestBroker(t, WithLinkObserver(func(event LinkCompletionEvent) {
		events = append(events, event)
	}))
	fixture.client.exchangeFn = func(_ ServiceDescriptor, code string, _ string) (TokenGrant, error) {
		if code != "relay-code" {
			t.Fatalf("unexpected code %q", code)
		}
		return TokenGrant{AccessToken: "xyz", RefreshToken: "abc", ExpiresIn: time.Hour}, nil
	}

	started, err := fixture.broker.BeginAuthorization(ctx, "google", "12345", "email")
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	fixture.relay.deliver(started.State, "relay-code")

	result := fixture.broker.Poller().Tick(ctx)
	if result.Exchanged != 1 {
		t.Fatalf("expected one exchange, got %#v", result)
	}
	if len(events) != 1 || events[0].TenantID != "12345" {
		t.Fatalf("expected one link event, got %#v", events)
	}
	linked, err := fixture.broker.IsLinked(ctx, "google", "12345")
	if err != nil || !linked {
		t.Fatalf("expected linked after relay completion, got %v err=%v", linked, err)
	}
}

func TestBroker_UnknownServiceIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	fixture := newTestBroker(t)

	if _, err := fixture.broker.GenerateAuthURL(ctx, "dropbox", "t1", ""); !IsConfigurationError(err) {
		t.Fatalf("expected configuration error from generate auth url, got %v", err)
	}
	if _, _, err := fixture.broker.GetAccessToken(ctx, "dropbox", "t1"); !IsConfigurationError(err) {
		t.Fatalf("expected configuration error from get access token, got %v", err)
	}
}

func TestBroker_UsageErrors(t *testing.T) {
	ctx := context.Background()
	var broker *Broker
	if _, err := broker.IsLinked(ctx, "google", "t1"); !IsUsageError(err) {
		t.Fatalf("expected usage error for nil broker, got %v", err)
	}
	if _, _, err := (&Broker{}).GetAccessToken(ctx, "google", "t1"); !IsUsageError(err) {
		t.Fatalf("expected usage error for unbuilt broker, got %v", err)
	}

	_, err := NewBroker(Config{}, WithTokenClient(&stubTokenClient{}))
	if !IsUsageError(err) {
		t.Fatalf("expected usage error without a store, got %v", err)
	}
	_, err = NewBroker(Config{}, WithCredentialStore(newMemoryCredentialStore()))
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error without a token client, got %v", err)
	}
}

func TestBroker_StoreHandlersSurfaceMissingCallbacks(t *testing.T) {
	ctx := context.Background()
	records := map[string]CredentialRecord{}
	fixture := newTestBroker(t, WithStoreHandlers(
		func(_ context.Context, serviceID string, tenantID string) (CredentialRecord, bool, error) {
			record, ok := records[tenantID+"/"+serviceID]
			return record, ok, nil
		},
		nil,
	))
	fixture.client.exchangeFn = func(ServiceDescriptor, string, string) (TokenGrant, error) {
		return TokenGrant{AccessToken: "a", RefreshToken: "r", ExpiresIn: time.Hour}, nil
	}

	if linked, err := fixture.broker.IsLinked(ctx, "google", "t1"); err != nil || linked {
		t.Fatalf("expected get handler to serve lookups, got %v err=%v", linked, err)
	}
	if _, err := fixture.broker.Engine().ExchangeCode(ctx, "google", "t1", "code"); !IsUsageError(err) {
		t.Fatalf("expected missing set handler to surface as usage error, got %v", err)
	}
}

func TestBroker_StartRequiresRelay(t *testing.T) {
	fixture := newTestBroker(t, WithRelay(nil))
	if err := fixture.broker.Start(context.Background()); !IsConfigurationError(err) {
		t.Fatalf("expected configuration error without relay, got %v", err)
	}
	<-fixture.broker.Stop().Done()
}

func TestBroker_InvalidKeyIsBadInput(t *testing.T) {
	fixture := newTestBroker(t)
	_, _, err := fixture.broker.GetAccessToken(context.Background(), "google", " ")
	if err == nil || !hasTextCode(err, BrokerErrorBadInput) {
		t.Fatalf("expected bad input error, got %v", err)
	}
}
