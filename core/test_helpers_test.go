package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

const testGoogleTemplate = "https://accounts.google.com/o/oauth2/v2/auth?client_id={{CLIENT_ID}}&response_type=code&redirect_uri={{REDIR}}&scope={{SCOPE}}&access_type=offline&state={{STATE}}"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryCredentialStore struct {
	mu       sync.Mutex
	records  map[TenantServiceKey]CredentialRecord
	getCalls int
	setCalls int
	getErr   error
	setErr   error
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{records: map[TenantServiceKey]CredentialRecord{}}
}

func (s *memoryCredentialStore) Get(_ context.Context, serviceID string, tenantID string) (CredentialRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return CredentialRecord{}, false, s.getErr
	}
	record, ok := s.records[NewTenantServiceKey(serviceID, tenantID)]
	return record.Clone(), ok, nil
}

func (s *memoryCredentialStore) Set(_ context.Context, serviceID string, tenantID string, record CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	s.records[NewTenantServiceKey(serviceID, tenantID)] = record.Clone()
	return nil
}

func (s *memoryCredentialStore) record(serviceID string, tenantID string) (CredentialRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[NewTenantServiceKey(serviceID, tenantID)]
	return record, ok
}

func (s *memoryCredentialStore) sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

type stubTokenClient struct {
	mu            sync.Mutex
	exchangeFn    func(descriptor ServiceDescriptor, code string, redirectURI string) (TokenGrant, error)
	refreshFn     func(descriptor ServiceDescriptor, refreshToken string) (TokenGrant, error)
	exchangeCalls int
	refreshCalls  int
	refreshTokens []string
}

func (c *stubTokenClient) ExchangeCode(_ context.Context, descriptor ServiceDescriptor, code string, redirectURI string) (TokenGrant, error) {
	c.mu.Lock()
	c.exchangeCalls++
	fn := c.exchangeFn
	c.mu.Unlock()
	if fn == nil {
		return TokenGrant{}, fmt.Errorf("stub token client: exchange not configured")
	}
	return fn(descriptor, code, redirectURI)
}

func (c *stubTokenClient) Refresh(_ context.Context, descriptor ServiceDescriptor, refreshToken string) (TokenGrant, error) {
	c.mu.Lock()
	c.refreshCalls++
	c.refreshTokens = append(c.refreshTokens, refreshToken)
	fn := c.refreshFn
	c.mu.Unlock()
	if fn == nil {
		return TokenGrant{}, fmt.Errorf("stub token client: refresh not configured")
	}
	return fn(descriptor, refreshToken)
}

func (c *stubTokenClient) calls() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchangeCalls, c.refreshCalls
}

type stubRelay struct {
	mu    sync.Mutex
	codes map[string]string
	errs  map[string]error
	polls map[string]int
}

func newStubRelay() *stubRelay {
	return &stubRelay{
		codes: map[string]string{},
		errs:  map[string]error{},
		polls: map[string]int{},
	}
}

func (r *stubRelay) Poll(_ context.Context, state string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[state]++
	if err := r.errs[state]; err != nil {
		return "", false, err
	}
	code, ok := r.codes[state]
	return code, ok, nil
}

func (r *stubRelay) deliver(state string, code string) {
	r.mu.Lock()
	r.codes[state] = code
	r.mu.Unlock()
}

func (r *stubRelay) fail(state string, err error) {
	r.mu.Lock()
	r.errs[state] = err
	r.mu.Unlock()
}

func (r *stubRelay) pollCount(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[state]
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	raw := string(ciphertext)
	if !strings.HasPrefix(raw, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "enc:"))
}

func googleDescriptor() ServiceDescriptor {
	return ServiceDescriptor{
		ServiceID:                "google",
		AuthorizationURLTemplate: testGoogleTemplate,
		TokenEndpointURL:         "https://oauth2.googleapis.com/token",
		ClientID:                 "client-123",
		ClientSecret:             "secret-456",
	}
}

type testBrokerFixture struct {
	broker *Broker
	store  *memoryCredentialStore
	client *stubTokenClient
	relay  *stubRelay
	clock  *testClock
}

func newTestBroker(t *testing.T, opts ...Option) testBrokerFixture {
	t.Helper()
	fixture := testBrokerFixture{
		store:  newMemoryCredentialStore(),
		client: &stubTokenClient{},
		relay:  newStubRelay(),
		clock:  newTestClock(),
	}
	base := []Option{
		WithCredentialStore(fixture.store),
		WithTokenClient(fixture.client),
		WithRelay(fixture.relay),
		WithClock(fixture.clock.Now),
		WithServices(googleDescriptor()),
	}
	broker, err := NewBroker(Config{RedirectURI: "https://relay.example.com/redir.html"}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	fixture.broker = broker
	return fixture
}
