package documentstore

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-oauth-broker/core"
)

type countingBackend struct {
	*MemoryBackend
	mu         sync.Mutex
	loadCalls  int
	mergeCalls int
	loadErr    error
	mergeErr   error
}

func newCountingBackend() *countingBackend {
	return &countingBackend{MemoryBackend: NewMemoryBackend()}
}

func (b *countingBackend) Load(ctx context.Context, collection string, tenantID string) (map[string]core.PersistedCredential, bool, error) {
	b.mu.Lock()
	b.loadCalls++
	err := b.loadErr
	b.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return b.MemoryBackend.Load(ctx, collection, tenantID)
}

func (b *countingBackend) Merge(ctx context.Context, collection string, tenantID string, serviceID string, credential core.PersistedCredential) error {
	b.mu.Lock()
	b.mergeCalls++
	err := b.mergeErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBackend.Merge(ctx, collection, tenantID, serviceID, credential)
}

func (b *countingBackend) loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadCalls
}

func newTestCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	service, err := repositorycache.NewCacheService(DefaultCacheConfig())
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func newTestStore(t *testing.T, backend Backend, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithCache(newTestCacheService(t))}, opts...)
	store, err := New(backend, "users", opts...)
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	return store
}

func TestStore_GetCachesMissingDocument(t *testing.T) {
	backend := newCountingBackend()
	store := newTestStore(t, backend)
	ctx := context.Background()

	for range 3 {
		if _, found, err := store.Get(ctx, "google", "12345"); err != nil || found {
			t.Fatalf("expected not found, found=%v err=%v", found, err)
		}
	}
	if backend.loads() != 1 {
		t.Fatalf("expected missing document to be cached after first load, got %d loads", backend.loads())
	}
}

func TestStore_SetMergesAndRefreshesCache(t *testing.T) {
	backend := newCountingBackend()
	store := newTestStore(t, backend)
	ctx := context.Background()
	expiry := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, found, _ := store.Get(ctx, "google", "12345"); found {
		t.Fatalf("expected empty store")
	}
	if err := store.Set(ctx, "google", "12345", core.CredentialRecord{RefreshToken: "abc", AccessToken: "xyz", ExpiresAt: &expiry}); err != nil {
		t.Fatalf("set google: %v", err)
	}
	if err := store.Set(ctx, "spotify", "12345", core.CredentialRecord{RefreshToken: "s"}); err != nil {
		t.Fatalf("set spotify: %v", err)
	}

	record, found, err := store.Get(ctx, "google", "12345")
	if err != nil || !found {
		t.Fatalf("expected google record after set, found=%v err=%v", found, err)
	}
	if record.AccessToken != "xyz" || !record.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected record %#v", record)
	}
	if _, found, _ := store.Get(ctx, "spotify", "12345"); !found {
		t.Fatalf("expected merge to keep sibling services")
	}

	document, _, _ := backend.MemoryBackend.Load(ctx, "users", "12345")
	if document["google"].ExpiryDate != "2000-01-01T00:00:00.000Z" {
		t.Fatalf("unexpected persisted expiry %q", document["google"].ExpiryDate)
	}
}

func TestStore_SetServesWrittenRecordWhenBackendReadsFail(t *testing.T) {
	backend := newCountingBackend()
	store := newTestStore(t, backend)
	ctx := context.Background()
	expiry := time.Date(2024, 1, 2, 4, 4, 5, 0, time.UTC)

	if _, found, _ := store.Get(ctx, "google", "12345"); found {
		t.Fatalf("expected empty store")
	}
	if err := store.Set(ctx, "google", "12345", core.CredentialRecord{RefreshToken: "abc", AccessToken: "xyz", ExpiresAt: &expiry}); err != nil {
		t.Fatalf("set: %v", err)
	}

	backend.mu.Lock()
	backend.loadErr = errors.New("backend unavailable")
	backend.mu.Unlock()
	loadsBefore := backend.loads()

	record, found, err := store.Get(ctx, "google", "12345")
	if err != nil || !found {
		t.Fatalf("expected written record from cache, found=%v err=%v", found, err)
	}
	if record.RefreshToken != "abc" || record.AccessToken != "xyz" {
		t.Fatalf("unexpected record %#v", record)
	}
	if backend.loads() != loadsBefore {
		t.Fatalf("expected get after set to be served from cache, loads %d -> %d", loadsBefore, backend.loads())
	}
}

func TestStore_SetWithoutCachedDocumentKeepsSiblings(t *testing.T) {
	backend := newCountingBackend()
	ctx := context.Background()
	if err := backend.MemoryBackend.Merge(ctx, "users", "12345", "spotify", core.PersistedCredential{RefreshToken: "s"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := newTestStore(t, backend)

	if err := store.Set(ctx, "google", "12345", core.CredentialRecord{RefreshToken: "abc"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	backend.mu.Lock()
	backend.loadErr = errors.New("backend unavailable")
	backend.mu.Unlock()

	if _, found, _ := store.Get(ctx, "spotify", "12345"); !found {
		t.Fatalf("expected sibling service in cached document")
	}
	if _, found, _ := store.Get(ctx, "google", "12345"); !found {
		t.Fatalf("expected written service in cached document")
	}
}

func TestStore_SetAfterFailedLoadDropsCacheEntry(t *testing.T) {
	backend := newCountingBackend()
	backend.loadErr = errors.New("backend unavailable")
	store := newTestStore(t, backend)
	ctx := context.Background()

	if err := store.Set(ctx, "google", "12345", core.CredentialRecord{RefreshToken: "abc"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	backend.mu.Lock()
	backend.loadErr = nil
	backend.mu.Unlock()

	if _, found, _ := store.Get(ctx, "google", "12345"); !found {
		t.Fatalf("expected merged record to be read from the backend")
	}
}

func TestDefaultCacheConfig_DisablesExpiryAndEarlyRefresh(t *testing.T) {
	config := DefaultCacheConfig()
	if config.TTL != DefaultCacheTTL {
		t.Fatalf("expected ttl %s, got %s", DefaultCacheTTL, config.TTL)
	}
	if config.EarlyRefresh != nil {
		t.Fatalf("expected early refresh to be disabled")
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("expected valid cache config: %v", err)
	}
}

func TestStore_TransientLoadErrorReadsAsNotFound(t *testing.T) {
	backend := newCountingBackend()
	backend.loadErr = errors.New("backend unavailable")
	store := newTestStore(t, backend)
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "google", "12345"); err != nil || found {
		t.Fatalf("expected contained failure, found=%v err=%v", found, err)
	}

	backend.mu.Lock()
	backend.loadErr = nil
	backend.mu.Unlock()
	if err := backend.MemoryBackend.Merge(ctx, "users", "12345", "google", core.PersistedCredential{RefreshToken: "abc"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, found, _ := store.Get(ctx, "google", "12345"); !found {
		t.Fatalf("expected failed load not to be cached")
	}
}

func TestStore_MergeFailureIsTransientStoreError(t *testing.T) {
	backend := newCountingBackend()
	backend.mergeErr = errors.New("write rejected")
	store := newTestStore(t, backend)

	err := store.Set(context.Background(), "google", "12345", core.CredentialRecord{RefreshToken: "abc"})
	if !core.IsTransientStoreError(err) {
		t.Fatalf("expected transient store error, got %v", err)
	}
}

type prefixSecrets struct{}

func (prefixSecrets) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (prefixSecrets) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	raw, ok := strings.CutPrefix(string(ciphertext), "enc:")
	if !ok {
		return nil, errors.New("not sealed")
	}
	return base64.StdEncoding.DecodeString(raw)
}

func TestStore_SealedCodecEncryptsTokens(t *testing.T) {
	backend := NewMemoryBackend()
	codec, err := core.NewSealedCredentialCodec(prefixSecrets{})
	if err != nil {
		t.Fatalf("new sealed codec: %v", err)
	}
	store := newTestStore(t, backend, WithCodec(codec))
	ctx := context.Background()

	if err := store.Set(ctx, "google", "t1", core.CredentialRecord{RefreshToken: "abc"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	document, _, _ := backend.Load(ctx, "users", "t1")
	if !strings.HasPrefix(document["google"].RefreshToken, "enc:") {
		t.Fatalf("expected sealed refresh token, got %q", document["google"].RefreshToken)
	}
	record, found, err := store.Get(ctx, "google", "t1")
	if err != nil || !found || record.RefreshToken != "abc" {
		t.Fatalf("expected decoded record, got %#v found=%v err=%v", record, found, err)
	}
}

func TestCacheKey_EscapesSegments(t *testing.T) {
	got := CacheKey("users", "a/b")
	if got != "go-oauth-broker::credential_document::v1::users::a%2Fb" {
		t.Fatalf("unexpected cache key %q", got)
	}
}

func TestNew_RequiresBackend(t *testing.T) {
	if _, err := New(nil, "users"); !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
