// Package documentstore keeps one credential document per tenant in a remote
// backend and serves reads through a cache.
package documentstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-oauth-broker/core"
)

const (
	DefaultCollection = "credentials"
	cacheKeyPrefix    = "go-oauth-broker::credential_document::v1"

	// DefaultCacheTTL keeps a loaded document for the life of the process.
	DefaultCacheTTL = 100 * 365 * 24 * time.Hour
)

// DefaultCacheConfig is the cache used when WithCache is not given. Entries
// do not expire in practice and are never refreshed in the background, so
// the cached document stays authoritative once loaded.
func DefaultCacheConfig() repositorycache.Config {
	config := repositorycache.DefaultConfig()
	config.TTL = DefaultCacheTTL
	config.EarlyRefresh = nil
	return config
}

// Backend reads and merges tenant documents. Load reports found=false when
// the tenant has no document yet.
type Backend interface {
	Load(ctx context.Context, collection string, tenantID string) (map[string]core.PersistedCredential, bool, error)
	Merge(ctx context.Context, collection string, tenantID string, serviceID string, credential core.PersistedCredential) error
}

type Store struct {
	backend    Backend
	collection string
	cache      repositorycache.CacheService
	codec      core.CredentialCodec
	locker     *core.KeyedLocker
	logger     core.Logger
}

type Option func(*Store)

func WithCache(cache repositorycache.CacheService) Option {
	return func(s *Store) {
		if cache != nil {
			s.cache = cache
		}
	}
}

func WithCodec(codec core.CredentialCodec) Option {
	return func(s *Store) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(backend Backend, collection string, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, core.NewConfigurationError("documentstore: backend is required", nil)
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = DefaultCollection
	}
	store := &Store{
		backend:    backend,
		collection: collection,
		codec:      core.PlainCredentialCodec{},
		locker:     core.NewKeyedLocker(),
		logger:     glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.cache == nil {
		service, err := repositorycache.NewCacheService(DefaultCacheConfig())
		if err != nil {
			return nil, fmt.Errorf("documentstore: new cache service: %w", err)
		}
		store.cache = service
	}
	return store, nil
}

// CacheKey is <prefix>::<collection>::<tenant> with path-escaped segments.
func CacheKey(collection string, tenantID string) string {
	return strings.Join([]string{
		cacheKeyPrefix,
		url.PathEscape(strings.TrimSpace(collection)),
		url.PathEscape(strings.TrimSpace(tenantID)),
	}, "::")
}

func (s *Store) Collection() string {
	if s == nil {
		return ""
	}
	return s.collection
}

// Get reads through the cache. Backend failures are logged and reported as
// not found; nothing is cached for them.
func (s *Store) Get(ctx context.Context, serviceID string, tenantID string) (core.CredentialRecord, bool, error) {
	if s == nil || s.backend == nil {
		return core.CredentialRecord{}, false, fmt.Errorf("documentstore: store is not configured")
	}
	key := core.NewTenantServiceKey(serviceID, tenantID)
	if err := key.Validate(); err != nil {
		return core.CredentialRecord{}, false, err
	}

	unlock, err := s.locker.Lock(ctx, key.TenantID)
	if err != nil {
		return core.CredentialRecord{}, false, err
	}
	defer unlock()

	document, err := s.document(ctx, key.TenantID)
	if err != nil {
		s.logger.Warn("credential document read failed",
			"collection", s.collection,
			"tenant_id", key.TenantID,
			"service_id", key.ServiceID,
			"error", err,
		)
		return core.CredentialRecord{}, false, nil
	}
	persisted, ok := document[key.ServiceID]
	if !ok {
		return core.CredentialRecord{}, false, nil
	}
	record, err := s.codec.Decode(ctx, persisted)
	if err != nil {
		return core.CredentialRecord{}, false, err
	}
	return record, true, nil
}

// Set merges one service entry into the tenant document and writes the
// merged document into the cache. When the current document could not be
// loaded the cache entry is dropped instead.
func (s *Store) Set(ctx context.Context, serviceID string, tenantID string, record core.CredentialRecord) error {
	if s == nil || s.backend == nil {
		return fmt.Errorf("documentstore: store is not configured")
	}
	key := core.NewTenantServiceKey(serviceID, tenantID)
	if err := key.Validate(); err != nil {
		return err
	}
	persisted, err := s.codec.Encode(ctx, record)
	if err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, key.TenantID)
	if err != nil {
		return err
	}
	defer unlock()

	current, loadErr := s.document(ctx, key.TenantID)

	metadata := map[string]any{
		"collection": s.collection,
		"service_id": key.ServiceID,
		"tenant_id":  key.TenantID,
	}
	if err := s.backend.Merge(ctx, s.collection, key.TenantID, key.ServiceID, persisted); err != nil {
		return core.NewTransientStoreError(err, "documentstore: merge credential document", metadata)
	}

	if loadErr != nil {
		s.invalidate(ctx, key.TenantID)
		return nil
	}
	current[key.ServiceID] = persisted
	s.store(ctx, key.TenantID, current)
	return nil
}

func (s *Store) store(ctx context.Context, tenantID string, document map[string]core.PersistedCredential) {
	cacheKey := CacheKey(s.collection, tenantID)
	s.invalidate(ctx, tenantID)
	_, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(context.Context) (map[string]core.PersistedCredential, error) {
		return copyDocument(document), nil
	})
	if err != nil {
		s.logger.Warn("credential document cache update failed",
			"collection", s.collection,
			"tenant_id", tenantID,
			"error", err,
		)
		s.invalidate(ctx, tenantID)
	}
}

func (s *Store) invalidate(ctx context.Context, tenantID string) {
	if err := s.cache.Delete(ctx, CacheKey(s.collection, tenantID)); err != nil {
		s.logger.Warn("credential document cache invalidation failed",
			"collection", s.collection,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

func (s *Store) document(ctx context.Context, tenantID string) (map[string]core.PersistedCredential, error) {
	cacheKey := CacheKey(s.collection, tenantID)
	document, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (map[string]core.PersistedCredential, error) {
		loaded, found, loadErr := s.backend.Load(ctx, s.collection, tenantID)
		if loadErr != nil {
			return nil, loadErr
		}
		if !found || loaded == nil {
			return map[string]core.PersistedCredential{}, nil
		}
		return copyDocument(loaded), nil
	})
	if err != nil {
		return nil, err
	}
	return copyDocument(document), nil
}

func copyDocument(in map[string]core.PersistedCredential) map[string]core.PersistedCredential {
	out := make(map[string]core.PersistedCredential, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.CredentialStore = (*Store)(nil)
