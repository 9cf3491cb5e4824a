// Package redisstore is a document backend that keeps each tenant document in
// a Redis hash keyed <collection>:<tenant>, one field per service.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goliatone/go-oauth-broker/core"
	documentstore "github.com/goliatone/go-oauth-broker/store/document"
)

type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// KeyPrefix is prepended to every hash key.
	KeyPrefix string
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", cfg.Address, err)
	}
	return client, nil
}

type Backend struct {
	client redis.Cmdable
	prefix string
}

func NewBackend(client redis.Cmdable, keyPrefix string) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	return &Backend{client: client, prefix: strings.TrimSpace(keyPrefix)}, nil
}

func (b *Backend) Key(collection string, tenantID string) string {
	return b.prefix + strings.TrimSpace(collection) + ":" + strings.TrimSpace(tenantID)
}

func (b *Backend) Load(ctx context.Context, collection string, tenantID string) (map[string]core.PersistedCredential, bool, error) {
	fields, err := b.client.HGetAll(ctx, b.Key(collection, tenantID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redisstore: load document: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	document := make(map[string]core.PersistedCredential, len(fields))
	for serviceID, raw := range fields {
		var credential core.PersistedCredential
		if err := json.Unmarshal([]byte(raw), &credential); err != nil {
			return nil, false, fmt.Errorf("redisstore: decode %s entry: %w", serviceID, err)
		}
		document[serviceID] = credential
	}
	return document, true, nil
}

// Merge writes a single hash field, so sibling services are never touched.
func (b *Backend) Merge(ctx context.Context, collection string, tenantID string, serviceID string, credential core.PersistedCredential) error {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return fmt.Errorf("redisstore: service id is required")
	}
	raw, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("redisstore: encode credential: %w", err)
	}
	if err := b.client.HSet(ctx, b.Key(collection, tenantID), serviceID, string(raw)).Err(); err != nil {
		return fmt.Errorf("redisstore: merge document: %w", err)
	}
	return nil
}

var _ documentstore.Backend = (*Backend)(nil)
