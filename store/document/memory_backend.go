package documentstore

import (
	"context"
	"sync"

	"github.com/goliatone/go-oauth-broker/core"
)

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu        sync.RWMutex
	documents map[string]map[string]core.PersistedCredential
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{documents: map[string]map[string]core.PersistedCredential{}}
}

func (b *MemoryBackend) Load(_ context.Context, collection string, tenantID string) (map[string]core.PersistedCredential, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	document, ok := b.documents[collection+"/"+tenantID]
	if !ok {
		return nil, false, nil
	}
	return copyDocument(document), true, nil
}

func (b *MemoryBackend) Merge(_ context.Context, collection string, tenantID string, serviceID string, credential core.PersistedCredential) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := collection + "/" + tenantID
	document, ok := b.documents[key]
	if !ok {
		document = map[string]core.PersistedCredential{}
		b.documents[key] = document
	}
	document[serviceID] = credential
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
