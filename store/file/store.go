// Package filestore keeps every tenant credential in a single JSON document
// on local disk.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goliatone/go-oauth-broker/core"
)

// Document is the on-disk shape: tenant -> service -> credential.
type Document map[string]map[string]core.PersistedCredential

// Store assumes it is the only writer of its file.
type Store struct {
	mu    sync.Mutex
	path  string
	doc   Document
	codec core.CredentialCodec
}

// New loads path, creating it with an empty document when absent.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, core.NewConfigurationError("filestore: path is required", nil)
	}
	store := &Store{path: path, codec: core.PlainCredentialCodec{}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		store.doc = Document{}
		if err := store.flush(); err != nil {
			return nil, err
		}
		return store, nil
	case err != nil:
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}

	doc := Document{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, core.NewConfigurationError(
				fmt.Sprintf("filestore: %s is not a valid credential document: %v", path, err),
				map[string]any{"path": path},
			)
		}
	}
	if doc == nil {
		doc = Document{}
	}
	store.doc = doc
	return store, nil
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Get(ctx context.Context, serviceID string, tenantID string) (core.CredentialRecord, bool, error) {
	if s == nil {
		return core.CredentialRecord{}, false, fmt.Errorf("filestore: store is nil")
	}
	key := core.NewTenantServiceKey(serviceID, tenantID)
	if err := key.Validate(); err != nil {
		return core.CredentialRecord{}, false, err
	}

	s.mu.Lock()
	persisted, ok := s.doc[key.TenantID][key.ServiceID]
	s.mu.Unlock()
	if !ok {
		return core.CredentialRecord{}, false, nil
	}
	record, err := s.codec.Decode(ctx, persisted)
	if err != nil {
		return core.CredentialRecord{}, false, err
	}
	return record, true, nil
}

func (s *Store) Set(ctx context.Context, serviceID string, tenantID string, record core.CredentialRecord) error {
	if s == nil {
		return fmt.Errorf("filestore: store is nil")
	}
	key := core.NewTenantServiceKey(serviceID, tenantID)
	if err := key.Validate(); err != nil {
		return err
	}
	persisted, err := s.codec.Encode(ctx, record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	services, ok := s.doc[key.TenantID]
	if !ok {
		services = map[string]core.PersistedCredential{}
		s.doc[key.TenantID] = services
	}
	previous, hadPrevious := services[key.ServiceID]
	services[key.ServiceID] = persisted
	if err := s.flush(); err != nil {
		if hadPrevious {
			services[key.ServiceID] = previous
		} else {
			delete(services, key.ServiceID)
		}
		return core.NewTransientStoreError(err, "filestore: write credential document", map[string]any{
			"service_id": key.ServiceID,
			"tenant_id":  key.TenantID,
		})
	}
	return nil
}

// flush rewrites the whole document via a temp file and rename. Callers hold mu.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode document: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("filestore: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("filestore: replace document: %w", err)
	}
	return nil
}

var _ core.CredentialStore = (*Store)(nil)
