package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-oauth-broker/core"
)

type keyringEntry struct {
	provider *AppKeySecretProvider
	window   KeyRotationWindow
}

// KeyringSecretProvider encrypts with the current key and decrypts with
// whichever registered key the envelope names, so stored tokens stay
// readable across key rotation.
type KeyringSecretProvider struct {
	mu      sync.RWMutex
	current *AppKeySecretProvider
	keys    map[string]keyringEntry
	now     func() time.Time
}

type KeyringOption func(*KeyringSecretProvider)

func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(k *KeyringSecretProvider) {
		if now != nil {
			k.now = now
		}
	}
}

// WithPreviousKey keeps provider available for decryption inside window.
func WithPreviousKey(provider *AppKeySecretProvider, window KeyRotationWindow) KeyringOption {
	return func(k *KeyringSecretProvider) {
		if provider != nil {
			k.keys[keyringID(provider.KeyID(), provider.Version())] = keyringEntry{provider: provider, window: window}
		}
	}
}

func NewKeyringSecretProvider(current *AppKeySecretProvider, opts ...KeyringOption) (*KeyringSecretProvider, error) {
	if current == nil {
		return nil, fmt.Errorf("security: current secret provider is required")
	}
	keyring := &KeyringSecretProvider{
		current: current,
		keys:    map[string]keyringEntry{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(keyring)
		}
	}
	keyring.keys[keyringID(current.KeyID(), current.Version())] = keyringEntry{provider: current}
	return keyring, nil
}

// Rotate makes next the encryption key. The previous key stays usable for
// decryption within window.
func (k *KeyringSecretProvider) Rotate(next *AppKeySecretProvider, window KeyRotationWindow) error {
	if k == nil {
		return fmt.Errorf("security: keyring is nil")
	}
	if next == nil {
		return fmt.Errorf("security: next secret provider is required")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	previous := k.current
	k.keys[keyringID(previous.KeyID(), previous.Version())] = keyringEntry{provider: previous, window: window}
	k.keys[keyringID(next.KeyID(), next.Version())] = keyringEntry{provider: next}
	k.current = next
	return nil
}

func (k *KeyringSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	k.mu.RLock()
	current := k.current
	k.mu.RUnlock()
	return current.Encrypt(ctx, plaintext)
}

func (k *KeyringSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	metadata, err := ParseEnvelopeMetadata(ciphertext, true)
	if err != nil {
		return nil, err
	}
	k.mu.RLock()
	entry, ok := k.keys[keyringID(metadata.KeyID, metadata.Version)]
	current := k.current
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("security: no key registered for %q v%d", metadata.KeyID, metadata.Version)
	}
	if entry.provider != current && !entry.window.Allows(k.now()) {
		return nil, fmt.Errorf("security: key %q v%d is outside its rotation window", metadata.KeyID, metadata.Version)
	}
	return entry.provider.Decrypt(ctx, ciphertext)
}

func (k *KeyringSecretProvider) Metadata() (string, int) {
	if k == nil {
		return "", 0
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current.Metadata()
}

func keyringID(keyID string, version int) string {
	return fmt.Sprintf("%s@%d", keyID, version)
}

var _ core.SecretProvider = (*KeyringSecretProvider)(nil)
