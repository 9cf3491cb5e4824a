package relay

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-oauth-broker/core"
)

// MemoryRelay is an in-process relay. Codes stay until overwritten.
type MemoryRelay struct {
	mu    sync.RWMutex
	codes map[string]string
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{codes: map[string]string{}}
}

func (r *MemoryRelay) Poll(_ context.Context, state string) (string, bool, error) {
	if r == nil {
		return "", false, nil
	}
	if err := ValidateState(state); err != nil {
		return "", false, err
	}
	r.mu.RLock()
	code, ok := r.codes[state]
	r.mu.RUnlock()
	return code, ok, nil
}

func (r *MemoryRelay) Create(_ context.Context, state string, code string) (bool, error) {
	if err := ValidateState(state); err != nil {
		return false, err
	}
	if strings.TrimSpace(code) == "" {
		return false, core.NewBadInputError("authorization code is required", "code")
	}
	r.mu.Lock()
	r.codes[state] = code
	r.mu.Unlock()
	return true, nil
}

var _ core.Relay = (*MemoryRelay)(nil)
