package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// CredentialStore persists one CredentialRecord per (service, tenant).
// Get reports found=false when no record exists.
type CredentialStore interface {
	Get(ctx context.Context, serviceID string, tenantID string) (CredentialRecord, bool, error)
	Set(ctx context.Context, serviceID string, tenantID string, record CredentialRecord) error
}

// CredentialStoreFuncs adapts a pair of callbacks to CredentialStore.
type CredentialStoreFuncs struct {
	GetFn func(ctx context.Context, serviceID string, tenantID string) (CredentialRecord, bool, error)
	SetFn func(ctx context.Context, serviceID string, tenantID string, record CredentialRecord) error
}

func (f CredentialStoreFuncs) Get(ctx context.Context, serviceID string, tenantID string) (CredentialRecord, bool, error) {
	if f.GetFn == nil {
		return CredentialRecord{}, false, NewUsageError(ErrStoreNotConfigured, "core: credential store get handler is not configured")
	}
	return f.GetFn(ctx, serviceID, tenantID)
}

func (f CredentialStoreFuncs) Set(ctx context.Context, serviceID string, tenantID string, record CredentialRecord) error {
	if f.SetFn == nil {
		return NewUsageError(ErrStoreNotConfigured, "core: credential store set handler is not configured")
	}
	return f.SetFn(ctx, serviceID, tenantID, record)
}

// Relay is the external rendezvous where the OAuth redirect deposits codes.
type Relay interface {
	// Poll returns the authorization code for state, found=false while the
	// user has not finished the consent screen.
	Poll(ctx context.Context, state string) (code string, found bool, err error)
}

// TokenClient talks to provider token endpoints.
type TokenClient interface {
	ExchangeCode(ctx context.Context, descriptor ServiceDescriptor, code string, redirectURI string) (TokenGrant, error)
	Refresh(ctx context.Context, descriptor ServiceDescriptor, refreshToken string) (TokenGrant, error)
}

type ServiceCatalog interface {
	Descriptor(serviceID string) (ServiceDescriptor, bool)
	ServiceIDs() []string
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Clock func() time.Time

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

func systemClock() time.Time {
	return time.Now().UTC()
}
