package core

import (
	"fmt"
	"strings"
	"time"
)

// TenantServiceKey identifies the credentials a tenant holds for one service.
type TenantServiceKey struct {
	TenantID  string
	ServiceID string
}

func NewTenantServiceKey(serviceID string, tenantID string) TenantServiceKey {
	return TenantServiceKey{
		TenantID:  strings.TrimSpace(tenantID),
		ServiceID: strings.TrimSpace(serviceID),
	}
}

func (k TenantServiceKey) String() string {
	return k.TenantID + "/" + k.ServiceID
}

func (k TenantServiceKey) Validate() error {
	if strings.TrimSpace(k.ServiceID) == "" {
		return NewBadInputError("service id is required", "service_id")
	}
	if strings.TrimSpace(k.TenantID) == "" {
		return NewBadInputError("tenant id is required", "tenant_id")
	}
	return nil
}

// CredentialRecord is the stored OAuth state for one tenant and service.
// Empty strings mean absent. An access token never exists without an expiry.
type CredentialRecord struct {
	RefreshToken string
	AccessToken  string
	ExpiresAt    *time.Time
}

// Linked reports whether the tenant has completed authorization.
func (r CredentialRecord) Linked() bool {
	return strings.TrimSpace(r.RefreshToken) != ""
}

func (r CredentialRecord) HasAccessToken() bool {
	return strings.TrimSpace(r.AccessToken) != ""
}

func (r CredentialRecord) IsZero() bool {
	return !r.Linked() && !r.HasAccessToken() && r.ExpiresAt == nil
}

func (r CredentialRecord) Validate() error {
	if r.HasAccessToken() && r.ExpiresAt == nil {
		return fmt.Errorf("core: credential access token requires an expiry")
	}
	return nil
}

func (r CredentialRecord) Clone() CredentialRecord {
	cloned := r
	cloned.ExpiresAt = cloneTimePointer(r.ExpiresAt)
	return cloned
}

// PendingAuthorization is an outstanding authorization attempt keyed by State.
type PendingAuthorization struct {
	TenantID  string
	ServiceID string
	State     string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (p PendingAuthorization) Key() TenantServiceKey {
	return NewTenantServiceKey(p.ServiceID, p.TenantID)
}

// Expired reports whether the entry is past its deadline. An entry whose
// deadline equals now is expired.
func (p PendingAuthorization) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// ServiceDescriptor is the immutable provider configuration for one service.
type ServiceDescriptor struct {
	ServiceID                string
	AuthorizationURLTemplate string
	TokenEndpointURL         string
	ClientID                 string
	ClientSecret             string
}

func (d ServiceDescriptor) Validate() error {
	serviceID := strings.TrimSpace(d.ServiceID)
	metadata := map[string]any{"service_id": serviceID}
	switch {
	case serviceID == "":
		return NewConfigurationError("core: service id is required", nil)
	case strings.TrimSpace(d.ClientID) == "":
		return NewConfigurationError("core: client id is required", metadata)
	case strings.TrimSpace(d.ClientSecret) == "":
		return NewConfigurationError("core: client secret is required", metadata)
	case strings.TrimSpace(d.TokenEndpointURL) == "":
		return NewConfigurationError("core: token endpoint url is required", metadata)
	case strings.TrimSpace(d.AuthorizationURLTemplate) == "":
		return NewConfigurationError("core: authorization url template is required", metadata)
	}
	return nil
}

// LinkCompletionEvent is emitted once per successful code exchange.
type LinkCompletionEvent struct {
	ServiceID string
	TenantID  string
	LinkedAt  time.Time
}

type LinkObserver func(event LinkCompletionEvent)

// TokenGrant is the token endpoint answer for a code or refresh grant.
// ExpiresIn is zero when the provider omitted expires_in.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
