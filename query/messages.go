package query

import (
	"strings"
	"time"
)

const (
	TypeIsLinked          = "broker.query.link.status"
	TypeAccessToken       = "broker.query.access_token"
	TypeAccessTokenExpiry = "broker.query.access_token.expiry"
)

// CredentialKey names one tenant link.
type CredentialKey struct {
	ServiceID string
	TenantID  string
}

func (k CredentialKey) validate() error {
	if strings.TrimSpace(k.ServiceID) == "" {
		return queryValidationError("service_id", "service id is required")
	}
	if strings.TrimSpace(k.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	return nil
}

type IsLinkedMessage struct {
	CredentialKey
}

func (IsLinkedMessage) Type() string { return TypeIsLinked }

func (m IsLinkedMessage) Validate() error { return m.validate() }

type AccessTokenMessage struct {
	CredentialKey
}

func (AccessTokenMessage) Type() string { return TypeAccessToken }

func (m AccessTokenMessage) Validate() error { return m.validate() }

type AccessTokenExpiryMessage struct {
	CredentialKey
}

func (AccessTokenExpiryMessage) Type() string { return TypeAccessTokenExpiry }

func (m AccessTokenExpiryMessage) Validate() error { return m.validate() }

type AccessTokenResult struct {
	AccessToken string
	Found       bool
}

type AccessTokenExpiryResult struct {
	ExpiresAt time.Time
	Found     bool
}
