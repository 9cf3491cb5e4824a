package sqlstore

import (
	"time"

	"github.com/goliatone/go-oauth-broker/core"
	"github.com/uptrace/bun"
)

// credentialDocumentRecord is one tenant document in one collection.
type credentialDocumentRecord struct {
	bun.BaseModel `bun:"table:tenant_credential_documents,alias:tcd"`

	ID         string                              `bun:"id,pk"`
	Collection string                              `bun:"collection,notnull"`
	TenantID   string                              `bun:"tenant_id,notnull"`
	Services   map[string]core.PersistedCredential `bun:"services,type:jsonb,notnull"`
	CreatedAt  time.Time                           `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time                           `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newCredentialDocumentRecord(collection string, tenantID string, now time.Time) *credentialDocumentRecord {
	return &credentialDocumentRecord{
		Collection: collection,
		TenantID:   tenantID,
		Services:   map[string]core.PersistedCredential{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *credentialDocumentRecord) document() map[string]core.PersistedCredential {
	out := make(map[string]core.PersistedCredential, len(r.Services))
	for serviceID, credential := range r.Services {
		out[serviceID] = credential
	}
	return out
}
