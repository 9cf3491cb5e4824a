package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-oauth-broker/core"
	documentstore "github.com/goliatone/go-oauth-broker/store/document"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CredentialDocumentStore is a document backend over the
// tenant_credential_documents table.
type CredentialDocumentStore struct {
	db   *bun.DB
	repo repository.Repository[*credentialDocumentRecord]
	now  func() time.Time
}

func NewCredentialDocumentStore(db *bun.DB) (*CredentialDocumentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialDocumentRecord](db, credentialDocumentHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential document repository wiring: %w", err)
		}
	}
	return &CredentialDocumentStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *CredentialDocumentStore) Load(ctx context.Context, collection string, tenantID string) (map[string]core.PersistedCredential, bool, error) {
	if s == nil || s.repo == nil {
		return nil, false, fmt.Errorf("sqlstore: credential document store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("collection", "=", strings.TrimSpace(collection)),
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0].document(), true, nil
}

// Merge upserts serviceID inside the tenant document in one transaction and
// leaves other service entries untouched.
func (s *CredentialDocumentStore) Merge(
	ctx context.Context,
	collection string,
	tenantID string,
	serviceID string,
	credential core.PersistedCredential,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential document store is not configured")
	}
	collection = strings.TrimSpace(collection)
	tenantID = strings.TrimSpace(tenantID)
	serviceID = strings.TrimSpace(serviceID)
	if collection == "" || tenantID == "" || serviceID == "" {
		return fmt.Errorf("sqlstore: collection, tenant id and service id are required")
	}
	now := s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findCredentialDocumentTx(ctx, tx, collection, tenantID)
		if err != nil {
			return err
		}
		if record == nil {
			record = newCredentialDocumentRecord(collection, tenantID, now)
			record.ID = uuid.NewString()
			record.Services[serviceID] = credential
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}

		if record.Services == nil {
			record.Services = map[string]core.PersistedCredential{}
		}
		record.Services[serviceID] = credential
		record.UpdatedAt = now
		_, updateErr := tx.NewUpdate().
			Model(record).
			Column("services", "updated_at").
			WherePK().
			Exec(ctx)
		return updateErr
	})
}

func findCredentialDocumentTx(ctx context.Context, tx bun.Tx, collection string, tenantID string) (*credentialDocumentRecord, error) {
	record := &credentialDocumentRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.collection = ?", collection).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

var _ documentstore.Backend = (*CredentialDocumentStore)(nil)
