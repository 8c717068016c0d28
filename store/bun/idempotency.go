package bunstore

import (
	"context"
	"fmt"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/idempotency"
)

// GetEntry retrieves the ledger entry for (tenant, endpoint, key).
func (s *Store) GetEntry(ctx context.Context, tenantID, endpoint, key string) (*idempotency.Entry, error) {
	m := new(entryModel)
	err := s.db.NewSelect().Model(m).
		Where("tenant_id = ?", tenantID).
		Where("endpoint = ?", endpoint).
		Where("key = ?", key).
		Scan(ctx)
	if isNoRows(err) {
		return nil, conveyor.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: get entry: %w", err)
	}
	return fromEntryModel(m), nil
}

// PutEntry persists a ledger entry. The primary key serializes
// concurrent writers; last write wins on the stored result.
func (s *Store) PutEntry(ctx context.Context, e *idempotency.Entry) error {
	_, err := s.db.NewInsert().Model(toEntryModel(e)).
		On("CONFLICT (tenant_id, endpoint, key) DO UPDATE").
		Set("fingerprint = EXCLUDED.fingerprint").
		Set("result = EXCLUDED.result").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: put entry: %w", err)
	}
	return nil
}
