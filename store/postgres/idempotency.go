package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/idempotency"
)

// GetEntry retrieves the ledger entry for (tenant, endpoint, key).
func (s *Store) GetEntry(ctx context.Context, tenantID, endpoint, key string) (*idempotency.Entry, error) {
	var e idempotency.Entry
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, endpoint, key, fingerprint, result, created_at
		FROM conveyor_idempotency_entries
		WHERE tenant_id = $1 AND endpoint = $2 AND key = $3`,
		tenantID, endpoint, key,
	).Scan(&e.TenantID, &e.Endpoint, &e.Key, &e.Fingerprint, &e.Result, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: get entry: %w", err)
	}
	return &e, nil
}

// PutEntry persists a ledger entry. The primary key serializes
// concurrent writers; last write wins on the stored result.
func (s *Store) PutEntry(ctx context.Context, e *idempotency.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_idempotency_entries (tenant_id, endpoint, key, fingerprint, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, endpoint, key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint, result = EXCLUDED.result`,
		e.TenantID, e.Endpoint, e.Key, e.Fingerprint, e.Result, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: put entry: %w", err)
	}
	return nil
}
