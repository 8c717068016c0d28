package idempotency

import (
	"context"
	"time"
)

// Entry is one row in the write ledger: the canonical fingerprint of the
// request payload and the result the execution produced.
type Entry struct {
	TenantID    string    `json:"tenant_id"`
	Endpoint    string    `json:"endpoint"`
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	Result      []byte    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store defines the persistence contract for the idempotency ledger.
// Entries never expire within a process lifetime; expiry is an external
// operational concern.
type Store interface {
	// GetEntry retrieves the ledger entry for (tenant, endpoint, key).
	// Returns ErrEntryNotFound if absent.
	GetEntry(ctx context.Context, tenantID, endpoint, key string) (*Entry, error)

	// PutEntry persists a new ledger entry. Writes for the same
	// (tenant, endpoint, key) must be serialized by the backend.
	PutEntry(ctx context.Context, e *Entry) error
}
