// Package idempotency deduplicates write requests by
// (tenant, endpoint, caller-supplied key). A repeated request with an
// identical payload returns the stored result without re-executing; the
// same key with a different payload fails with IDEMPOTENCY_CONFLICT.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/fault"
)

// ExecuteFunc produces the result of the guarded write.
type ExecuteFunc func(ctx context.Context) ([]byte, error)

// Ledger provides idempotent execution over a Store.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Ledger) { ld.logger = l }
}

// NewLedger creates a Ledger.
func NewLedger(store Store, opts ...Option) *Ledger {
	ld := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Run executes fn at most once per (tenant, endpoint, key). If a ledger
// entry exists with the same payload fingerprint, the stored result is
// returned and fn is not invoked. If the entry exists with a different
// fingerprint, Run fails with IDEMPOTENCY_CONFLICT. Otherwise fn runs,
// its result is persisted, and the fresh result is returned.
func (l *Ledger) Run(ctx context.Context, tenantID, endpoint, key string, payload any, fn ExecuteFunc) ([]byte, error) {
	if key == "" {
		return nil, fault.Validation(fault.CodeIdempotencyConflict, "idempotency key must not be empty")
	}

	fp, err := Fingerprint(payload)
	if err != nil {
		return nil, err
	}

	existing, err := l.store.GetEntry(ctx, tenantID, endpoint, key)
	switch {
	case err == nil:
		if existing.Fingerprint != fp {
			return nil, fault.BusinessRule(
				fault.CodeIdempotencyConflict,
				"idempotency key reused with a different payload",
			)
		}
		l.logger.Debug("idempotent replay, returning stored result",
			slog.String("tenant_id", tenantID),
			slog.String("endpoint", endpoint),
			slog.String("key", key),
		)
		return existing.Result, nil
	case errors.Is(err, conveyor.ErrEntryNotFound):
		// First execution for this key.
	default:
		return nil, err
	}

	result, err := fn(ctx)
	if err != nil {
		// A failed execution is not recorded; the caller may retry with
		// the same key.
		return nil, err
	}

	entry := &Entry{
		TenantID:    tenantID,
		Endpoint:    endpoint,
		Key:         key,
		Fingerprint: fp,
		Result:      result,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.store.PutEntry(ctx, entry); err != nil {
		return nil, err
	}

	return result, nil
}
