package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/idempotency"
)

// GetEntry retrieves the ledger entry for (tenant, endpoint, key).
func (s *Store) GetEntry(ctx context.Context, tenantID, endpoint, key string) (*idempotency.Entry, error) {
	blob, err := s.client.Get(ctx, entryKey(tenantID, endpoint, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, conveyor.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get entry: %w", err)
	}

	var e idempotency.Entry
	if err := json.Unmarshal([]byte(blob), &e); err != nil {
		return nil, fmt.Errorf("conveyor/redis: unmarshal entry: %w", err)
	}
	return &e, nil
}

// PutEntry persists a ledger entry. Redis serializes writes to a single
// key, so the last writer's result wins.
func (s *Store) PutEntry(ctx context.Context, e *idempotency.Entry) error {
	blob, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("conveyor/redis: marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, entryKey(e.TenantID, e.Endpoint, e.Key), blob, 0).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: put entry: %w", err)
	}
	return nil
}
