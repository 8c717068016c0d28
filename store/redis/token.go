package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/workflow"
)

// consumeScript flips the stored record's used flag from false to true,
// provided the token matches. Returns "ok", "missing", "mismatch", or
// "used".
var consumeScript = redis.NewScript(`
local blob = redis.call('GET', KEYS[1])
if not blob then
	return 'missing'
end
local rec = cjson.decode(blob)
if rec['token'] ~= ARGV[1] then
	return 'mismatch'
end
if rec['used'] then
	return 'used'
end
rec['used'] = true
redis.call('SET', KEYS[1], cjson.encode(rec))
return 'ok'
`)

// PutToken stores a token record, replacing any prior record for the
// same (tenant, workflow) pair.
func (s *Store) PutToken(ctx context.Context, rec *workflow.TokenRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("conveyor/redis: marshal token: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey(rec.TenantID, rec.WorkflowID.String()), blob, 0).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: put token: %w", err)
	}
	return nil
}

// GetToken retrieves the record for (tenant, workflow).
func (s *Store) GetToken(ctx context.Context, tenantID string, workflowID id.ID) (*workflow.TokenRecord, error) {
	blob, err := s.client.Get(ctx, tokenKey(tenantID, workflowID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return nil, conveyor.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get token: %w", err)
	}

	var rec workflow.TokenRecord
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return nil, fmt.Errorf("conveyor/redis: unmarshal token: %w", err)
	}
	return &rec, nil
}

// ConsumeToken atomically flips the record's Used flag from false to
// true, provided the stored token matches.
func (s *Store) ConsumeToken(ctx context.Context, tenantID string, workflowID id.ID, token string) error {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{tokenKey(tenantID, workflowID.String())},
		token,
	).Text()
	if err != nil {
		return fmt.Errorf("conveyor/redis: consume token: %w", err)
	}

	switch res {
	case "ok":
		return nil
	case "used":
		return conveyor.ErrStatusConflict
	default: // missing or mismatch
		return conveyor.ErrTokenNotFound
	}
}
