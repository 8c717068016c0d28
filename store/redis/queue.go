package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/queue"
)

// ownerSep joins tenant and queue in the in-flight owners hash.
const ownerSep = "\x1f"

// dequeueScript promotes due delayed messages onto the ready tail, pops
// the head, and moves it into the in-flight hashes — one atomic step, so
// concurrent workers never double-claim.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for i = 1, #due do
	redis.call('RPUSH', KEYS[1], due[i])
	redis.call('ZREM', KEYS[2], due[i])
end
local msg = redis.call('LPOP', KEYS[1])
if not msg then
	return false
end
local id = cjson.decode(msg)['id']
redis.call('HSET', KEYS[3], id, msg)
redis.call('HSET', KEYS[4], id, ARGV[2])
return msg
`)

// EnqueueMessage appends m to the tail of its (tenant, queue) FIFO, or
// into the delayed Sorted Set when VisibleAt is in the future.
func (s *Store) EnqueueMessage(ctx context.Context, m *queue.Message) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("conveyor/redis: marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	if m.VisibleAt.After(time.Now()) {
		pipe.ZAdd(ctx, delayedKey(m.TenantID, m.Queue), redis.Z{
			Score:  float64(m.VisibleAt.UnixMilli()),
			Member: blob,
		})
	} else {
		pipe.RPush(ctx, readyKey(m.TenantID, m.Queue), blob)
	}
	pipe.SAdd(ctx, queueTenantsKey(m.Queue), m.TenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: enqueue message: %w", err)
	}
	return nil
}

// DequeueMessage pops the head of the tenant's queue into the in-flight
// set. Returns (nil, nil) when the queue is empty.
func (s *Store) DequeueMessage(ctx context.Context, tenantID, queueName string) (*queue.Message, error) {
	res, err := dequeueScript.Run(ctx, s.client,
		[]string{
			readyKey(tenantID, queueName),
			delayedKey(tenantID, queueName),
			inflightKey(tenantID),
			inflightOwnersKey,
		},
		time.Now().UnixMilli(),
		tenantID+ownerSep+queueName,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: dequeue message: %w", err)
	}

	blob, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("conveyor/redis: dequeue message: unexpected reply %T", res)
	}
	var m queue.Message
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, fmt.Errorf("conveyor/redis: unmarshal message: %w", err)
	}
	return &m, nil
}

// AckMessage removes an in-flight message permanently.
func (s *Store) AckMessage(ctx context.Context, tenantID string, messageID string) error {
	if _, _, err := s.lookupOwner(ctx, tenantID, messageID); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, inflightKey(tenantID), messageID)
	pipe.HDel(ctx, inflightOwnersKey, messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: ack message: %w", err)
	}
	return nil
}

// NackMessage returns an in-flight message to its queue with the attempt
// counter incremented — at the head when delayMS is zero, into the
// delayed Sorted Set otherwise — or drops it when requeue is false. Only
// the worker that dequeued a message settles it, so the read-modify-write
// here is single-writer.
func (s *Store) NackMessage(ctx context.Context, tenantID string, messageID string, requeue bool, delayMS int64) error {
	_, queueName, err := s.lookupOwner(ctx, tenantID, messageID)
	if err != nil {
		return err
	}

	blob, err := s.client.HGet(ctx, inflightKey(tenantID), messageID).Result()
	if errors.Is(err, redis.Nil) {
		return conveyor.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("conveyor/redis: nack message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, inflightKey(tenantID), messageID)
	pipe.HDel(ctx, inflightOwnersKey, messageID)

	if requeue {
		var m queue.Message
		if err := json.Unmarshal([]byte(blob), &m); err != nil {
			return fmt.Errorf("conveyor/redis: unmarshal message: %w", err)
		}
		m.Attempt++
		if delayMS > 0 {
			m.VisibleAt = time.Now().UTC().Add(time.Duration(delayMS) * time.Millisecond)
		}
		updated, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("conveyor/redis: marshal message: %w", err)
		}
		if delayMS > 0 {
			pipe.ZAdd(ctx, delayedKey(tenantID, queueName), redis.Z{
				Score:  float64(m.VisibleAt.UnixMilli()),
				Member: updated,
			})
		} else {
			pipe.LPush(ctx, readyKey(tenantID, queueName), updated)
		}
		pipe.SAdd(ctx, queueTenantsKey(queueName), tenantID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: nack message: %w", err)
	}
	return nil
}

// lookupOwner resolves the in-flight owner of a message and fails closed
// on tenant mismatch.
func (s *Store) lookupOwner(ctx context.Context, tenantID, messageID string) (tenant, queueName string, err error) {
	owner, err := s.client.HGet(ctx, inflightOwnersKey, messageID).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", conveyor.ErrMessageNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("conveyor/redis: lookup message owner: %w", err)
	}

	parts := strings.SplitN(owner, ownerSep, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("conveyor/redis: malformed owner entry %q", owner)
	}
	if parts[0] != tenantID {
		return "", "", conveyor.ErrTenantMismatch
	}
	return parts[0], parts[1], nil
}

// ListQueueTenants returns the tenants that currently have visible or
// delayed-due messages on the named queue, sorted.
func (s *Store) ListQueueTenants(ctx context.Context, queueName string) ([]string, error) {
	candidates, err := s.client.SMembers(ctx, queueTenantsKey(queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list queue tenants: %w", err)
	}

	var tenants []string
	for _, tenant := range candidates {
		n, err := s.CountMessages(ctx, tenant, queueName)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			tenants = append(tenants, tenant)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// CountMessages returns the number of pending messages for the tenant's
// queue: the ready list plus delayed messages already due.
func (s *Store) CountMessages(ctx context.Context, tenantID, queueName string) (int64, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())

	pipe := s.client.Pipeline()
	ready := pipe.LLen(ctx, readyKey(tenantID, queueName))
	due := pipe.ZCount(ctx, delayedKey(tenantID, queueName), "-inf", now)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("conveyor/redis: count messages: %w", err)
	}
	return ready.Val() + due.Val(), nil
}
