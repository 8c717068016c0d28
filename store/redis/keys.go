package redis

// Redis key naming conventions. All keys are prefixed with "conveyor:"
// to avoid collisions; tenant-scoped data carries the tenant in the key
// so isolation holds at the key level.

const keyPrefix = "conveyor:"

// ── Queue keys ──

// readyKey returns the List holding visible messages, head first:
// conveyor:{tenant}:queue:{name}
func readyKey(tenantID, queueName string) string {
	return keyPrefix + tenantID + ":queue:" + queueName
}

// delayedKey returns the Sorted Set holding delayed messages scored by
// visible-at (unix milliseconds): conveyor:{tenant}:delayed:{name}
func delayedKey(tenantID, queueName string) string {
	return keyPrefix + tenantID + ":delayed:" + queueName
}

// inflightKey returns the Hash of in-flight messages for a tenant,
// keyed by message ID: conveyor:{tenant}:inflight
func inflightKey(tenantID string) string {
	return keyPrefix + tenantID + ":inflight"
}

// inflightOwnersKey is the global Hash mapping in-flight message IDs to
// their owning (tenant, queue), so cross-tenant acks fail closed.
const inflightOwnersKey = keyPrefix + "inflight_owners"

// queueTenantsKey returns the Set of tenants that have touched a queue:
// conveyor:queue_tenants:{name}
func queueTenantsKey(queueName string) string {
	return keyPrefix + "queue_tenants:" + queueName
}

// ── Resume token keys ──

// tokenKey returns the key for a workflow's resume token record:
// conveyor:{tenant}:token:{workflowID}
func tokenKey(tenantID, workflowID string) string {
	return keyPrefix + tenantID + ":token:" + workflowID
}

// ── Idempotency keys ──

// entryKey returns the key for a ledger entry:
// conveyor:{tenant}:idem:{endpoint}:{key}
func entryKey(tenantID, endpoint, key string) string {
	return keyPrefix + tenantID + ":idem:" + endpoint + ":" + key
}
