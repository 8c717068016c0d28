package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conveyor: no store configured")
	ErrStoreClosed     = errors.New("conveyor: store closed")
	ErrMigrationFailed = errors.New("conveyor: migration failed")

	// Not found errors.
	ErrJobNotFound        = errors.New("conveyor: job not found")
	ErrMessageNotFound    = errors.New("conveyor: queue message not found")
	ErrEventNotFound      = errors.New("conveyor: outbox event not found")
	ErrDLQNotFound        = errors.New("conveyor: dlq item not found")
	ErrCheckpointNotFound = errors.New("conveyor: checkpoint not found")
	ErrTokenNotFound      = errors.New("conveyor: resume token not found")
	ErrEntryNotFound      = errors.New("conveyor: idempotency entry not found")

	// Conflict errors.
	ErrJobAlreadyExists   = errors.New("conveyor: job already exists")
	ErrEventAlreadyExists = errors.New("conveyor: outbox event already exists")
	ErrStatusConflict     = errors.New("conveyor: status changed concurrently")

	// Tenant scope violations always fail closed.
	ErrTenantMismatch = errors.New("conveyor: tenant mismatch")
)
