package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/id"
)

// TokenRegistry issues and redeems interrupt resume tokens. Each
// interrupted workflow carries exactly one live token: issuing a new
// one overwrites the previous record, and consuming flips the record
// to used so a second submission with the same token is rejected.
type TokenRegistry struct {
	store  TokenStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// TokenOption configures a TokenRegistry.
type TokenOption func(*TokenRegistry)

// WithTokenLogger sets the registry's logger.
func WithTokenLogger(l *slog.Logger) TokenOption {
	return func(r *TokenRegistry) { r.logger = l }
}

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) TokenOption {
	return func(r *TokenRegistry) { r.now = now }
}

// NewTokenRegistry creates a token registry with the given TTL.
func NewTokenRegistry(store TokenStore, ttl time.Duration, opts ...TokenOption) *TokenRegistry {
	r := &TokenRegistry{
		store:  store,
		ttl:    ttl,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issue mints a fresh single-use token for an interrupted workflow and
// persists it, replacing any previous token for the same workflow.
func (r *TokenRegistry) Issue(ctx context.Context, tenantID string, workflowID id.ID, reasons []string) (*TokenRecord, error) {
	rec := &TokenRecord{
		WorkflowID: workflowID,
		TenantID:   tenantID,
		Token:      id.NewTokenID().String(),
		Reasons:    reasons,
		IssuedAt:   r.now(),
	}
	if err := r.store.PutToken(ctx, rec); err != nil {
		return nil, err
	}
	r.logger.Debug("resume token issued",
		slog.String("tenant_id", tenantID),
		slog.String("workflow_id", workflowID.String()))
	return rec, nil
}

// Validate checks a presented token against the stored record without
// consuming it. All failure modes return a security-class fault so the
// caller cannot distinguish a wrong token from a missing workflow.
func (r *TokenRegistry) Validate(ctx context.Context, tenantID string, workflowID id.ID, token string) (*TokenRecord, error) {
	rec, err := r.store.GetToken(ctx, tenantID, workflowID)
	if err != nil {
		return nil, fault.Security(fault.CodeResumeTokenInvalid, "resume token is not valid for this workflow").WithCause(err)
	}
	if rec.Token != token || token == "" {
		return nil, fault.Security(fault.CodeResumeTokenInvalid, "resume token is not valid for this workflow")
	}
	if rec.Used {
		return nil, fault.Security(fault.CodeResumeTokenUsed, "resume token has already been used")
	}
	if r.ttl > 0 && r.now().After(rec.IssuedAt.Add(r.ttl)) {
		return nil, fault.Security(fault.CodeResumeTokenExpired, "resume token has expired")
	}
	return rec, nil
}

// Consume validates a token and atomically marks it used. A token that
// loses the race to a concurrent consume fails with the already-used
// fault even though its own Validate passed.
func (r *TokenRegistry) Consume(ctx context.Context, tenantID string, workflowID id.ID, token string) (*TokenRecord, error) {
	rec, err := r.Validate(ctx, tenantID, workflowID, token)
	if err != nil {
		return nil, err
	}
	if err := r.store.ConsumeToken(ctx, tenantID, workflowID, token); err != nil {
		return nil, fault.Security(fault.CodeResumeTokenUsed, "resume token has already been used").WithCause(err)
	}
	r.logger.Info("resume token consumed",
		slog.String("tenant_id", tenantID),
		slog.String("workflow_id", workflowID.String()))
	rec.Used = true
	return rec, nil
}

// Reinstate restores a consumed token so it can be presented again. It
// exists for callers that consume a token and then fail to durably act
// on it: the record is written back unused with its original value and
// issue time, so the TTL keeps running from the original issue.
func (r *TokenRegistry) Reinstate(ctx context.Context, rec *TokenRecord) error {
	restored := *rec
	restored.Used = false
	if err := r.store.PutToken(ctx, &restored); err != nil {
		return err
	}
	r.logger.Warn("resume token reinstated",
		slog.String("tenant_id", rec.TenantID),
		slog.String("workflow_id", rec.WorkflowID.String()))
	return nil
}
