package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/workbenchio/conveyor/job"
)

// Logging returns middleware that logs job start and verdict.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		logger.Info("job started",
			slog.String("job_type", string(j.Type)),
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
		)

		start := time.Now()
		out := next(ctx)
		elapsed := time.Since(start)

		switch out.Kind {
		case job.OutcomeSucceeded:
			logger.Info("job completed",
				slog.String("job_type", string(j.Type)),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		case job.OutcomeInterrupt:
			logger.Info("job interrupted for review",
				slog.String("job_type", string(j.Type)),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.Any("reasons", out.Reasons),
			)
		default:
			logger.Error("job attempt failed",
				slog.String("job_type", string(j.Type)),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("outcome", string(out.Kind)),
				slog.String("error_code", out.ErrorCode),
				slog.String("error", out.ErrorMessage),
			)
		}

		return out
	}
}
