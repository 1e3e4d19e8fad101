package workererr

import (
	"context"
	"log/slog"

	"github.com/relayq/relayq/internal/domain"
)

// ErrorHandler processes job errors and panics for telemetry hooks
// (metrics, alerting), independent of the retry decision itself.
type ErrorHandler interface {
	// HandleError is called when a handler returns an error. Return
	// nil to follow the queue's normal retry policy, or a result with
	// SetCancelled to force the job to a terminal failure.
	HandleError(ctx context.Context, job *domain.Job, err error) *ErrorHandlerResult

	// HandlePanic is called when a handler panics. Panics always
	// terminate the job with no retries regardless of the returned
	// result; this is a hook for logging/telemetry only.
	HandlePanic(ctx context.Context, job *domain.Job, panicVal any, stackTrace string) *ErrorHandlerResult
}

// ErrorHandlerResult controls job behavior after an error or panic.
type ErrorHandlerResult struct {
	// SetCancelled permanently fails the job, preventing further
	// retries, even if the error would otherwise be retryable.
	SetCancelled bool
}

// DefaultErrorHandler logs errors and panics with structured logging
// and otherwise defers to the queue's configured retry policy.
type DefaultErrorHandler struct{}

func (h *DefaultErrorHandler) HandleError(ctx context.Context, job *domain.Job, err error) *ErrorHandlerResult {
	slog.ErrorContext(ctx, "job failed",
		slog.String("job_id", job.ID),
		slog.String("queue", job.Name),
		slog.Int("retry_count", job.RetryCount),
		slog.String("error", err.Error()),
		slog.Bool("retryable", IsRetryable(err)),
	)
	return nil
}

func (h *DefaultErrorHandler) HandlePanic(ctx context.Context, job *domain.Job, panicVal any, stackTrace string) *ErrorHandlerResult {
	slog.ErrorContext(ctx, "job panicked",
		slog.String("job_id", job.ID),
		slog.String("queue", job.Name),
		slog.Any("panic_value", panicVal),
		slog.String("stack_trace", stackTrace),
	)
	return nil
}
