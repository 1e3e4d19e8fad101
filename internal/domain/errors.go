package domain

import "errors"

// Domain errors - returned by storage implementations and checked by
// the manager layer.

var (
	// ErrQueueNotFound indicates the named queue does not exist.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrJobNotFound indicates no job exists with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueAlreadyExists indicates createQueue was called for a
	// name that already has a row.
	ErrQueueAlreadyExists = errors.New("queue already exists")

	// ErrInvalidQueueName indicates a queue name fails the admission
	// validator's character-class or length rule.
	ErrInvalidQueueName = errors.New("invalid queue name")

	// ErrInvalidPolicy indicates a policy string is not one of the
	// enumerated set.
	ErrInvalidPolicy = errors.New("invalid queue policy")

	// ErrInvalidSingletonKey indicates a singleton key exceeds the
	// maximum length.
	ErrInvalidSingletonKey = errors.New("invalid singleton key")

	// ErrInvalidDuration is returned by internal/validate for
	// negative or out-of-range durations and retry limits.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrDurationEmpty indicates an empty ISO 8601 duration string.
	ErrDurationEmpty = errors.New("duration string is empty")

	// ErrInvalidDurationFormat indicates malformed ISO 8601 input.
	ErrInvalidDurationFormat = errors.New("invalid ISO 8601 duration format")

	// ErrEmptyUpdateMask indicates UpdateQueueParams.Validate was
	// called with a nil/empty UpdateMask.
	ErrEmptyUpdateMask = errors.New("update mask is empty")

	// ErrUnknownField indicates UpdateMask names a field the update
	// params type does not recognize.
	ErrUnknownField = errors.New("unknown field in update mask")

	// ErrClaimContention is returned by the storage layer when a
	// fetch's row lock could not be acquired before the driver's
	// lock-wait timeout elapsed. It is never a caller-visible error:
	// the manager maps it to an empty batch.
	ErrClaimContention = errors.New("claim contention: lock wait timeout")

	// ErrRetryLimitExceeded signals the caller-visible reason a fail
	// terminated the job instead of scheduling a retry.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrScheduleQueueNotFound remaps a schedule foreign-key violation
	// to a user-facing "queue not found" error.
	ErrScheduleQueueNotFound = errors.New("schedule: queue not found")
)
