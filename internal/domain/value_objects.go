package domain

import (
	"fmt"
	"regexp"
)

var queueNameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// QueueName is a validated queue-name value object: non-empty, at
// most 255 characters, restricted to [A-Za-z0-9_.\-]+.
type QueueName struct {
	value string
}

// NewQueueName creates a new QueueName, validating the input.
func NewQueueName(s string) (QueueName, error) {
	if s == "" || len(s) > 255 || !queueNameRe.MatchString(s) {
		return QueueName{}, fmt.Errorf("%w: %q", ErrInvalidQueueName, s)
	}
	return QueueName{value: s}, nil
}

// String returns the queue name.
func (n QueueName) String() string {
	return n.value
}

// SingletonKey is a validated singleton/debounce/throttle key
// (at most 255 characters). An empty key is valid: the manager
// derives the default `debounce_<queue>`/`throttle_<queue>` key when
// none is supplied.
type SingletonKey struct {
	value string
}

// NewSingletonKey creates a new SingletonKey, validating the input.
func NewSingletonKey(s string) (SingletonKey, error) {
	if len(s) > 255 {
		return SingletonKey{}, fmt.Errorf("%w: exceeds 255 characters", ErrInvalidSingletonKey)
	}
	return SingletonKey{value: s}, nil
}

// String returns the key value.
func (k SingletonKey) String() string {
	return k.value
}

// NewPolicy validates and creates a Policy from its string form.
func NewPolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyStandard, nil
	}

	policy := Policy(s)

	switch policy {
	case PolicyStandard, PolicyShort, PolicySingleton, PolicyStately:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidPolicy, s)
	}
}

// NewJobState validates and creates a JobState from its string form.
func NewJobState(s string) (JobState, error) {
	state := JobState(s)

	switch state {
	case JobStateCreated, JobStateRetry, JobStateActive,
		JobStateCompleted, JobStateCancelled, JobStateFailed:
		return state, nil
	default:
		return "", fmt.Errorf("invalid job state: %s", s)
	}
}
