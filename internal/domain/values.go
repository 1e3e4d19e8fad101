package domain

// JobState represents a job's position in the lifecycle:
// created -> active -> {completed, failed, cancelled}, with
// retry and resume edges back into the non-terminal set.
// Value object - immutable string enum.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateRetry     JobState = "retry"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateCancelled JobState = "cancelled"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether s is one of the lifecycle's terminal
// states. Of these, only cancelled has an edge back (resume).
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateCancelled, JobStateFailed:
		return true
	default:
		return false
	}
}

// Fetchable reports whether a row in this state is eligible for
// claim by fetch, subject to its start_after guard.
func (s JobState) Fetchable() bool {
	return s == JobStateCreated || s == JobStateRetry
}

// Policy is the enumerated policy name stored on a queue (standard,
// short, singleton, stately) and copied onto each job at insertion.
// Admission does not branch on it: duplicates are dropped only through
// a job's singleton key and bucket (the SingletonKey, SingletonSeconds
// and Mode send options), whatever the queue's policy.
// Value object - immutable string enum.
type Policy string

const (
	PolicyStandard  Policy = "standard"
	PolicyShort     Policy = "short"
	PolicySingleton Policy = "singleton"
	PolicyStately   Policy = "stately"
)
