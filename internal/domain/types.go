package domain

import (
	"encoding/json"
	"time"
)

// Queue is the primary-key-on-name metadata row created by createQueue
// and referenced by every job sent to it.
type Queue struct {
	Name             string
	Policy           Policy
	RetryLimit       int
	RetryDelay       int // seconds
	RetryBackoff     bool
	ExpireSeconds    int
	RetentionMinutes int
	DeadLetter       *string // nullable, self-referential queue name
	CreatedOn        time.Time
	UpdatedOn        time.Time
}

// Job is a single unit of work addressed to a Queue. Identifiers
// are 128-bit UUIDv4 strings.
type Job struct {
	ID              string
	Name            string // target queue
	Priority        int16
	Data            json.RawMessage // nullable structured document
	State           JobState
	RetryLimit      int
	RetryCount      int
	RetryDelay      int
	RetryBackoff    bool
	StartAfter      time.Time
	StartedOn       *time.Time
	SingletonKey    *string
	SingletonOn     *time.Time // bucket-quantized
	ExpireInSeconds int
	CreatedOn       time.Time
	CompletedOn     *time.Time
	KeepUntil       time.Time
	Output          json.RawMessage // result or serialized error
	DeadLetter      *string
	Policy          Policy // resolved at insertion from the queue row
}

// Archive mirrors Job's shape plus the timestamp recording when the
// supervisor's archive pass copied the row.
type Archive struct {
	Job
	ArchivedOn time.Time
}

// Schedule is a cron entry bound one-to-one to a queue by name,
// cascade-deleted with its queue.
type Schedule struct {
	Name      string // foreign key to Queue.Name
	Cron      string // 5-field cron expression
	Timezone  string // IANA name, default "UTC"
	Data      json.RawMessage
	Options   json.RawMessage
	CreatedOn time.Time
	UpdatedOn time.Time
}

// Subscription fans an event out to a destination queue. Composite
// key (Event, Name); Name cascades on queue delete.
type Subscription struct {
	Event     string
	Name      string
	CreatedOn time.Time
}

// Version is the singleton coordination row: schema version plus the
// three leader-election timestamps consumed by the supervisor and
// timekeeper.
type Version struct {
	Version      int
	MaintainedOn *time.Time
	MonitoredOn  *time.Time
	CronOn       *time.Time
}
