// Package events defines the tagged-union envelope the manager,
// supervisor, timekeeper and worker runtime use to report activity to
// the façade: a single typed channel of Event values rather than many
// named streams.
package events

import "time"

// Type identifies which Payload variant an Event carries.
type Type string

const (
	TypeError         Type = "error"
	TypeWIP           Type = "wip"
	TypeJob           Type = "job"
	TypeInsert        Type = "insert"
	TypeWork          Type = "work"
	TypeStop          Type = "stop"
	TypeMaintenance   Type = "maintenance"
	TypeMonitorStates Type = "monitor-states"
	TypeSchedule      Type = "schedule"
	TypeClockSkew     Type = "clock-skew"
	TypeStopped       Type = "stopped"
)

// Event is the single envelope every background loop and manager
// operation publishes through. Payload holds one of the structs below,
// matching Type.
type Event struct {
	Type    Type
	At      time.Time
	Payload any
}

// ErrorPayload carries an operational error forwarded for observability,
// distinct from a validation failure (which is returned synchronously
// to the caller and never published here).
type ErrorPayload struct {
	Source string
	Err    error
}

// WIPPayload reports a worker's in-flight batch size, for dashboards.
type WIPPayload struct {
	WorkerID string
	Queue    string
	Count    int
}

// InsertPayload announces newly accepted jobs on a queue, a hint for
// consumers that want to wake a poll early.
type InsertPayload struct {
	Queue string
	Count int
}

// WorkPayload reports one finished worker batch.
type WorkPayload struct {
	WorkerID string
	Queue    string
	Count    int
	Failed   bool
	Elapsed  time.Duration
}

// StopPayload announces a single worker's stop request.
type StopPayload struct {
	WorkerID string
	Queue    string
}

// JobPayload announces the outcome a worker reported for one job of
// its batch: "completed", or "failed" (a failed job may still be moved
// to retry or dead-lettered by the manager).
type JobPayload struct {
	ID    string
	Queue string
	State string
}

// MaintenancePayload reports the row counts from one supervisor
// maintenance tick.
type MaintenancePayload struct {
	Expired  int64
	Archived int64
	Dropped  int64
}

// MonitorStatesPayload reports the three-way union of job-state counts
// from one monitor tick: per (queue, state), per state, and the total.
type MonitorStatesPayload struct {
	ByQueueState map[string]map[string]int64
	ByState      map[string]int64
	Total        int64
}

// SchedulePayload announces a cron firing.
type SchedulePayload struct {
	Name string
	Cron string
	Tz   string
}

// ClockSkewPayload reports the measured delta between the database
// server's clock and the local instance's clock.
type ClockSkewPayload struct {
	Delta     time.Duration
	Direction string // "ahead" or "behind", relative to the database
}

// StoppedPayload announces that the façade has finished a graceful
// shutdown.
type StoppedPayload struct {
	Drained bool
}

// Sink is anything that can receive published events. The façade wires
// a buffered channel sink by default; tests can supply a slice-backed
// one.
type Sink interface {
	Publish(Event)
}

// ChanSink is the default Sink: a buffered channel drained by whatever
// the façade's caller chooses to run (a log subscriber, a dashboard
// feed, or nothing at all if no one reads it; publishes never block
// past the buffer).
type ChanSink struct {
	ch chan Event
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan Event, buffer)}
}

// Publish enqueues ev, dropping it if the buffer is full rather than
// blocking the publisher.
func (s *ChanSink) Publish(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// C exposes the receive side for subscribers.
func (s *ChanSink) C() <-chan Event {
	return s.ch
}
