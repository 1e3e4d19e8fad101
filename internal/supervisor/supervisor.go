// Package supervisor runs the periodic background maintenance and
// monitor ticks: expiring timed-out active jobs, archiving terminal
// jobs, dropping stale archive rows, and emitting state counts. Each
// tick is guarded by a conditional-UPDATE lease on the version row so
// only one instance in a fleet runs it per interval.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/relayq/relayq/internal/events"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
)

// Config holds the supervisor's tick cadences and retention windows.
type Config struct {
	MaintenanceInterval   time.Duration
	MonitorStateInterval  time.Duration
	ArchiveInterval       time.Duration
	ArchiveFailedInterval time.Duration
	DeleteAfter           time.Duration
	MaxStartupJitter      time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaintenanceInterval:   300 * time.Second,
		MonitorStateInterval:  60 * time.Second,
		ArchiveInterval:       86400 * time.Second,
		ArchiveFailedInterval: 86400 * time.Second,
		DeleteAfter:           86400 * time.Second,
		MaxStartupJitter:      10 * time.Second,
	}
}

// Supervisor owns the two background ticks.
type Supervisor struct {
	store *sqlstore.Store
	cfg   Config
	sink  events.Sink

	maintenanceRunning chan struct{} // non-reentrant guard, len-1 buffered
	monitorRunning     chan struct{}
}

// New constructs a Supervisor over store.
func New(store *sqlstore.Store, cfg Config, sink events.Sink) *Supervisor {
	return &Supervisor{
		store:              store,
		cfg:                cfg,
		sink:               sink,
		maintenanceRunning: make(chan struct{}, 1),
		monitorRunning:     make(chan struct{}, 1),
	}
}

// Run drives both ticks until ctx is cancelled. Intended to be run in
// its own goroutine by the façade.
func (s *Supervisor) Run(ctx context.Context) {
	jitter := startupJitter(s.cfg.MaxStartupJitter)
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	maintTicker := time.NewTicker(s.cfg.MaintenanceInterval)
	monitorTicker := time.NewTicker(s.cfg.MonitorStateInterval)
	defer maintTicker.Stop()
	defer monitorTicker.Stop()

	s.runMaintenanceTick(ctx)
	s.runMonitorTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-maintTicker.C:
			s.runMaintenanceTick(ctx)
		case <-monitorTicker.C:
			s.runMonitorTick(ctx)
		}
	}
}

func (s *Supervisor) runMaintenanceTick(ctx context.Context) {
	select {
	case s.maintenanceRunning <- struct{}{}:
	default:
		return // previous tick still running on this instance
	}
	defer func() { <-s.maintenanceRunning }()

	now := time.Now().UTC()
	cutoff := now.Add(-s.cfg.MaintenanceInterval)
	won, err := s.store.TryAcquireMaintenance(ctx, now, cutoff)
	if err != nil {
		s.publishError("supervisor:maintenance", err)
		return
	}
	if !won {
		slog.DebugContext(ctx, "maintenance tick skipped, another instance holds the lease")
		return
	}

	expired, err := s.store.ExpireActiveJobs(ctx)
	if err != nil {
		s.publishError("supervisor:maintenance:expire", err)
		return
	}

	archived, err := s.store.ArchiveCompletedJobs(ctx,
		now.Add(-s.cfg.ArchiveInterval), now.Add(-s.cfg.ArchiveFailedInterval))
	if err != nil {
		s.publishError("supervisor:maintenance:archive", err)
		return
	}

	dropped, err := s.store.DropStaleArchive(ctx, now.Add(-s.cfg.DeleteAfter))
	if err != nil {
		s.publishError("supervisor:maintenance:drop", err)
		return
	}

	s.publish(events.Event{Type: events.TypeMaintenance, At: now, Payload: events.MaintenancePayload{
		Expired: expired, Archived: archived, Dropped: dropped,
	}})
}

func (s *Supervisor) runMonitorTick(ctx context.Context) {
	select {
	case s.monitorRunning <- struct{}{}:
	default:
		return
	}
	defer func() { <-s.monitorRunning }()

	now := time.Now().UTC()
	cutoff := now.Add(-s.cfg.MonitorStateInterval)
	won, err := s.store.TryAcquireMonitor(ctx, now, cutoff)
	if err != nil {
		s.publishError("supervisor:monitor", err)
		return
	}
	if !won {
		slog.DebugContext(ctx, "monitor tick skipped, another instance holds the lease")
		return
	}

	counts, err := s.store.CountStates(ctx)
	if err != nil {
		s.publishError("supervisor:monitor:count", err)
		return
	}
	byQueueState, err := s.store.CountStatesByQueue(ctx)
	if err != nil {
		s.publishError("supervisor:monitor:count_by_queue", err)
		return
	}

	byState := map[string]int64{
		"created":   counts.Created,
		"retry":     counts.Retry,
		"active":    counts.Active,
		"completed": counts.Completed,
		"cancelled": counts.Cancelled,
		"failed":    counts.Failed,
	}
	total := counts.Created + counts.Retry + counts.Active + counts.Completed + counts.Cancelled + counts.Failed

	s.publish(events.Event{Type: events.TypeMonitorStates, At: now, Payload: events.MonitorStatesPayload{
		ByQueueState: byQueueState,
		ByState:      byState,
		Total:        total,
	}})
}

func (s *Supervisor) publish(ev events.Event) {
	if s.sink != nil {
		s.sink.Publish(ev)
	}
}

func (s *Supervisor) publishError(source string, err error) {
	s.publish(events.Event{Type: events.TypeError, At: time.Now(), Payload: events.ErrorPayload{
		Source: source, Err: fmt.Errorf("%s: %w", source, err),
	}})
}

func startupJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
