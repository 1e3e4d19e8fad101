// Package relayq wires the storage layer, queue & job manager, worker
// runtime, supervisor, and timekeeper into a single Queue value with a
// Start/Stop lifecycle, forwarding every background component's
// activity through one event sink. Signal handling, CLI flags, and
// any HTTP surface belong to the embedding program.
package relayq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/manager"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
	"github.com/relayq/relayq/internal/supervisor"
	"github.com/relayq/relayq/internal/timekeeper"
	"github.com/relayq/relayq/internal/workerrt"
)

// Queue is the façade: one instance per process, wrapping a storage
// connection, the manager, the supervisor, the timekeeper, and a
// registry of worker runtimes.
type Queue struct {
	cfg *config.Config

	store      *sqlstore.Store
	manager    *manager.Manager
	supervisor *supervisor.Supervisor
	timekeeper *timekeeper.Timekeeper
	sink       *events.ChanSink

	mu        sync.Mutex
	starting  bool
	started   bool
	cancel    context.CancelFunc
	bgWG      sync.WaitGroup
	workers   map[string]*workerrt.Worker
	workersWG sync.WaitGroup
}

// New constructs a Queue from cfg without opening any connection;
// call Start to connect, migrate, and run the background loops.
func New(cfg *config.Config) *Queue {
	return &Queue{
		cfg:     cfg,
		sink:    events.NewChanSink(256),
		workers: make(map[string]*workerrt.Worker),
	}
}

// Events exposes the façade's single activity feed: errors, wip,
// job transitions, maintenance/monitor-states counts, schedule fires,
// and clock-skew warnings.
func (q *Queue) Events() <-chan events.Event {
	return q.sink.C()
}

// Start opens the connection pool, idempotently installs/migrates the
// schema, and starts the supervisor and timekeeper loops. A second
// Start call while the first is starting or already started is a
// no-op: concurrent Start calls collapse.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.starting || q.started {
		q.mu.Unlock()
		return nil
	}
	q.starting = true
	q.mu.Unlock()

	store, err := sqlstore.NewStore(ctx, q.storeConfig())
	if err != nil {
		q.mu.Lock()
		q.starting = false
		q.mu.Unlock()
		return fmt.Errorf("relayq: start: %w", err)
	}

	q.mu.Lock()
	q.store = store
	q.manager = manager.New(store)
	q.manager.SetSink(q.sink)
	q.supervisor = supervisor.New(store, q.supervisorConfig(), q.sink)
	q.timekeeper = timekeeper.New(store, q.sendFunc(), q.timekeeperConfig(), q.sink)

	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.starting = false
	q.started = true
	q.mu.Unlock()

	q.bgWG.Add(2)
	go func() { defer q.bgWG.Done(); q.supervisor.Run(runCtx) }()
	go func() { defer q.bgWG.Done(); q.timekeeper.Run(runCtx) }()

	return nil
}

// Stop sets every worker's stopping flag, waits for in-progress
// batches to drain (bounded by timeout), stops the supervisor and
// timekeeper loops, and closes the connection pool. A zero timeout
// falls back to the configured shutdown timeout (default 30s).
func (q *Queue) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = q.cfg.ShutdownTimeoutDuration()
	}

	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	store := q.store
	workers := make([]*workerrt.Worker, 0, len(q.workers))
	for _, w := range q.workers {
		workers = append(workers, w)
	}
	q.started = false
	q.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}

	drained := q.waitWorkers(workers, timeout)

	if cancel != nil {
		cancel()
	}
	q.bgWG.Wait()

	var closeErr error
	if store != nil {
		closeErr = store.Close()
	}

	q.sink.Publish(events.Event{Type: events.TypeStopped, At: time.Now(), Payload: events.StoppedPayload{
		Drained: drained,
	}})

	return closeErr
}

func (q *Queue) waitWorkers(workers []*workerrt.Worker, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			w.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Manager exposes the queue & job manager's full operation surface
// for callers that want it directly rather than through
// the worker registry below.
func (q *Queue) Manager() *manager.Manager {
	return q.manager
}

// Schedule upserts a cron schedule for queue: one
// schedule per queue, keyed by name. Rejects malformed cron
// expressions before touching storage; an unknown queue is rejected
// by the storage layer's foreign key.
func (q *Queue) Schedule(ctx context.Context, queue, cronExpr, timezone string, data, opts json.RawMessage) error {
	q.mu.Lock()
	tk := q.timekeeper
	q.mu.Unlock()
	if tk == nil {
		return fmt.Errorf("relayq: schedule: queue not started")
	}
	return tk.Schedule(ctx, queue, cronExpr, timezone, data, opts)
}

// Unschedule removes queue's cron schedule, if any.
func (q *Queue) Unschedule(ctx context.Context, queue string) error {
	q.mu.Lock()
	tk := q.timekeeper
	q.mu.Unlock()
	if tk == nil {
		return fmt.Errorf("relayq: unschedule: queue not started")
	}
	return tk.Unschedule(ctx, queue)
}

// RegisterWorker constructs and starts a polling worker over queue,
// claiming batches of batchSize and handing them to onBatch. interval
// defaults to the configured pollingIntervalSeconds when zero. The
// worker's batch outcome is applied back through
// manager.ReportFailure/Complete automatically.
func (q *Queue) RegisterWorker(queue string, interval time.Duration, batchSize int, onBatch workerrt.OnBatchFunc) (*workerrt.Worker, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return nil, fmt.Errorf("relayq: register worker: queue not started")
	}
	if interval <= 0 {
		interval = time.Duration(q.cfg.PollingIntervalSeconds) * time.Second
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	mgr := q.manager
	w := workerrt.New(workerrt.Config{
		Name:     queue,
		Interval: interval,
		Sink:     q.sink,
		Fetch: func(ctx context.Context) ([]domain.Job, error) {
			// The report path needs the retry/dead-letter bookkeeping
			// columns, so claim with full metadata.
			return mgr.Fetch(ctx, queue, manager.FetchOptions{BatchSize: batchSize, IncludeMetadata: true})
		},
		OnBatch: onBatch,
		Report: func(ctx context.Context, jobs []domain.Job, result workerrt.BatchResult) {
			ids := make([]string, len(jobs))
			for i, j := range jobs {
				ids[i] = j.ID
			}
			if !result.Failed {
				if _, err := mgr.Complete(ctx, ids, result.Output); err != nil {
					q.sink.Publish(events.Event{Type: events.TypeError, At: time.Now(), Payload: events.ErrorPayload{
						Source: "relayq:complete:" + queue, Err: err,
					}})
				}
				return
			}
			failErr := result.Err
			if failErr == nil {
				failErr = fmt.Errorf("batch failed")
			}
			output, _ := json.Marshal(map[string]string{"error": failErr.Error()})
			for _, j := range jobs {
				if err := mgr.ReportFailure(ctx, j, failErr, output); err != nil {
					q.sink.Publish(events.Event{Type: events.TypeError, At: time.Now(), Payload: events.ErrorPayload{
						Source: "relayq:report_failure:" + queue, Err: err,
					}})
				}
			}
		},
	})

	q.workers[w.ID()] = w
	q.workersWG.Add(1)
	go func() {
		defer q.workersWG.Done()
		w.Start(context.Background())
	}()
	return w, nil
}

// NotifyWorkers wakes every registered worker's abortable sleep early,
// for producers that want a just-sent job picked up sooner than the
// next poll tick.
func (q *Queue) NotifyWorkers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range q.workers {
		w.Notify()
	}
}

func (q *Queue) sendFunc() timekeeper.SendFunc {
	return func(ctx context.Context, queue string, data, options json.RawMessage) (string, error) {
		var opts manager.SendOptions
		if len(options) > 0 {
			if err := json.Unmarshal(options, &opts); err != nil {
				return "", fmt.Errorf("decode schedule options: %w", err)
			}
		}
		return q.manager.Send(ctx, queue, data, opts)
	}
}

func (q *Queue) storeConfig() sqlstore.DBConfig {
	dsn := q.cfg.ConnectionString
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
			q.cfg.Host, q.cfg.Port, q.cfg.User, q.cfg.Password, q.cfg.Database)
		if q.cfg.Driver == "postgres" && q.cfg.Schema != "" {
			dsn += " search_path=" + q.cfg.Schema
		}
	}
	return sqlstore.DBConfig{
		Driver:             q.cfg.Driver,
		DSN:                dsn,
		MaxOpenConns:       q.cfg.Pool.DBMaxOpenConns,
		MaxIdleConns:       q.cfg.Pool.DBMaxIdleConns,
		ConnMaxLifetime:    time.Duration(q.cfg.Pool.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime:    time.Duration(q.cfg.Pool.DBConnMaxIdleTime) * time.Second,
		AutoCreateDatabase: q.cfg.AutoCreateDatabase,
		Database:           q.cfg.Database,
		Schema:             q.cfg.Schema,
	}
}

func (q *Queue) supervisorConfig() supervisor.Config {
	return supervisor.Config{
		MaintenanceInterval:   time.Duration(q.cfg.MaintenanceIntervalSeconds) * time.Second,
		MonitorStateInterval:  time.Duration(q.cfg.MonitorStateIntervalSeconds) * time.Second,
		ArchiveInterval:       time.Duration(q.cfg.ArchiveInterval) * time.Second,
		ArchiveFailedInterval: time.Duration(q.cfg.ArchiveFailedInterval) * time.Second,
		DeleteAfter:           time.Duration(q.cfg.DeleteAfter) * time.Second,
		MaxStartupJitter:      10 * time.Second,
	}
}

func (q *Queue) timekeeperConfig() timekeeper.Config {
	return timekeeper.Config{
		TickInterval:         60 * time.Second,
		ArchiveInterval:      time.Duration(q.cfg.ArchiveInterval) * time.Second,
		ClockMonitorInterval: time.Duration(q.cfg.ClockMonitorIntervalSeconds) * time.Second,
		MaxStartupJitter:     10 * time.Second,
	}
}
