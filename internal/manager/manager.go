// Package manager implements the queue & job manager: the operation
// surface producers and workers call (send, fetch, complete, fail,
// cancel, resume, retry, delete, queue CRUD, pub/sub): one struct
// wrapping the storage pool, one short transaction per operation.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/ptr"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
	"github.com/relayq/relayq/internal/validate"
	"github.com/relayq/relayq/internal/workererr"
)

var tracer = otel.Tracer("github.com/relayq/relayq/internal/manager")

// Manager is the queue & job manager. Sends, inserts and CreateQueue
// check their input through internal/validate before touching
// storage; beyond that Manager handles orchestration and policy
// (singleton bucketing, dead-letter rewrite).
type Manager struct {
	store      *sqlstore.Store
	sink       events.Sink
	errHandler workererr.ErrorHandler
}

// New wraps a storage layer in a Manager.
func New(store *sqlstore.Store) *Manager {
	return &Manager{store: store, errHandler: &workererr.DefaultErrorHandler{}}
}

// SetErrorHandler replaces the telemetry hook invoked on every handler
// failure ReportFailure processes. The default logs structured errors.
func (m *Manager) SetErrorHandler(h workererr.ErrorHandler) {
	if h != nil {
		m.errHandler = h
	}
}

// SetSink attaches an event sink; accepted sends and inserts are
// announced through it as insert events.
func (m *Manager) SetSink(sink events.Sink) {
	m.sink = sink
}

func (m *Manager) announceInsert(queue string, count int) {
	if m.sink == nil || count == 0 {
		return
	}
	m.sink.Publish(events.Event{Type: events.TypeInsert, At: time.Now(), Payload: events.InsertPayload{
		Queue: queue, Count: count,
	}})
}

func (m *Manager) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Send validates-by-construction, resolves defaults from the target
// queue, computes the singleton bucket, and inserts one job in state
// `created`. Returns "" (not an error) when the singleton uniqueness
// constraint silently absorbed the row.
func (m *Manager) Send(ctx context.Context, queue string, data json.RawMessage, opts SendOptions) (string, error) {
	ctx, span := m.span(ctx, "manager.send", attribute.String("queue", queue))
	defer span.End()

	spec, err := m.buildInsertSpec(ctx, queue, data, opts)
	if err != nil {
		return "", err
	}

	ids, err := m.store.InsertJobs(ctx, []sqlstore.InsertSpec{spec})
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	if ids[0] != "" {
		m.announceInsert(queue, 1)
	}
	return ids[0], nil
}

// Insert is the bulk variant of Send, sharing per-row semantics.
func (m *Manager) Insert(ctx context.Context, queue string, items []InsertItem) ([]string, error) {
	ctx, span := m.span(ctx, "manager.insert", attribute.String("queue", queue), attribute.Int("count", len(items)))
	defer span.End()

	specs := make([]sqlstore.InsertSpec, 0, len(items))
	for _, it := range items {
		spec, err := m.buildInsertSpec(ctx, queue, it.Data, it.Opts)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	ids, err := m.store.InsertJobs(ctx, specs)
	if err != nil {
		return nil, err
	}
	accepted := 0
	for _, id := range ids {
		if id != "" {
			accepted++
		}
	}
	m.announceInsert(queue, accepted)
	return ids, nil
}

func (m *Manager) buildInsertSpec(ctx context.Context, queue string, data json.RawMessage, opts SendOptions) (sqlstore.InsertSpec, error) {
	queue, err := validate.QueueName(queue)
	if err != nil {
		return sqlstore.InsertSpec{}, err
	}
	if _, err := validate.Priority(int(opts.Priority)); err != nil {
		return sqlstore.InsertSpec{}, err
	}
	if opts.SingletonSeconds > 0 {
		if _, err := validate.SingletonSeconds(opts.SingletonSeconds); err != nil {
			return sqlstore.InsertSpec{}, err
		}
		if _, err := validate.SingletonKey(opts.SingletonKey); err != nil {
			return sqlstore.InsertSpec{}, err
		}
	}
	if opts.DeadLetter != nil {
		if _, err := validate.OptionalQueueName(opts.DeadLetter); err != nil {
			return sqlstore.InsertSpec{}, err
		}
	}

	q, err := m.store.GetQueue(ctx, queue)
	if err != nil {
		return sqlstore.InsertSpec{}, fmt.Errorf("send: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	startAfter := time.Now().UTC()
	if opts.StartAfter != nil {
		startAfter = opts.StartAfter.UTC()
	}

	retryLimit := ptr.Deref(opts.RetryLimit, q.RetryLimit)
	retryDelay := ptr.Deref(opts.RetryDelay, q.RetryDelay)
	retryBackoff := ptr.Deref(opts.RetryBackoff, q.RetryBackoff)
	expireInSeconds := ptr.Deref(opts.ExpireInSeconds, q.ExpireSeconds)
	deadLetter := q.DeadLetter
	if opts.DeadLetter != nil {
		deadLetter = opts.DeadLetter
	}

	keepUntil := startAfter.Add(14 * 24 * time.Hour)
	if opts.KeepUntil != nil {
		keepUntil = opts.KeepUntil.UTC()
	}

	var singletonKey *string
	var singletonOn *time.Time
	if opts.SingletonSeconds > 0 {
		key := opts.SingletonKey
		if key == "" {
			switch opts.Mode {
			case SingletonModeThrottle:
				key = "throttle_" + queue
			default:
				key = "debounce_" + queue
			}
		}
		bucket := quantizeBucket(time.Now().UTC(), opts.SingletonSeconds)
		singletonKey = &key
		singletonOn = &bucket
	}

	return sqlstore.InsertSpec{
		ID:              id,
		Name:            queue,
		Priority:        opts.Priority,
		Data:            data,
		StartAfter:      startAfter,
		SingletonKey:    singletonKey,
		SingletonOn:     singletonOn,
		RetryLimit:      retryLimit,
		RetryDelay:      retryDelay,
		RetryBackoff:    retryBackoff,
		ExpireInSeconds: expireInSeconds,
		KeepUntil:       keepUntil,
		DeadLetter:      deadLetter,
		Policy:          q.Policy,
	}, nil
}

// quantizeBucket floors t to the nearest multiple of seconds, the
// debounce/throttle/singleton bucket.
func quantizeBucket(t time.Time, seconds int) time.Time {
	unix := t.Unix()
	floored := (unix / int64(seconds)) * int64(seconds)
	return time.Unix(floored, 0).UTC()
}

// Fetch atomically claims up to opts.BatchSize jobs from queue. Claim
// contention (another fetcher held the row locks past the driver's
// lock-wait timeout) comes back as an empty batch, never an error.
func (m *Manager) Fetch(ctx context.Context, queue string, opts FetchOptions) ([]domain.Job, error) {
	ctx, span := m.span(ctx, "manager.fetch", attribute.String("queue", queue))
	defer span.End()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	jobs, err := m.store.Fetch(ctx, queue, sqlstore.ClaimSpec{
		BatchSize:   batchSize,
		MinPriority: opts.MinPriority,
	})
	if errors.Is(err, domain.ErrClaimContention) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !opts.IncludeMetadata {
		for i := range jobs {
			jobs[i] = domain.Job{
				ID:              jobs[i].ID,
				Name:            jobs[i].Name,
				Priority:        jobs[i].Priority,
				Data:            jobs[i].Data,
				State:           jobs[i].State,
				ExpireInSeconds: jobs[i].ExpireInSeconds,
			}
		}
	}
	return jobs, nil
}

// Complete transitions rows to completed.
func (m *Manager) Complete(ctx context.Context, ids []string, output json.RawMessage) (int64, error) {
	ctx, span := m.span(ctx, "manager.complete")
	defer span.End()
	return m.store.Complete(ctx, ids, output)
}

// Fail transitions rows directly to failed, with no retry bookkeeping.
// Callers that want the retry/dead-letter policy applied should use
// ReportFailure instead.
func (m *Manager) Fail(ctx context.Context, ids []string, output json.RawMessage) (int64, error) {
	ctx, span := m.span(ctx, "manager.fail")
	defer span.End()
	return m.store.Fail(ctx, ids, output)
}

// Cancel transitions any non-terminal row to cancelled.
func (m *Manager) Cancel(ctx context.Context, ids []string) (int64, error) {
	ctx, span := m.span(ctx, "manager.cancel")
	defer span.End()
	return m.store.Cancel(ctx, ids)
}

// Resume transitions cancelled rows back to created.
func (m *Manager) Resume(ctx context.Context, ids []string) (int64, error) {
	ctx, span := m.span(ctx, "manager.resume")
	defer span.End()
	return m.store.Resume(ctx, ids)
}

// Retry transitions rows to retry, advancing start_after by the row's
// own backoff schedule. This is the raw storage operation; see
// ReportFailure for the policy that decides whether to call it.
func (m *Manager) Retry(ctx context.Context, ids []string) (int64, error) {
	ctx, span := m.span(ctx, "manager.retry")
	defer span.End()
	return m.store.Retry(ctx, ids)
}

// DeleteJob hard-removes rows.
func (m *Manager) DeleteJob(ctx context.Context, ids []string) (int64, error) {
	ctx, span := m.span(ctx, "manager.delete")
	defer span.End()
	return m.store.DeleteJob(ctx, ids)
}

// GetJobByID is the primary job lookup, optionally falling back to the
// archive table.
func (m *Manager) GetJobByID(ctx context.Context, queue, id string, includeArchive bool) (*domain.Job, error) {
	ctx, span := m.span(ctx, "manager.get_job", attribute.String("queue", queue))
	defer span.End()
	return m.store.GetJobByID(ctx, queue, id, includeArchive)
}

// ReportFailure is the policy the worker runtime calls when a job's
// handler returns handlerErr: it decides between retry, dead-letter
// rewrite, and plain terminal failure. job must carry the queue's
// resolved retry_limit/retry_count/dead_letter at the time of the
// call. A nil handlerErr is
// a caller error (use Complete instead) and is treated as permanent.
func (m *Manager) ReportFailure(ctx context.Context, job domain.Job, handlerErr error, output json.RawMessage) error {
	ctx, span := m.span(ctx, "manager.report_failure", attribute.String("queue", job.Name), attribute.String("job_id", job.ID))
	defer span.End()

	if workererr.IsJobCancelled(handlerErr) {
		_, err := m.store.Cancel(ctx, []string{job.ID})
		return err
	}

	var hr *workererr.ErrorHandlerResult
	var panicErr workererr.PanicError
	if errors.As(handlerErr, &panicErr) {
		hr = m.errHandler.HandlePanic(ctx, &job, panicErr.Value, panicErr.StackTrace)
	} else if handlerErr != nil {
		hr = m.errHandler.HandleError(ctx, &job, handlerErr)
	}

	// Panics skip the retry budget entirely, going straight to the
	// limit-exceeded path below: a panic signals a programming error,
	// not a transient one. Every other handler error is retry-eligible
	// purely on retry_count vs retry_limit, unless the error handler
	// forced the job terminal.
	retryEligible := handlerErr != nil && !workererr.IsPanic(handlerErr) &&
		(hr == nil || !hr.SetCancelled)

	if retryEligible && job.RetryCount < job.RetryLimit {
		_, err := m.store.Retry(ctx, []string{job.ID})
		return err
	}

	if job.DeadLetter != nil && *job.DeadLetter != "" {
		spec, err := m.buildInsertSpec(ctx, *job.DeadLetter, job.Data, SendOptions{})
		if err != nil {
			return fmt.Errorf("report failure: dead-letter insert: %w", err)
		}
		if _, err := m.store.InsertJobs(ctx, []sqlstore.InsertSpec{spec}); err != nil {
			return fmt.Errorf("report failure: dead-letter insert: %w", err)
		}
	}

	_, err := m.store.Fail(ctx, []string{job.ID}, output)
	return err
}

// Publish reads subscription rows for event and sends one job per
// subscriber queue.
func (m *Manager) Publish(ctx context.Context, event string, data json.RawMessage, opts SendOptions) ([]string, error) {
	ctx, span := m.span(ctx, "manager.publish", attribute.String("event", event))
	defer span.End()

	subscribers, err := m.store.GetSubscribers(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	ids := make([]string, 0, len(subscribers))
	for _, queue := range subscribers {
		id, err := m.Send(ctx, queue, data, opts)
		if err != nil {
			return ids, fmt.Errorf("publish to %s: %w", queue, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Subscribe registers queue to receive fan-out sends for event.
func (m *Manager) Subscribe(ctx context.Context, event, queue string) error {
	return m.store.Subscribe(ctx, event, queue)
}

// Unsubscribe removes queue's registration for event.
func (m *Manager) Unsubscribe(ctx context.Context, event, queue string) error {
	return m.store.Unsubscribe(ctx, event, queue)
}

// CreateQueue creates queue metadata.
func (m *Manager) CreateQueue(ctx context.Context, name string, opts QueueOptions) error {
	ctx, span := m.span(ctx, "manager.create_queue", attribute.String("queue", name))
	defer span.End()

	name, err := validate.QueueName(name)
	if err != nil {
		return err
	}
	policy, err := validate.Policy(opts.Policy)
	if err != nil {
		return err
	}
	if _, err := validate.RetryLimit(opts.RetryLimit); err != nil {
		return err
	}
	if _, err := validate.NonNegativeSeconds("retryDelay", opts.RetryDelay, 0); err != nil {
		return err
	}
	if _, err := validate.ExpireSeconds(opts.ExpireSeconds); err != nil {
		return err
	}
	if _, err := validate.RetentionMinutes(opts.RetentionMinutes); err != nil {
		return err
	}
	deadLetter, err := validate.OptionalQueueName(opts.DeadLetter)
	if err != nil {
		return err
	}

	q := domain.Queue{
		Name:             name,
		Policy:           policy,
		RetryLimit:       opts.RetryLimit,
		RetryDelay:       opts.RetryDelay,
		RetryBackoff:     opts.RetryBackoff,
		ExpireSeconds:    opts.ExpireSeconds,
		RetentionMinutes: opts.RetentionMinutes,
		DeadLetter:       deadLetter,
	}
	return m.store.CreateQueue(ctx, q)
}

// UpdateQueue applies a validated field-mask patch to a queue.
func (m *Manager) UpdateQueue(ctx context.Context, p domain.UpdateQueueParams) error {
	ctx, span := m.span(ctx, "manager.update_queue", attribute.String("queue", p.Name))
	defer span.End()
	if err := p.Validate(); err != nil {
		return err
	}
	return m.store.UpdateQueue(ctx, p)
}

// DeleteQueue removes a queue, cascading to schedules/subscriptions.
func (m *Manager) DeleteQueue(ctx context.Context, name string) error {
	ctx, span := m.span(ctx, "manager.delete_queue", attribute.String("queue", name))
	defer span.End()
	return m.store.DeleteQueue(ctx, name)
}

// GetQueue fetches one queue's metadata.
func (m *Manager) GetQueue(ctx context.Context, name string) (*domain.Queue, error) {
	return m.store.GetQueue(ctx, name)
}

// GetQueues lists every queue's metadata.
func (m *Manager) GetQueues(ctx context.Context) ([]domain.Queue, error) {
	return m.store.GetQueues(ctx)
}

// GetQueueSize counts non-terminal jobs for a queue.
func (m *Manager) GetQueueSize(ctx context.Context, name string) (int64, error) {
	return m.store.GetQueueSize(ctx, name)
}

// PurgeQueue deletes all job rows for a queue.
func (m *Manager) PurgeQueue(ctx context.Context, name string) (int64, error) {
	ctx, span := m.span(ctx, "manager.purge_queue", attribute.String("queue", name))
	defer span.End()
	return m.store.PurgeQueue(ctx, name)
}

// ClearStorage truncates all five logical tables.
func (m *Manager) ClearStorage(ctx context.Context) error {
	ctx, span := m.span(ctx, "manager.clear_storage")
	defer span.End()
	return m.store.ClearStorage(ctx)
}
