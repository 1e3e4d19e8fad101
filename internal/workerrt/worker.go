// Package workerrt implements the worker runtime: one independently
// scheduled polling loop per registered worker, with notification-
// driven immediate wake-up, an interval-aware abortable sleep,
// structured error reporting, and cooperative (non-preemptive) stop.
package workerrt

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/workererr"
)

// State is the worker's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateActive
	StateStopping
	StateStopped
)

// FetchFunc claims a batch of jobs for the worker's queue.
type FetchFunc func(ctx context.Context) ([]domain.Job, error)

// BatchResult is the tagged-union result a batch callback returns:
// either completion output or a failure reason.
type BatchResult struct {
	Failed bool
	Output json.RawMessage
	Err    error
}

// Ok builds a successful BatchResult.
func Ok(output json.RawMessage) BatchResult {
	return BatchResult{Output: output}
}

// Fail builds a failed BatchResult.
func Fail(err error) BatchResult {
	return BatchResult{Failed: true, Err: err}
}

// OnBatchFunc processes one claimed batch and reports the outcome.
type OnBatchFunc func(ctx context.Context, jobs []domain.Job) BatchResult

// ReportFunc applies a BatchResult to the claimed job ids: completing,
// failing, or retrying/dead-lettering them. Supplied by the façade,
// backed by manager.Manager.Complete/ReportFailure.
type ReportFunc func(ctx context.Context, jobs []domain.Job, result BatchResult)

// Config is the construction input for a Worker.
type Config struct {
	Name     string // target queue
	Interval time.Duration
	Fetch    FetchFunc
	OnBatch  OnBatchFunc
	Report   ReportFunc
	Sink     events.Sink
}

// Worker is one polling loop over a single queue.
type Worker struct {
	id   string
	name string
	cfg  Config

	mu           sync.Mutex
	state        State
	lastError    error
	lastErrorOn  time.Time
	lastJobStart time.Time

	notifyCh chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Worker in state created. Interval defaults to 2s
// when unset.
func New(cfg Config) *Worker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	cfg.Interval = interval

	return &Worker{
		id:       uuid.NewString(),
		name:     cfg.Name,
		cfg:      cfg,
		state:    StateCreated,
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the worker's instance-local identifier.
func (w *Worker) ID() string { return w.id }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Notify wakes an in-progress abortable sleep early, for producers
// that want their just-sent job picked up sooner than the next tick.
func (w *Worker) Notify() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

// Start runs the loop until Stop is called or ctx is cancelled.
// Returns once the current iteration (if any) has finished; in-flight
// batches are never preempted.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	w.state = StateActive
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		close(w.done)
	}()

	for {
		tickStart := time.Now()
		if err := w.runIteration(ctx); err != nil {
			w.mu.Lock()
			w.lastError = err
			w.lastErrorOn = time.Now()
			w.mu.Unlock()
			w.publish(events.Event{Type: events.TypeError, At: time.Now(), Payload: events.ErrorPayload{
				Source: "worker:" + w.name, Err: err,
			}})
		}

		if w.State() == StateStopping {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		elapsed := time.Since(tickStart)
		remaining := w.cfg.Interval - elapsed
		if remaining > 100*time.Millisecond {
			if !w.abortableSleep(ctx, remaining) {
				return
			}
		}
	}
}

// Stop sets the stopping flag and aborts any pending sleep. The
// current iteration, if running, completes uninterrupted.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateStopping || w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateStopping
	w.mu.Unlock()
	w.publish(events.Event{Type: events.TypeStop, At: time.Now(), Payload: events.StopPayload{
		WorkerID: w.id, Queue: w.name,
	}})
	close(w.stopCh)
}

// Done signals when the loop has fully exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the loop has exited (used by the façade's
// graceful-shutdown drain).
func (w *Worker) Wait() {
	<-w.done
}

func (w *Worker) abortableSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.notifyCh:
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) runIteration(ctx context.Context) error {
	jobs, err := w.cfg.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	w.mu.Lock()
	w.lastJobStart = time.Now()
	w.mu.Unlock()

	w.publish(events.Event{Type: events.TypeWIP, At: time.Now(), Payload: events.WIPPayload{
		WorkerID: w.id, Queue: w.name, Count: len(jobs),
	}})

	batchStart := time.Now()
	timeout := maxExpiry(jobs)
	result := w.runBatchWithTimeout(ctx, jobs, timeout)

	if w.cfg.Report != nil {
		w.cfg.Report(ctx, jobs, result)
	}

	w.publish(events.Event{Type: events.TypeWork, At: time.Now(), Payload: events.WorkPayload{
		WorkerID: w.id, Queue: w.name, Count: len(jobs),
		Failed: result.Failed, Elapsed: time.Since(batchStart),
	}})

	for _, j := range jobs {
		state := "completed"
		if result.Failed {
			state = "failed"
		}
		w.publish(events.Event{Type: events.TypeJob, At: time.Now(), Payload: events.JobPayload{
			ID: j.ID, Queue: w.name, State: state,
		}})
	}

	if result.Failed {
		return result.Err
	}
	return nil
}

func (w *Worker) runBatchWithTimeout(ctx context.Context, jobs []domain.Job, timeout time.Duration) (result BatchResult) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan BatchResult, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				resultCh <- Fail(workererr.PanicError{Value: r, StackTrace: string(debug.Stack())})
			}
		}()
		resultCh <- w.cfg.OnBatch(callCtx, jobs)
	}()

	select {
	case result = <-resultCh:
		return result
	case <-callCtx.Done():
		return Fail(fmt.Errorf("batch callback exceeded %s timeout", timeout))
	}
}

func maxExpiry(jobs []domain.Job) time.Duration {
	longest := 0
	for _, j := range jobs {
		if j.ExpireInSeconds > longest {
			longest = j.ExpireInSeconds
		}
	}
	if longest <= 0 {
		longest = 900
	}
	return time.Duration(longest) * time.Second
}

func (w *Worker) publish(ev events.Event) {
	if w.cfg.Sink == nil {
		return
	}
	w.cfg.Sink.Publish(ev)
}

// StartupJitter returns a small random delay before a loop's first
// tick, spreading a fleet's workers across the polling window instead
// of synchronizing on process start.
func StartupJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
