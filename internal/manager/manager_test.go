package manager_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/manager"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
	"github.com/relayq/relayq/internal/workererr"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "relayq-test.db")
	store, err := sqlstore.NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return manager.New(store)
}

func TestSendFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.CreateQueue(ctx, "test-queue", manager.DefaultQueueOptions()))

	id, err := m.Send(ctx, "test-queue", json.RawMessage(`{"message":"test job"}`), manager.SendOptions{})
	require.NoError(t, err)
	require.Len(t, id, 36)

	jobs, err := m.Fetch(ctx, "test-queue", manager.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].ID)
	require.JSONEq(t, `{"message":"test job"}`, string(jobs[0].Data))
}

func TestFetchPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.CreateQueue(ctx, "priority-queue", manager.DefaultQueueOptions()))

	for _, p := range []int16{1, 10, 5} {
		_, err := m.Send(ctx, "priority-queue", json.RawMessage(`{}`), manager.SendOptions{Priority: p})
		require.NoError(t, err)
	}

	jobs, err := m.Fetch(ctx, "priority-queue", manager.FetchOptions{BatchSize: 3})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.Equal(t, []int16{10, 5, 1}, []int16{jobs[0].Priority, jobs[1].Priority, jobs[2].Priority})
}

func TestSendDelayedStartAfter(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.CreateQueue(ctx, "delayed-queue", manager.DefaultQueueOptions()))

	startAfter := time.Now().UTC().Add(500 * time.Millisecond)
	_, err := m.Send(ctx, "delayed-queue", json.RawMessage(`{}`), manager.SendOptions{StartAfter: &startAfter})
	require.NoError(t, err)

	jobs, err := m.Fetch(ctx, "delayed-queue", manager.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Empty(t, jobs)

	time.Sleep(600 * time.Millisecond)
	jobs, err = m.Fetch(ctx, "delayed-queue", manager.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestSendSingletonDebounce(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.CreateQueue(ctx, "singleton-queue", manager.DefaultQueueOptions()))

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.Send(ctx, "singleton-queue", json.RawMessage(`{}`), manager.SendOptions{
			SingletonKey:     "unique-task",
			SingletonSeconds: 2,
		})
		require.NoError(t, err)
		if id != "" {
			ids = append(ids, id)
		}
	}

	jobs, err := m.Fetch(ctx, "singleton-queue", manager.FetchOptions{BatchSize: 10})
	require.NoError(t, err)
	require.LessOrEqual(t, len(jobs), 1)
}

func TestRetryExponentialBackoffDelay(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.CreateQueue(ctx, "backoff-queue", manager.QueueOptions{
		Policy:           "standard",
		RetryLimit:       3,
		RetryDelay:       1,
		RetryBackoff:     true,
		ExpireSeconds:    900,
		RetentionMinutes: 20160,
	}))

	id, err := m.Send(ctx, "backoff-queue", json.RawMessage(`{}`), manager.SendOptions{})
	require.NoError(t, err)

	before := time.Now().UTC()
	_, err = m.Retry(ctx, []string{id})
	require.NoError(t, err)

	job, err := m.GetJobByID(ctx, "backoff-queue", id, false)
	require.NoError(t, err)
	require.Equal(t, 1, job.RetryCount)
	// retry_delay(1) * 2^retry_count(0 at call time) == 1s.
	require.WithinDuration(t, before.Add(1*time.Second), job.StartAfter, 2*time.Second)

	before = time.Now().UTC()
	_, err = m.Retry(ctx, []string{id})
	require.NoError(t, err)

	job, err = m.GetJobByID(ctx, "backoff-queue", id, false)
	require.NoError(t, err)
	require.Equal(t, 2, job.RetryCount)
	// retry_delay(1) * 2^retry_count(1 at call time) == 2s.
	require.WithinDuration(t, before.Add(2*time.Second), job.StartAfter, 2*time.Second)
}

func TestDeadLetterRouting(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.CreateQueue(ctx, "dlq", manager.DefaultQueueOptions()))

	dlqName := "dlq"
	require.NoError(t, m.CreateQueue(ctx, "main", manager.QueueOptions{
		Policy:           "standard",
		RetryLimit:       1,
		ExpireSeconds:    900,
		RetentionMinutes: 20160,
		DeadLetter:       &dlqName,
	}))

	id, err := m.Send(ctx, "main", json.RawMessage(`{"payload":1}`), manager.SendOptions{})
	require.NoError(t, err)

	jobs, err := m.Fetch(ctx, "main", manager.FetchOptions{BatchSize: 1, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	failErr := workererr.Transient(errors.New("boom"))
	require.NoError(t, m.ReportFailure(ctx, jobs[0], failErr, json.RawMessage(`{"error":"boom"}`)))

	jobs, err = m.Fetch(ctx, "main", manager.FetchOptions{BatchSize: 1, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 1, jobs[0].RetryCount)

	require.NoError(t, m.ReportFailure(ctx, jobs[0], failErr, json.RawMessage(`{"error":"boom again"}`)))

	source, err := m.GetJobByID(ctx, "main", id, false)
	require.NoError(t, err)
	require.Equal(t, "failed", string(source.State))

	dlqJobs, err := m.Fetch(ctx, "dlq", manager.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Len(t, dlqJobs, 1)
	require.JSONEq(t, `{"payload":1}`, string(dlqJobs[0].Data))
}
