package relayq_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq"
	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/manager"
	"github.com/relayq/relayq/internal/workerrt"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "relayq.db")
	return &config.Config{
		Driver:                      "sqlite",
		ConnectionString:            fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", dbPath),
		ArchiveInterval:             86400,
		ArchiveFailedInterval:       86400,
		DeleteAfter:                 86400,
		MaintenanceIntervalSeconds:  300,
		MonitorStateIntervalSeconds: 60,
		ClockMonitorIntervalSeconds: 60,
		PollingIntervalSeconds:      1,
	}
}

func TestQueueStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	q := relayq.New(testConfig(t))
	require.NoError(t, q.Start(ctx))

	require.NoError(t, q.Start(ctx), "a second Start on an already started queue must be a no-op")

	require.NoError(t, q.Manager().CreateQueue(ctx, "work", manager.DefaultQueueOptions()))

	id, err := q.Manager().Send(ctx, "work", json.RawMessage(`{"n":1}`), manager.SendOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, q.Stop(5*time.Second))
}

func TestRegisterWorkerProcessesJobs(t *testing.T) {
	ctx := context.Background()
	q := relayq.New(testConfig(t))
	require.NoError(t, q.Start(ctx))
	defer q.Stop(5 * time.Second)

	require.NoError(t, q.Manager().CreateQueue(ctx, "batch", manager.DefaultQueueOptions()))

	processed := make(chan string, 1)
	_, err := q.RegisterWorker("batch", 20*time.Millisecond, 5, func(ctx context.Context, jobs []domain.Job) workerrt.BatchResult {
		for _, j := range jobs {
			processed <- j.ID
		}
		return workerrt.Ok(json.RawMessage(`{"ok":true}`))
	})
	require.NoError(t, err)

	id, err := q.Manager().Send(ctx, "batch", json.RawMessage(`{"n":1}`), manager.SendOptions{})
	require.NoError(t, err)

	q.NotifyWorkers()

	select {
	case gotID := <-processed:
		require.Equal(t, id, gotID)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process the job in time")
	}
}

func TestScheduleUpsertAndUnschedule(t *testing.T) {
	ctx := context.Background()
	q := relayq.New(testConfig(t))
	require.NoError(t, q.Start(ctx))
	defer q.Stop(5 * time.Second)

	require.NoError(t, q.Manager().CreateQueue(ctx, "cron-target", manager.DefaultQueueOptions()))

	require.NoError(t, q.Schedule(ctx, "cron-target", "*/5 * * * *", "UTC", json.RawMessage(`{"kind":"tick"}`), nil))
	// Re-scheduling the same queue is an upsert, not a duplicate row.
	require.NoError(t, q.Schedule(ctx, "cron-target", "*/10 * * * *", "UTC", json.RawMessage(`{"kind":"tick"}`), nil))

	require.Error(t, q.Schedule(ctx, "no-such-queue", "* * * * *", "UTC", nil, nil), "scheduling an unknown queue must be rejected")

	require.NoError(t, q.Unschedule(ctx, "cron-target"))
}

func TestEventsReportsStopped(t *testing.T) {
	ctx := context.Background()
	q := relayq.New(testConfig(t))
	require.NoError(t, q.Start(ctx))

	evCh := q.Events()

	require.NoError(t, q.Stop(5*time.Second))

	for {
		select {
		case ev := <-evCh:
			if ev.Type == events.TypeStopped {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("did not observe a stopped event")
		}
	}
}
