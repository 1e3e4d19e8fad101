package timekeeper_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/manager"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
	"github.com/relayq/relayq/internal/timekeeper"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "timekeeper-test.db")
	store, err := sqlstore.NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestScheduleRejectsUnknownQueue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := manager.New(store)

	tk := timekeeper.New(store, func(ctx context.Context, queue string, data, options json.RawMessage) (string, error) {
		return m.Send(ctx, queue, data, manager.SendOptions{})
	}, timekeeper.DefaultConfig(), nil)

	err := tk.Schedule(ctx, "ghost-queue", "*/5 * * * *", "UTC", nil, nil)
	require.Error(t, err)
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := manager.New(store)
	require.NoError(t, m.CreateQueue(ctx, "scheduled", manager.DefaultQueueOptions()))

	tk := timekeeper.New(store, nil, timekeeper.DefaultConfig(), nil)
	err := tk.Schedule(ctx, "scheduled", "not a cron expression", "UTC", nil, nil)
	require.Error(t, err)
}

func TestCronFiresWithinWindowOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := manager.New(store)
	require.NoError(t, m.CreateQueue(ctx, "cron-target", manager.DefaultQueueOptions()))

	var sent int
	send := func(ctx context.Context, queue string, data, options json.RawMessage) (string, error) {
		sent++
		return m.Send(ctx, queue, data, manager.SendOptions{})
	}

	tk := timekeeper.New(store, send, timekeeper.Config{
		TickInterval:         60 * time.Second,
		ArchiveInterval:      24 * time.Hour,
		ClockMonitorInterval: 60 * time.Second,
	}, nil)

	require.NoError(t, tk.Schedule(ctx, "cron-target", "* * * * *", "UTC", json.RawMessage(`{"hello":"cron"}`), nil))

	tickCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	tk.Run(tickCtx)

	require.Equal(t, 1, sent)

	jobs, err := m.Fetch(ctx, "cron-target", manager.FetchOptions{BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.JSONEq(t, `{"hello":"cron"}`, string(jobs[0].Data))
}

func TestCronDisabledBelowMinuteGranularity(t *testing.T) {
	store := newTestStore(t)
	tk := timekeeper.New(store, nil, timekeeper.Config{
		TickInterval:         60 * time.Second,
		ArchiveInterval:      30 * time.Second,
		ClockMonitorInterval: 60 * time.Second,
	}, nil)
	require.False(t, tk.Enabled())
}
