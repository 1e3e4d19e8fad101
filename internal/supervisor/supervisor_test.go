package supervisor_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/events"
	"github.com/relayq/relayq/internal/manager"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
	"github.com/relayq/relayq/internal/supervisor"
)

func TestExpirationAndMonitorTick(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "supervisor-test.db")
	store, err := sqlstore.NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	m := manager.New(store)
	require.NoError(t, m.CreateQueue(ctx, "expiring", manager.QueueOptions{
		Policy: "standard", ExpireSeconds: 1, RetentionMinutes: 20160,
	}))
	_, err = m.Send(ctx, "expiring", json.RawMessage(`{}`), manager.SendOptions{})
	require.NoError(t, err)

	jobs, err := m.Fetch(ctx, "expiring", manager.FetchOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	time.Sleep(1500 * time.Millisecond)

	n, err := store.ExpireActiveJobs(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	job, err := m.GetJobByID(ctx, "expiring", jobs[0].ID, false)
	require.NoError(t, err)
	require.Equal(t, "failed", string(job.State))

	sink := events.NewChanSink(8)
	sup := supervisor.New(store, supervisor.Config{
		MaintenanceInterval:  time.Hour,
		MonitorStateInterval: time.Hour,
	}, sink)

	tickCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go sup.Run(tickCtx)

	var sawMonitor bool
	for !sawMonitor {
		select {
		case ev := <-sink.C():
			if ev.Type == events.TypeMonitorStates {
				sawMonitor = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("monitor-states event never published")
		}
	}
}
