package workerrt_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/workerrt"
)

func TestWorkerProcessesBatchAndStops(t *testing.T) {
	var fetched int32
	var reported int32

	fetch := func(ctx context.Context) ([]domain.Job, error) {
		if atomic.AddInt32(&fetched, 1) > 1 {
			return nil, nil
		}
		return []domain.Job{{ID: "job-1", Name: "q", ExpireInSeconds: 5}}, nil
	}

	w := workerrt.New(workerrt.Config{
		Name:     "q",
		Interval: 20 * time.Millisecond,
		Fetch:    fetch,
		OnBatch: func(ctx context.Context, jobs []domain.Job) workerrt.BatchResult {
			return workerrt.Ok(json.RawMessage(`{"ok":true}`))
		},
		Report: func(ctx context.Context, jobs []domain.Job, result workerrt.BatchResult) {
			atomic.AddInt32(&reported, int32(len(jobs)))
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Wait()

	require.EqualValues(t, 1, reported)
	require.Equal(t, workerrt.StateStopped, w.State())
}

func TestWorkerBatchTimeout(t *testing.T) {
	fetch := func(ctx context.Context) ([]domain.Job, error) {
		return []domain.Job{{ID: "slow-job", Name: "q", ExpireInSeconds: 1}}, nil
	}

	reported := make(chan workerrt.BatchResult, 1)
	w := workerrt.New(workerrt.Config{
		Name:     "q",
		Interval: time.Hour,
		Fetch:    fetch,
		OnBatch: func(ctx context.Context, jobs []domain.Job) workerrt.BatchResult {
			// Ignores ctx deliberately: the outer timeout, not the
			// handler's own cooperation, must still bound the batch.
			<-time.After(10 * time.Second)
			return workerrt.Ok(nil)
		},
		Report: func(ctx context.Context, jobs []domain.Job, result workerrt.BatchResult) {
			reported <- result
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	select {
	case result := <-reported:
		require.True(t, result.Failed)
		require.Error(t, result.Err)
	case <-time.After(3 * time.Second):
		t.Fatal("batch was never failed by the expiry timeout")
	}
	w.Stop()
}
