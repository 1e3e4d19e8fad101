// Package compliance runs one behavioral contract against any storage
// backend the package supports (postgres/mysql/sqlite), so a driver
// regression shows up as a compliance failure rather than a silent
// divergence between backends.
package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/domain"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
)

// RunStorageComplianceTest runs the standard set of storage-layer
// invariants against setup's Store. setup returns a fresh store and a
// teardown func, invoked once per sub-test so backends that can't
// share connections across sub-tests (sqlite file stores) still work.
func RunStorageComplianceTest(t *testing.T, setup func() (*sqlstore.Store, func())) {
	t.Run("SingletonCollisionIsSkippedNotErrored", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.CreateQueue(ctx, domain.Queue{
			Name: "singleton-q", Policy: domain.PolicyStandard, ExpireSeconds: 900, RetentionMinutes: 1440,
		}))

		key := "dup-key"
		bucket := time.Now().UTC().Truncate(time.Minute)
		spec := sqlstore.InsertSpec{
			ID: uuid.NewString(), Name: "singleton-q", Priority: 0,
			StartAfter: time.Now().UTC(), SingletonKey: &key, SingletonOn: &bucket,
			ExpireInSeconds: 900, KeepUntil: time.Now().UTC().Add(24 * time.Hour),
			Policy: domain.PolicyStandard,
		}
		spec2 := spec
		spec2.ID = uuid.NewString()

		ids, err := store.InsertJobs(ctx, []sqlstore.InsertSpec{spec, spec2})
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.NotEmpty(t, ids[0])
		assert.Empty(t, ids[1], "second row sharing the singleton bucket must be skipped, not errored")
	})

	t.Run("FetchClaimsEachJobExactlyOnce", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.CreateQueue(ctx, domain.Queue{
			Name: "claim-q", Policy: domain.PolicyStandard, ExpireSeconds: 900, RetentionMinutes: 1440,
		}))

		specs := make([]sqlstore.InsertSpec, 0, 5)
		for i := 0; i < 5; i++ {
			specs = append(specs, sqlstore.InsertSpec{
				ID: uuid.NewString(), Name: "claim-q", Priority: 0,
				StartAfter: time.Now().UTC(), ExpireInSeconds: 900,
				KeepUntil: time.Now().UTC().Add(24 * time.Hour), Policy: domain.PolicyStandard,
			})
		}
		ids, err := store.InsertJobs(ctx, specs)
		require.NoError(t, err)
		require.Len(t, ids, 5)

		first, err := store.Fetch(ctx, "claim-q", sqlstore.ClaimSpec{BatchSize: 3})
		require.NoError(t, err)
		assert.Len(t, first, 3)

		second, err := store.Fetch(ctx, "claim-q", sqlstore.ClaimSpec{BatchSize: 10})
		require.NoError(t, err)
		assert.Len(t, second, 2, "only the jobs not claimed by the first fetch remain")

		seen := make(map[string]bool)
		for _, j := range append(first, second...) {
			assert.False(t, seen[j.ID], "job %s claimed twice", j.ID)
			seen[j.ID] = true
		}
	})

	t.Run("FetchOrdersByPriorityThenAge", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.CreateQueue(ctx, domain.Queue{
			Name: "priority-q", Policy: domain.PolicyStandard, ExpireSeconds: 900, RetentionMinutes: 1440,
		}))

		low := sqlstore.InsertSpec{
			ID: uuid.NewString(), Name: "priority-q", Priority: 0,
			StartAfter: time.Now().UTC(), ExpireInSeconds: 900,
			KeepUntil: time.Now().UTC().Add(24 * time.Hour), Policy: domain.PolicyStandard,
		}
		high := low
		high.ID = uuid.NewString()
		high.Priority = 10

		_, err := store.InsertJobs(ctx, []sqlstore.InsertSpec{low, high})
		require.NoError(t, err)

		jobs, err := store.Fetch(ctx, "priority-q", sqlstore.ClaimSpec{BatchSize: 1})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, high.ID, jobs[0].ID, "higher priority job must be claimed first")
	})

	t.Run("CompleteAndFailAreTerminal", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.CreateQueue(ctx, domain.Queue{
			Name: "terminal-q", Policy: domain.PolicyStandard, ExpireSeconds: 900, RetentionMinutes: 1440,
		}))

		ids, err := store.InsertJobs(ctx, []sqlstore.InsertSpec{{
			ID: uuid.NewString(), Name: "terminal-q", StartAfter: time.Now().UTC(),
			ExpireInSeconds: 900, KeepUntil: time.Now().UTC().Add(24 * time.Hour), Policy: domain.PolicyStandard,
		}})
		require.NoError(t, err)
		jobID := ids[0]

		jobs, err := store.Fetch(ctx, "terminal-q", sqlstore.ClaimSpec{BatchSize: 1})
		require.NoError(t, err)
		require.Len(t, jobs, 1)

		affected, err := store.Complete(ctx, []string{jobID}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 1, affected)

		affected, err = store.Complete(ctx, []string{jobID}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 0, affected, "completing an already-terminal job is a no-op")

		affected, err = store.Fail(ctx, []string{jobID}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 0, affected, "failing an already-terminal job is a no-op")
	})

	t.Run("GetNonExistentJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.CreateQueue(ctx, domain.Queue{
			Name: "empty-q", Policy: domain.PolicyStandard, ExpireSeconds: 900, RetentionMinutes: 1440,
		}))

		_, err := store.GetJobByID(ctx, "empty-q", uuid.NewString(), true)
		assert.Error(t, err)
	})
}
