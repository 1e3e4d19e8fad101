package sql_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/storage/compliance"
	sqlstore "github.com/relayq/relayq/internal/storage/sql"
)

func TestSQLiteStore_Compliance(t *testing.T) {
	compliance.RunStorageComplianceTest(t, func() (*sqlstore.Store, func()) {
		dbPath := filepath.Join(t.TempDir(), "compliance.db")
		store, err := sqlstore.NewSQLiteStore(context.Background(), dbPath)
		require.NoError(t, err)
		return store, func() { _ = store.Close() }
	})
}

// Two stores over the same database stand in for two independent
// processes: concurrent claims must partition the queue, never
// overlap.
func TestConcurrentFetchersNeverOverlap(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "concurrent.db")

	a, err := sqlstore.NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer a.Close()
	b, err := sqlstore.NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.CreateQueue(ctx, domain.Queue{
		Name: "contested", Policy: domain.PolicyStandard, ExpireSeconds: 900, RetentionMinutes: 1440,
	}))

	specs := make([]sqlstore.InsertSpec, 0, 10)
	for i := 0; i < 10; i++ {
		specs = append(specs, sqlstore.InsertSpec{
			ID: uuid.NewString(), Name: "contested", StartAfter: time.Now().UTC(),
			ExpireInSeconds: 900, KeepUntil: time.Now().UTC().Add(24 * time.Hour),
			Policy: domain.PolicyStandard,
		})
	}
	_, err = a.InsertJobs(ctx, specs)
	require.NoError(t, err)

	type claim struct {
		jobs []domain.Job
		err  error
	}
	results := make(chan claim, 2)
	for _, store := range []*sqlstore.Store{a, b} {
		store := store
		go func() {
			jobs, err := store.Fetch(ctx, "contested", sqlstore.ClaimSpec{BatchSize: 10})
			results <- claim{jobs, err}
		}()
	}

	seen := make(map[string]int)
	total := 0
	for i := 0; i < 2; i++ {
		c := <-results
		if errors.Is(c.err, domain.ErrClaimContention) {
			continue
		}
		require.NoError(t, c.err)
		for _, j := range c.jobs {
			seen[j.ID]++
			total++
		}
	}

	require.Equal(t, total, len(seen), "no job may be claimed by both fetchers")
	for id, n := range seen {
		require.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}
