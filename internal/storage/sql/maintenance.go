package sql

import (
	"context"
	"fmt"
	"time"
)

// ExpireActiveJobs fails any `active` row whose start plus its
// expire_in_seconds has elapsed, recording a canned timeout output.
// Called by the maintenance pass only by whichever instance holds the
// maintenance lease.
func (s *Store) ExpireActiveJobs(ctx context.Context) (int64, error) {
	var cutoffExpr string
	switch s.Driver {
	case "postgres":
		cutoffExpr = `started_on + (expire_in_seconds * interval '1 second') < ?`
	case "mysql":
		cutoffExpr = `DATE_ADD(started_on, INTERVAL expire_in_seconds SECOND) < ?`
	default: // sqlite
		cutoffExpr = `datetime(started_on, '+' || expire_in_seconds || ' seconds') < ?`
	}

	query := s.rebind(fmt.Sprintf(
		`UPDATE job SET state = 'failed', completed_on = ?, output = %s
		 WHERE state = 'active' AND started_on IS NOT NULL AND %s`,
		expireOutputLiteral(s.Driver), cutoffExpr))

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query, now, now)
	if err != nil {
		return 0, fmt.Errorf("expire active jobs: %w", err)
	}
	return res.RowsAffected()
}

func expireOutputLiteral(driver string) string {
	const doc = `'{"error":"job expired"}'`
	if driver == "postgres" {
		return doc + "::jsonb"
	}
	return doc
}

// ArchiveCompletedJobs copies terminal rows older than the caller's
// cutoffs into archive and deletes them from job: failedBefore applies
// to failed rows, completedBefore to the other terminal states. Runs
// inside one
// transaction per call so a row is never visible in both tables.
func (s *Store) ArchiveCompletedJobs(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	columns := `id, name, priority, data, state, retry_limit, retry_count, retry_delay,
		retry_backoff, start_after, started_on, singleton_key, singleton_on,
		expire_in_seconds, created_on, completed_on, keep_until, output, dead_letter, policy`

	insertQuery := s.rebind(fmt.Sprintf(
		`INSERT INTO archive (%s)
		 SELECT %s FROM job
		 WHERE (state IN ('completed', 'cancelled') AND completed_on < ?)
		    OR (state = 'failed' AND completed_on < ?)`,
		columns, columns))

	if _, err := tx.ExecContext(ctx, insertQuery, completedBefore, failedBefore); err != nil {
		return 0, fmt.Errorf("copy jobs to archive: %w", err)
	}

	deleteQuery := s.rebind(
		`DELETE FROM job
		 WHERE (state IN ('completed', 'cancelled') AND completed_on < ?)
		    OR (state = 'failed' AND completed_on < ?)`)

	res, err := tx.ExecContext(ctx, deleteQuery, completedBefore, failedBefore)
	if err != nil {
		return 0, fmt.Errorf("delete archived jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive jobs: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive transaction: %w", err)
	}
	return n, nil
}

// DropStaleArchive deletes archive rows older than the retention
// cutoff, reclaiming storage for jobs nobody will ever query again.
func (s *Store) DropStaleArchive(ctx context.Context, before time.Time) (int64, error) {
	query := s.rebind(`DELETE FROM archive WHERE archived_on < ?`)
	res, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("drop stale archive: %w", err)
	}
	return res.RowsAffected()
}

// StateCounts is the per-state job tally published by the monitor
// tick's monitor-states event.
type StateCounts struct {
	Created   int64
	Retry     int64
	Active    int64
	Completed int64
	Cancelled int64
	Failed    int64
}

// CountStates tallies jobs across every state, for the monitor pass.
func (s *Store) CountStates(ctx context.Context) (StateCounts, error) {
	query := `SELECT state, COUNT(*) FROM job GROUP BY state`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return StateCounts{}, fmt.Errorf("count job states: %w", err)
	}
	defer rows.Close()

	var counts StateCounts
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return StateCounts{}, fmt.Errorf("scan state count: %w", err)
		}
		switch state {
		case "created":
			counts.Created = n
		case "retry":
			counts.Retry = n
		case "active":
			counts.Active = n
		case "completed":
			counts.Completed = n
		case "cancelled":
			counts.Cancelled = n
		case "failed":
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// CountStatesByQueue tallies jobs per (queue, state), the other half of
// the monitor tick's three-way union of counts.
func (s *Store) CountStatesByQueue(ctx context.Context) (map[string]map[string]int64, error) {
	query := `SELECT name, state, COUNT(*) FROM job GROUP BY name, state`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count job states by queue: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int64)
	for rows.Next() {
		var queue, state string
		var n int64
		if err := rows.Scan(&queue, &state, &n); err != nil {
			return nil, fmt.Errorf("scan queue state count: %w", err)
		}
		if out[queue] == nil {
			out[queue] = make(map[string]int64)
		}
		out[queue][state] = n
	}
	return out, rows.Err()
}
