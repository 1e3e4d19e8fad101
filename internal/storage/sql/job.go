package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relayq/relayq/internal/domain"
)

// InsertSpec is the per-row input to InsertJobs, already normalized by
// the admission validator: an id, target queue, and the queue's
// resolved policy/retry defaults applied where the caller didn't
// override them.
type InsertSpec struct {
	ID              string
	Name            string
	Priority        int16
	Data            json.RawMessage
	StartAfter      time.Time
	SingletonKey    *string
	SingletonOn     *time.Time
	RetryLimit      int
	RetryDelay      int
	RetryBackoff    bool
	ExpireInSeconds int
	KeepUntil       time.Time
	DeadLetter      *string
	Policy          domain.Policy
}

// InsertJobs inserts a batch of jobs in state `created`, one
// statement-scoped transaction per call. A row whose singleton
// uniqueness constraint collides is silently skipped (conflict is not
// an error): its slot in the returned ids is "".
func (s *Store) InsertJobs(ctx context.Context, specs []InsertSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	columns := `(id, name, priority, data, state, retry_limit, retry_delay, retry_backoff,
		 start_after, singleton_key, singleton_on, expire_in_seconds, keep_until,
		 dead_letter, policy)`
	values := `VALUES (?, ?, ?, ?, 'created', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var query string
	switch s.Driver {
	case "mysql":
		query = s.rebind(fmt.Sprintf("INSERT IGNORE INTO job %s %s", columns, values))
	default: // postgres, sqlite both understand ON CONFLICT DO NOTHING
		query = s.rebind(fmt.Sprintf("INSERT INTO job %s %s ON CONFLICT DO NOTHING", columns, values))
	}

	ids := make([]string, len(specs))
	for i, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		}

		res, err := tx.ExecContext(ctx, query,
			id, spec.Name, spec.Priority, nullableJSON(spec.Data),
			spec.RetryLimit, spec.RetryDelay, spec.RetryBackoff,
			spec.StartAfter, spec.SingletonKey, spec.SingletonOn,
			spec.ExpireInSeconds, spec.KeepUntil, spec.DeadLetter, string(spec.Policy),
		)
		if err != nil {
			return nil, fmt.Errorf("insert job %d: %w", i, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert job %d: rows affected: %w", i, err)
		}
		if n > 0 {
			ids[i] = id
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert transaction: %w", err)
	}

	return ids, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// ClaimSpec bounds one fetch-and-claim call.
type ClaimSpec struct {
	BatchSize   int
	MinPriority *int16 // claim only rows at or above this priority
}

// Fetch atomically claims up to spec.BatchSize rows from queue in
// state `created`/`retry` whose start_after has elapsed, ordered by
// (priority DESC, created_on ASC, id ASC), and transitions them to
// `active`. A lock-wait-timeout is translated to
// domain.ErrClaimContention rather than propagated.
func (s *Store) Fetch(ctx context.Context, queue string, spec ClaimSpec) ([]domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fetch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lockClause := ""
	if s.Driver == "postgres" || s.Driver == "mysql" {
		// SQLite has no row-level locking; BeginTx's write-lock over
		// the whole database is this dialect's substitute.
		lockClause = "FOR UPDATE"
	}

	priorityClause := ""
	args := []any{queue, time.Now().UTC()}
	if spec.MinPriority != nil {
		priorityClause = "AND priority >= ?"
		args = append(args, *spec.MinPriority)
	}
	args = append(args, spec.BatchSize)

	selectQuery := s.rebind(fmt.Sprintf(`SELECT id, name, priority, data, state, retry_limit,
		retry_count, retry_delay, retry_backoff, start_after, started_on,
		singleton_key, singleton_on, expire_in_seconds, created_on, completed_on,
		keep_until, output, dead_letter, policy
		FROM job
		WHERE name = ? AND state IN ('created', 'retry') AND start_after <= ? %s
		ORDER BY priority DESC, created_on ASC, id ASC
		LIMIT ?
		%s`, priorityClause, lockClause))

	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		if isLockWaitTimeout(err) {
			slog.WarnContext(ctx, "fetch lock wait timeout", "queue", queue)
			return nil, domain.ErrClaimContention
		}
		return nil, fmt.Errorf("select claimable jobs: %w", err)
	}

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := scanJob(rows, &j); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimable jobs: %w", err)
	}
	rows.Close()

	if len(jobs) == 0 {
		return nil, nil
	}

	startedOn := time.Now().UTC()
	ids := make([]string, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].ID
		jobs[i].State = domain.JobStateActive
		jobs[i].StartedOn = &startedOn
	}

	updateQuery := s.rebind(fmt.Sprintf(
		`UPDATE job SET state = 'active', started_on = ? WHERE id IN (%s)`,
		placeholders(len(ids))))
	claimArgs := append([]any{startedOn}, toAny(ids)...)
	if _, err := tx.ExecContext(ctx, updateQuery, claimArgs...); err != nil {
		if isLockWaitTimeout(err) {
			slog.WarnContext(ctx, "fetch lock wait timeout", "queue", queue)
			return nil, domain.ErrClaimContention
		}
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fetch transaction: %w", err)
	}

	return jobs, nil
}

// Complete transitions rows to `completed` and records the output.
func (s *Store) Complete(ctx context.Context, ids []string, output json.RawMessage) (int64, error) {
	return s.transitionTerminal(ctx, ids, domain.JobStateCompleted, output)
}

// Fail transitions rows to `failed` and records the output. It does
// not itself perform retry bookkeeping (the manager decides whether
// to call Retry or accept the terminal failure).
func (s *Store) Fail(ctx context.Context, ids []string, output json.RawMessage) (int64, error) {
	return s.transitionTerminal(ctx, ids, domain.JobStateFailed, output)
}

func (s *Store) transitionTerminal(ctx context.Context, ids []string, state domain.JobState, output json.RawMessage) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := s.rebind(fmt.Sprintf(
		`UPDATE job SET state = ?, completed_on = ?, output = ? WHERE id IN (%s) AND state NOT IN ('completed', 'cancelled', 'failed')`,
		placeholders(len(ids))))
	args := append([]any{string(state), time.Now().UTC(), nullableJSON(output)}, toAny(ids)...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("transition jobs to %s: %w", state, err)
	}
	return res.RowsAffected()
}

// Cancel transitions any non-terminal row to `cancelled`.
func (s *Store) Cancel(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := s.rebind(fmt.Sprintf(
		`UPDATE job SET state = 'cancelled', completed_on = ?
		 WHERE id IN (%s) AND state NOT IN ('completed', 'cancelled', 'failed')`,
		placeholders(len(ids))))
	args := append([]any{time.Now().UTC()}, toAny(ids)...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs: %w", err)
	}
	return res.RowsAffected()
}

// Resume transitions `cancelled` rows back to `created`, clearing
// started_on/completed_on. It has no effect on other states.
func (s *Store) Resume(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := s.rebind(fmt.Sprintf(
		`UPDATE job SET state = 'created', started_on = NULL, completed_on = NULL
		 WHERE id IN (%s) AND state = 'cancelled'`,
		placeholders(len(ids))))
	res, err := s.db.ExecContext(ctx, query, toAny(ids)...)
	if err != nil {
		return 0, fmt.Errorf("resume jobs: %w", err)
	}
	return res.RowsAffected()
}

// Retry transitions rows to `retry`, increments retry_count, clears
// completed_on, and advances start_after by the row's own retry delay
// (linear, or delay*2^retry_count when retry_backoff is set).
func (s *Store) Retry(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var delayExpr string
	switch s.Driver {
	case "postgres":
		delayExpr = `(? + (CASE WHEN retry_backoff THEN retry_delay * POWER(2, retry_count) ELSE retry_delay END) * interval '1 second')`
	case "mysql":
		delayExpr = `DATE_ADD(?, INTERVAL (CASE WHEN retry_backoff THEN retry_delay * POW(2, retry_count) ELSE retry_delay END) SECOND)`
	default: // sqlite
		delayExpr = `datetime(?, '+' || (CASE WHEN retry_backoff THEN retry_delay * POWER(2, retry_count) ELSE retry_delay END) || ' seconds')`
	}

	query := s.rebind(fmt.Sprintf(
		`UPDATE job SET state = 'retry', retry_count = retry_count + 1,
		 completed_on = NULL, start_after = %s
		 WHERE id IN (%s)`, delayExpr, placeholders(len(ids))))

	args := append([]any{time.Now().UTC()}, toAny(ids)...)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry jobs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteJob hard-removes rows.
func (s *Store) DeleteJob(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := s.rebind(fmt.Sprintf(`DELETE FROM job WHERE id IN (%s)`, placeholders(len(ids))))
	res, err := s.db.ExecContext(ctx, query, toAny(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJobByID is the primary job lookup, optionally falling back to
// the archive table when the row has already been archived.
func (s *Store) GetJobByID(ctx context.Context, queue, id string, includeArchive bool) (*domain.Job, error) {
	query := s.rebind(`SELECT id, name, priority, data, state, retry_limit,
		retry_count, retry_delay, retry_backoff, start_after, started_on,
		singleton_key, singleton_on, expire_in_seconds, created_on, completed_on,
		keep_until, output, dead_letter, policy
		FROM job WHERE name = ? AND id = ?`)

	row := s.db.QueryRowContext(ctx, query, queue, id)
	var j domain.Job
	if err := scanJob(row, &j); err == nil {
		return &j, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job by id: %w", err)
	}

	if !includeArchive {
		return nil, domain.ErrJobNotFound
	}

	archiveQuery := s.rebind(`SELECT id, name, priority, data, state, retry_limit,
		retry_count, retry_delay, retry_backoff, start_after, started_on,
		singleton_key, singleton_on, expire_in_seconds, created_on, completed_on,
		keep_until, output, dead_letter, policy
		FROM archive WHERE name = ? AND id = ?`)
	row = s.db.QueryRowContext(ctx, archiveQuery, queue, id)
	if err := scanJob(row, &j); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get archived job by id: %w", err)
	}
	return &j, nil
}

// scanner abstracts *sql.Row and *sql.Rows, both of which expose Scan.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner, j *domain.Job) error {
	var (
		data, output           []byte
		startedOn, completedOn sql.NullTime
		singletonKey           sql.NullString
		singletonOn            sql.NullTime
		deadLetter             sql.NullString
		state, policy          string
	)

	if err := row.Scan(
		&j.ID, &j.Name, &j.Priority, &data, &state, &j.RetryLimit,
		&j.RetryCount, &j.RetryDelay, &j.RetryBackoff, &j.StartAfter, &startedOn,
		&singletonKey, &singletonOn, &j.ExpireInSeconds, &j.CreatedOn, &completedOn,
		&j.KeepUntil, &output, &deadLetter, &policy,
	); err != nil {
		return err
	}

	j.State = domain.JobState(state)
	j.Policy = domain.Policy(policy)
	j.Data = json.RawMessage(data)
	j.Output = json.RawMessage(output)
	if startedOn.Valid {
		j.StartedOn = &startedOn.Time
	}
	if completedOn.Valid {
		j.CompletedOn = &completedOn.Time
	}
	if singletonKey.Valid {
		j.SingletonKey = &singletonKey.String
	}
	if singletonOn.Valid {
		j.SingletonOn = &singletonOn.Time
	}
	if deadLetter.Valid {
		j.DeadLetter = &deadLetter.String
	}

	return nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// isLockWaitTimeout recognizes the storage-layer-only signal that a
// row lock could not be acquired before the driver's lock-wait
// timeout elapsed: MySQL error 1205, Postgres 55P03/lock_not_available,
// SQLite SQLITE_BUSY. This check is confined to the storage package.
func isLockWaitTimeout(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "1205") ||
		strings.Contains(msg, "55P03") ||
		strings.Contains(msg, "lock_not_available") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked")
}
