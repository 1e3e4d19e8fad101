package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/relayq/relayq/internal/domain"
)

// CreateQueue inserts a new queue metadata row.
func (s *Store) CreateQueue(ctx context.Context, q domain.Queue) error {
	query := s.rebind(`INSERT INTO queue
		(name, policy, retry_limit, retry_delay, retry_backoff, expire_seconds,
		 retention_minutes, dead_letter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query, q.Name, string(q.Policy), q.RetryLimit,
		q.RetryDelay, q.RetryBackoff, q.ExpireSeconds, q.RetentionMinutes, q.DeadLetter)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrQueueAlreadyExists, q.Name)
		}
		return fmt.Errorf("create queue: %w", err)
	}
	return nil
}

// GetQueue fetches a single queue's metadata by name.
func (s *Store) GetQueue(ctx context.Context, name string) (*domain.Queue, error) {
	query := s.rebind(`SELECT name, policy, retry_limit, retry_delay, retry_backoff,
		expire_seconds, retention_minutes, dead_letter, created_on, updated_on
		FROM queue WHERE name = ?`)

	row := s.db.QueryRowContext(ctx, query, name)
	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrQueueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return q, nil
}

// GetQueues lists every queue's metadata.
func (s *Store) GetQueues(ctx context.Context) ([]domain.Queue, error) {
	query := `SELECT name, policy, retry_limit, retry_delay, retry_backoff,
		expire_seconds, retention_minutes, dead_letter, created_on, updated_on
		FROM queue ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var queues []domain.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		queues = append(queues, *q)
	}
	return queues, rows.Err()
}

// UpdateQueue applies a validated field-mask patch to a queue row.
func (s *Store) UpdateQueue(ctx context.Context, p domain.UpdateQueueParams) error {
	mask := make(map[string]struct{}, len(p.UpdateMask))
	for _, f := range p.UpdateMask {
		mask[f] = struct{}{}
	}

	set := []string{"updated_on = " + s.nowExpr()}
	var args []any

	if _, ok := mask["policy"]; ok {
		set = append(set, "policy = ?")
		args = append(args, string(*p.Policy))
	}
	if _, ok := mask["retry_limit"]; ok {
		set = append(set, "retry_limit = ?")
		args = append(args, *p.RetryLimit)
	}
	if _, ok := mask["retry_delay"]; ok {
		set = append(set, "retry_delay = ?")
		args = append(args, *p.RetryDelay)
	}
	if _, ok := mask["retry_backoff"]; ok {
		set = append(set, "retry_backoff = ?")
		args = append(args, p.RetryBackoff != nil && *p.RetryBackoff)
	}
	if _, ok := mask["expire_seconds"]; ok {
		set = append(set, "expire_seconds = ?")
		args = append(args, *p.ExpireSeconds)
	}
	if _, ok := mask["retention_minutes"]; ok {
		set = append(set, "retention_minutes = ?")
		args = append(args, *p.RetentionMinutes)
	}
	if _, ok := mask["dead_letter"]; ok {
		set = append(set, "dead_letter = ?")
		args = append(args, p.DeadLetter)
	}

	query := s.rebind(fmt.Sprintf(`UPDATE queue SET %s WHERE name = ?`, strings.Join(set, ", ")))
	args = append(args, p.Name)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update queue: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrQueueNotFound
	}
	return nil
}

// DeleteQueue removes a queue, cascading to schedule and subscription
// rows (per the foreign keys in the migration). Jobs are left in
// place, purged separately via PurgeQueue.
func (s *Store) DeleteQueue(ctx context.Context, name string) error {
	query := s.rebind(`DELETE FROM queue WHERE name = ?`)
	res, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete queue: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrQueueNotFound
	}
	return nil
}

// GetQueueSize counts non-terminal jobs for a queue.
func (s *Store) GetQueueSize(ctx context.Context, name string) (int64, error) {
	query := s.rebind(`SELECT COUNT(*) FROM job
		WHERE name = ? AND state NOT IN ('completed', 'cancelled', 'failed')`)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("get queue size: %w", err)
	}
	return n, nil
}

// PurgeQueue deletes all job rows for a queue.
func (s *Store) PurgeQueue(ctx context.Context, name string) (int64, error) {
	query := s.rebind(`DELETE FROM job WHERE name = ?`)
	res, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return 0, fmt.Errorf("purge queue: %w", err)
	}
	return res.RowsAffected()
}

// ClearStorage truncates all five logical tables, leaving the
// version singleton row in place.
func (s *Store) ClearStorage(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear storage transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"subscription", "schedule", "archive", "job", "queue"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear table %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func scanQueue(row scanner) (*domain.Queue, error) {
	var q domain.Queue
	var policy string
	var deadLetter sql.NullString

	if err := row.Scan(&q.Name, &policy, &q.RetryLimit, &q.RetryDelay, &q.RetryBackoff,
		&q.ExpireSeconds, &q.RetentionMinutes, &deadLetter, &q.CreatedOn, &q.UpdatedOn); err != nil {
		return nil, err
	}

	q.Policy = domain.Policy(policy)
	if deadLetter.Valid {
		q.DeadLetter = &deadLetter.String
	}
	return &q, nil
}

// isUniqueViolation recognizes a primary-key/unique-index collision
// across the three supported drivers.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"duplicate key value", "UNIQUE constraint failed", "Duplicate entry", "23505", "1062"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
