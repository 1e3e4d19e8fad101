package sql

import (
	"context"
	"fmt"
	"time"
)

// ServerNow reads the database server's own clock, used to measure
// clock skew between the application host and the database so the
// cron firing loop can correct for it.
func (s *Store) ServerNow(ctx context.Context) (time.Time, error) {
	query := "SELECT " + s.nowExpr()

	// A bare expression column carries no declared type, so the sqlite
	// driver hands back a string instead of a time.Time.
	if s.Driver == "sqlite" {
		var raw string
		if err := s.db.QueryRowContext(ctx, query).Scan(&raw); err != nil {
			return time.Time{}, fmt.Errorf("read server time: %w", err)
		}
		t, err := time.ParseInLocation("2006-01-02 15:04:05.999", raw, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse server time %q: %w", raw, err)
		}
		return t, nil
	}

	var t time.Time
	if err := s.db.QueryRowContext(ctx, query).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("read server time: %w", err)
	}
	return t, nil
}

// tryAcquire performs the conditional UPDATE that implements
// leader-election-per-tick: the single `version` row's <column> is
// claimed by whichever caller's UPDATE lands first, since the WHERE
// clause only matches when the column is unset or older than the
// debounce window. A RowsAffected of 1 means this caller won the tick.
func (s *Store) tryAcquire(ctx context.Context, column string, now time.Time, cutoff time.Time) (bool, error) {
	query := s.rebind(fmt.Sprintf(
		`UPDATE version SET %s = ? WHERE id = 1 AND (%s IS NULL OR %s < ?)`,
		column, column, column))

	res, err := s.db.ExecContext(ctx, query, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire %s: rows affected: %w", column, err)
	}
	return n == 1, nil
}

// TryAcquireMaintenance claims the maintenance tick (expire/archive/drop
// passes) for this instance, refusing if another instance already ran
// one within the debounce window ending at cutoff.
func (s *Store) TryAcquireMaintenance(ctx context.Context, now, cutoff time.Time) (bool, error) {
	return s.tryAcquire(ctx, "maintained_on", now, cutoff)
}

// TryAcquireMonitor claims the monitor tick (queue-state counting and
// the monitor-states event) for this instance.
func (s *Store) TryAcquireMonitor(ctx context.Context, now, cutoff time.Time) (bool, error) {
	return s.tryAcquire(ctx, "monitored_on", now, cutoff)
}

// TryAcquireCron claims the cron firing tick for this instance. The
// debounce window here must equal the leader-election window so a
// fleet never double-fires a schedule.
func (s *Store) TryAcquireCron(ctx context.Context, now, cutoff time.Time) (bool, error) {
	return s.tryAcquire(ctx, "cron_on", now, cutoff)
}
