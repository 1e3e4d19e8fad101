package sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relayq/relayq/internal/domain"
)

// UpsertSchedule inserts or replaces the one schedule row bound to a
// queue name. A foreign-key violation (queue does not exist) is
// remapped to domain.ErrScheduleQueueNotFound.
func (s *Store) UpsertSchedule(ctx context.Context, sch domain.Schedule) error {
	var query string
	switch s.Driver {
	case "mysql":
		query = s.rebind(`INSERT INTO schedule (name, cron, timezone, data, options)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE cron = VALUES(cron), timezone = VALUES(timezone),
			data = VALUES(data), options = VALUES(options), updated_on = CURRENT_TIMESTAMP(6)`)
	default:
		query = s.rebind(fmt.Sprintf(`INSERT INTO schedule (name, cron, timezone, data, options)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET cron = excluded.cron, timezone = excluded.timezone,
			data = excluded.data, options = excluded.options, updated_on = %s`, s.nowExpr()))
	}

	_, err := s.db.ExecContext(ctx, query, sch.Name, sch.Cron, sch.Timezone,
		nullableJSON(sch.Data), nullableJSON(sch.Options))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrScheduleQueueNotFound, sch.Name)
		}
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// GetSchedules lists every schedule row, for the timekeeper's tick.
func (s *Store) GetSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, cron, timezone, data, options,
		created_on, updated_on FROM schedule ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		var sch domain.Schedule
		var data, options []byte
		if err := rows.Scan(&sch.Name, &sch.Cron, &sch.Timezone, &data, &options,
			&sch.CreatedOn, &sch.UpdatedOn); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sch.Data = json.RawMessage(data)
		sch.Options = json.RawMessage(options)
		out = append(out, sch)
	}
	return out, rows.Err()
}

// DeleteSchedule removes a schedule row by queue name.
func (s *Store) DeleteSchedule(ctx context.Context, name string) error {
	query := s.rebind(`DELETE FROM schedule WHERE name = ?`)
	res, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete schedule: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrQueueNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"foreign key constraint", "FOREIGN KEY constraint failed", "23503", "1452"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
