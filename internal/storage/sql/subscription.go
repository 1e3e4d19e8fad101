package sql

import (
	"context"
	"fmt"
)

// Subscribe registers a queue to receive fan-out sends for an event.
// Re-subscribing is a no-op (primary key (event, name) absorbs it).
func (s *Store) Subscribe(ctx context.Context, event, name string) error {
	var query string
	switch s.Driver {
	case "mysql":
		query = s.rebind(`INSERT IGNORE INTO subscription (event, name) VALUES (?, ?)`)
	default:
		query = s.rebind(`INSERT INTO subscription (event, name)
			VALUES (?, ?) ON CONFLICT (event, name) DO NOTHING`)
	}

	_, err := s.db.ExecContext(ctx, query, event, name)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("subscribe: queue not found: %s", name)
		}
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes a queue's registration for an event.
func (s *Store) Unsubscribe(ctx context.Context, event, name string) error {
	query := s.rebind(`DELETE FROM subscription WHERE event = ? AND name = ?`)
	if _, err := s.db.ExecContext(ctx, query, event, name); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// GetSubscribers lists every queue name subscribed to an event, for
// publish's fan-out.
func (s *Store) GetSubscribers(ctx context.Context, event string) ([]string, error) {
	query := s.rebind(`SELECT name FROM subscription WHERE event = ? ORDER BY name`)
	rows, err := s.db.QueryContext(ctx, query, event)
	if err != nil {
		return nil, fmt.Errorf("get subscribers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
