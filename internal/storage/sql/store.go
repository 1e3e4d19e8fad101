// Package sql implements the storage layer: a relational store
// exposing parameterized statement execution and connection pooling,
// and the schema authority that produces a versioned schema
// idempotently at start-up.
package sql

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Store wraps a *sql.DB plus the driver name needed to render
// dialect-correct placeholders and JSON column types. It is the sole
// type the manager, supervisor, and timekeeper packages depend on.
type Store struct {
	db     *sql.DB
	Driver string // "postgres", "mysql", or "sqlite"
}

// DB returns the underlying connection pool, for callers (principally
// tests) that need to run ad-hoc statements.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites a query written with `?` placeholders into the
// dialect Store.Driver expects. Postgres uses ordinal `$n` parameters;
// MySQL and SQLite both accept `?` natively.
func (s *Store) rebind(query string) string {
	if s.Driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// nowExpr returns the dialect-correct SQL fragment for the current
// database-server time, used by clock-skew measurement and by any
// query that needs the server's notion of "now" rather than the
// application host's.
func (s *Store) nowExpr() string {
	switch s.Driver {
	case "postgres":
		return "now()"
	case "mysql":
		return "UTC_TIMESTAMP(6)"
	default: // sqlite
		return "strftime('%Y-%m-%d %H:%M:%f', 'now')"
	}
}

var errUnsupportedDriver = fmt.Errorf("unsupported storage driver")
