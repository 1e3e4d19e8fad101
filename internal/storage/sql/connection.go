package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib"           // PostgreSQL driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver          string // "postgres", "mysql", or "sqlite"
	DSN             string // Data Source Name / connection string
	MaxOpenConns    int    // Maximum open connections (default: 10)
	MaxIdleConns    int    // Maximum idle connections (default: 5)
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// AutoCreateDatabase creates Database on the server when the
	// initial connection fails with a missing-database error.
	// Database names the target
	// database to create; it is ignored for the sqlite driver, whose
	// backing file is always created by the driver itself.
	AutoCreateDatabase bool
	Database           string

	// Schema is the postgres namespace the tables live in, created
	// idempotently before migrations run. The caller must point the
	// connection's search_path at it. Ignored for mysql (where the
	// database is the namespace) and sqlite.
	Schema string
}

// driverName maps relayq's logical driver name onto the
// database/sql driver registered by the imported side-effect package.
func driverName(logical string) (string, error) {
	switch logical {
	case "postgres":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("%w: %s", errUnsupportedDriver, logical)
	}
}

// NewStore opens a connection pool for cfg.Driver, verifies
// connectivity, and runs migrations to the current schema version.
func NewStore(ctx context.Context, cfg DBConfig) (*Store, error) {
	drv, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "mysql" {
		dsn, err := normalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		cfg.DSN = dsn
	}

	db, err := sql.Open(drv, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 5
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = 1 * time.Minute
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		if !cfg.AutoCreateDatabase || cfg.Driver == "sqlite" || !isMissingDatabase(err) {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		db.Close()

		slog.WarnContext(ctx, "database missing, attempting to create it",
			"driver", cfg.Driver, "database", cfg.Database)
		if err := createDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to auto-create database: %w", err)
		}

		db, err = sql.Open(drv, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to reopen database after create: %w", err)
		}
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
		db.SetConnMaxIdleTime(connMaxIdleTime)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database after create: %w", err)
		}
	}

	if cfg.Driver == "postgres" && cfg.Schema != "" {
		ident := strings.ReplaceAll(cfg.Schema, `"`, `""`)
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, ident)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if err := runMigrations(db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, Driver: cfg.Driver}, nil
}

// runMigrations runs database migrations using goose with embedded
// files, dialect-switched by logical driver name.
func runMigrations(db *sql.DB, driver string) error {
	dialect := "sqlite3"
	dir := "migrations/sqlite"
	switch driver {
	case "postgres":
		dialect = "postgres"
		dir = "migrations/postgres"
	case "mysql":
		dialect = "mysql"
		dir = "migrations/mysql"
	}

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	goose.SetBaseFS(embedMigrations)

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// normalizeMySQLDSN forces the DSN options the store depends on:
// parseTime so DATETIME columns scan into time.Time, and UTC as the
// session location so timestamps round-trip unshifted.
func normalizeMySQLDSN(dsn string) (string, error) {
	mysqlCfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mysqlCfg.ParseTime = true
	mysqlCfg.Loc = time.UTC
	return mysqlCfg.FormatDSN(), nil
}

// isMissingDatabase recognizes the storage-layer-only signal that the
// target database does not exist yet: Postgres 3D000
// (invalid_catalog_name), MySQL 1049 (unknown database). Confined to
// this package.
func isMissingDatabase(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "3D000") ||
		strings.Contains(msg, "1049") ||
		strings.Contains(strings.ToLower(msg), "unknown database") ||
		strings.Contains(strings.ToLower(msg), "does not exist")
}

var pgDBNamePattern = regexp.MustCompile(`dbname=\S+`)

// createDatabase connects to the server's default administrative
// database (postgres) or with no database selected (mysql) and issues
// a CREATE DATABASE for cfg.Database.
func createDatabase(ctx context.Context, cfg DBConfig) error {
	switch cfg.Driver {
	case "postgres":
		return createPostgresDatabase(ctx, cfg)
	case "mysql":
		return createMySQLDatabase(ctx, cfg)
	default:
		return nil
	}
}

func createPostgresDatabase(ctx context.Context, cfg DBConfig) error {
	adminDSN := cfg.DSN
	if pgDBNamePattern.MatchString(adminDSN) {
		adminDSN = pgDBNamePattern.ReplaceAllString(adminDSN, "dbname=postgres")
	} else {
		adminDSN = adminDSN + " dbname=postgres"
	}

	admin, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer admin.Close()

	var exists bool
	err = admin.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, cfg.Database).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return nil
	}

	ident := strings.ReplaceAll(cfg.Database, `"`, `""`)
	if _, err := admin.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE "%s"`, ident)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func createMySQLDatabase(ctx context.Context, cfg DBConfig) error {
	mysqlCfg, err := mysqldriver.ParseDSN(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse mysql dsn: %w", err)
	}
	mysqlCfg.DBName = ""
	adminDSN := mysqlCfg.FormatDSN()

	admin, err := sql.Open("mysql", adminDSN)
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer admin.Close()

	ident := strings.ReplaceAll(cfg.Database, "`", "``")
	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", ident)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

// NewPostgresStore creates a PostgreSQL-backed store with default
// connection pool settings.
func NewPostgresStore(ctx context.Context, connString string) (*Store, error) {
	return NewStore(ctx, DBConfig{Driver: "postgres", DSN: connString})
}

// NewPostgresStoreWithConfig creates a PostgreSQL-backed store with
// custom connection pool settings.
func NewPostgresStoreWithConfig(ctx context.Context, connString string, poolConfig DBConfig) (*Store, error) {
	poolConfig.Driver = "postgres"
	poolConfig.DSN = connString
	return NewStore(ctx, poolConfig)
}

// NewMySQLStore creates a MySQL-backed store with default connection
// pool settings.
func NewMySQLStore(ctx context.Context, dsn string) (*Store, error) {
	return NewStore(ctx, DBConfig{Driver: "mysql", DSN: dsn})
}

// NewMySQLStoreWithConfig creates a MySQL-backed store with custom
// connection pool settings.
func NewMySQLStoreWithConfig(ctx context.Context, dsn string, poolConfig DBConfig) (*Store, error) {
	poolConfig.Driver = "mysql"
	poolConfig.DSN = dsn
	return NewStore(ctx, poolConfig)
}

// NewSQLiteStore creates a SQLite-backed store with default
// connection pool settings and the pragmas the compliance suite
// relies on (WAL journaling, a busy timeout instead of an immediate
// SQLITE_BUSY, and foreign keys on), with times written in SQLite's
// own text format so datetime() arithmetic can read them.
func NewSQLiteStore(ctx context.Context, dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", dbPath)
	return NewStore(ctx, DBConfig{Driver: "sqlite", DSN: dsn})
}

// NewSQLiteStoreWithConfig creates a SQLite-backed store with custom
// connection pool settings.
func NewSQLiteStoreWithConfig(ctx context.Context, dbPath string, poolConfig DBConfig) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", dbPath)
	poolConfig.Driver = "sqlite"
	poolConfig.DSN = dsn
	return NewStore(ctx, poolConfig)
}
