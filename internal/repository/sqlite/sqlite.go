// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the server
// builds without a C toolchain. Tests run against ":memory:".
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/sakif/cloudtype/internal/repository/sqlite/migrations"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB owns the connection pool and hands out the per-table stores.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/cloudtype.db" → file-based database
//   - ":memory:"          → in-memory database, lost on Close
func New(dbPath string) (*DB, error) {
	return NewContext(context.Background(), dbPath)
}

// NewContext is New with a context bounding the migration run.
func NewContext(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// ONE WRITER:
	// SQLite serializes writes anyway, and every ":memory:" connection is a
	// separate empty database. A single connection keeps the migrated
	// schema visible to every query and turns concurrent writers into a
	// queue instead of SQLITE_BUSY errors.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// migrate applies the embedded goose migrations.
func migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.UpContext(ctx, conn, ".")
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() *UserDB { return &UserDB{conn: db.conn} }
func (db *DB) Posts() *PostDB { return &PostDB{conn: db.conn} }
func (db *DB) Likes() *LikeDB { return &LikeDB{conn: db.conn} }

// isUniqueViolation reports whether err is a UNIQUE failure on column
// ("table.column"). modernc reports constraint failures only through the
// message text.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
