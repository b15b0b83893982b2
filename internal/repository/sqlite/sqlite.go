// Package sqlite implements the repository interfaces on SQLite. It is the
// backend store for the whole core: it owns the uniqueness constraints, the
// atomic counters, and the change events that follow every committed write.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so no C compiler is needed and the
// binary cross-compiles like any other Go program.
//
// ONE CONNECTION:
// SQLite allows a single writer at a time. Rather than letting the pool open
// several connections that then fight over the write lock (SQLITE_BUSY), the
// pool is capped at one connection. Statements queue in database/sql instead
// of failing, and per-connection PRAGMAs stay in effect. Every aggregate
// update is still a single SQL statement, so correctness does not depend on
// this cap; it only keeps lock errors out of the hot path.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/changefeed"
)

// DB wraps a sql.DB connection pool and implements every repository
// interface in internal/repository.
type DB struct {
	conn      *sql.DB
	publisher changefeed.Publisher
	logger    *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithPublisher sends a change event to p after every committed write.
func WithPublisher(p changefeed.Publisher) Option {
	return func(db *DB) { db.publisher = p }
}

// WithLogger sets the logger used for swallowed publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/inkwell.db" → file-based database
//   - ":memory:"        → in-memory database, gone on Close
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn, logger: slog.Default()}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
//
// Constraints doing real work:
//   - categories.slug UNIQUE
//   - posts.category_id → categories(id): a category with posts cannot be
//     deleted, and a post cannot land in a category deleted meanwhile
//   - reading_history PRIMARY KEY (user_id, post_id): the upsert target
//   - CHECK (>= 0) on both counters
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url   TEXT NOT NULL DEFAULT '',
			role         TEXT NOT NULL DEFAULT 'standard' CHECK (role IN ('standard', 'elevated')),
			created_at   DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credentials (
			id            TEXT PRIMARY KEY,
			email         TEXT UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			provider      TEXT NOT NULL DEFAULT 'password',
			subject       TEXT,
			display_name  TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			UNIQUE (provider, subject)
		);

		CREATE TABLE IF NOT EXISTS categories (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			slug       TEXT NOT NULL UNIQUE,
			post_count INTEGER NOT NULL DEFAULT 0 CHECK (post_count >= 0),
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS posts (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			body        TEXT NOT NULL,
			cover_image TEXT NOT NULL DEFAULT '',
			author_id   TEXT NOT NULL REFERENCES profiles(id),
			category_id TEXT NOT NULL REFERENCES categories(id),
			view_count  INTEGER NOT NULL DEFAULT 0 CHECK (view_count >= 0),
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_posts_category_id ON posts(category_id);
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);

		CREATE TABLE IF NOT EXISTS reading_history (
			user_id TEXT NOT NULL,
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			read_at DATETIME NOT NULL,
			reads   INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, post_id)
		);
		CREATE INDEX IF NOT EXISTS idx_reading_history_read_at ON reading_history(user_id, read_at);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// publish emits a change event for a committed write. The write already
// succeeded, so a publish failure is logged and never returned.
func (db *DB) publish(ctx context.Context, table string, typ changefeed.EventType, rec changefeed.Record) {
	if db.publisher == nil {
		return
	}
	ev, err := changefeed.NewEvent(table, typ, rec)
	if err == nil {
		err = db.publisher.Publish(ctx, ev)
	}
	if err != nil {
		db.logger.Warn("failed to publish change event",
			slog.String("table", table),
			slog.String("type", string(typ)),
			slog.String("id", rec.RecordID()),
			slog.String("error", err.Error()),
		)
	}
}

// storeErr wraps err with the operation name, tagging lock, I/O and
// connection failures as transient so callers know a retry may work.
func storeErr(op string, err error) error {
	if isTransient(err) {
		return apperror.Transient("sqlite: "+op, err)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// now is the single clock for stored timestamps.
func now() time.Time {
	return time.Now().UTC()
}

// timeLayout is fixed width so that TEXT comparison in ORDER BY is also
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// dbTime encodes t for storage.
func dbTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timeCol scans a timestamp column. Columns coming back through RETURNING or
// an aggregate have no declared type, so the driver may hand over the raw
// TEXT instead of a time.Time.
type timeCol struct{ t *time.Time }

func ts(t *time.Time) timeCol { return timeCol{t: t} }

func (c timeCol) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*c.t = time.Time{}
		return nil
	case time.Time:
		*c.t = x.UTC()
		return nil
	case []byte:
		return c.parse(string(x))
	case string:
		return c.parse(x)
	case int64:
		*c.t = time.Unix(x, 0).UTC()
		return nil
	}
	return fmt.Errorf("sqlite: cannot scan %T into time", v)
}

func (c timeCol) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			*c.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("sqlite: unrecognised time %q", s)
}
