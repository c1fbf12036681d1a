package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/marcelsud/webhook-relay/internal/logger"
	"github.com/marcelsud/webhook-relay/webhook"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

/* database/sql implementation of webhook.Repository
 * Queries use $n placeholders, which Postgres and SQLite both accept
 * JSON columns (payload, headers, permissions, events) are stored as text
 */

// Dialect selects the schema flavour.
type Dialect int

const (
	Postgres Dialect = iota + 1
	SQLite
)

// redactedValue replaces credential headers before persistence.
const redactedValue = "[REDACTED]"

// DialectFor maps a database/sql driver name to a Dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported driver %q", driver)
	}
}

type Store struct {
	DB            *sql.DB
	dialect       Dialect
	now           func() time.Time
	redactHeaders bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the store clock, used for created/processed/retry times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithHeaderRedaction toggles masking of credential headers before insert.
func WithHeaderRedaction(enabled bool) Option {
	return func(s *Store) { s.redactHeaders = enabled }
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		DB:            db,
		dialect:       dialect,
		now:           time.Now,
		redactHeaders: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with the named driver and verifies the connection.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if dialect == SQLite {
		// a single writer avoids SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return New(db, dialect, opts...), nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func (s *Store) safeHeaders(headers map[string]string) map[string]string {
	if !s.redactHeaders {
		return headers
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if logger.IsSensitiveHeader(k) {
			v = redactedValue
		}
		out[k] = v
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return webhook.ErrNotFound
	}
	return nil
}
