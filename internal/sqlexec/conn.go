// Package sqlexec wraps live database sessions behind a small blocking interface used by
// the execution engine and the liveness checker.
//
// A Conn owns one session and serves one statement at a time: Query acquires the session
// and the returned Cursor releases it on Close. Probe checks validity without disturbing a
// running statement, and a failed probe closes the connection. Two implementations exist:
// PgxConn over a native pgx connection and StdConn over database/sql with lib/pq.
//
// Values returned by cursors are normalised for display (UUIDs as strings, byte arrays as
// hex, driver-specific numeric types through their driver.Valuer).
package sqlexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quest/cli/internal/config"
	"quest/cli/internal/dsn"
)

// ApplicationName is reported to the server for every session.
const ApplicationName = "quest"

// Column describes one result column.
type Column struct {
	Name string
	// TypeName is the database type name, e.g. "int8" or "TIMESTAMP".
	TypeName string
}

// Cursor iterates the rows of one statement. Close must be called exactly once when the
// caller is done; it releases the session.
type Cursor interface {
	Columns() []Column
	Next() bool
	Values() ([]any, error)
	Err() error
	Close() error
}

// Conn is a connection to one database.
type Conn interface {
	// Key identifies the connection as "<name> <user>@<host>:<port>".
	Key() string
	Name() string
	// Open establishes the session. It fails with ErrAlreadyOpen when already open.
	Open(ctx context.Context) error
	// Close ends the session, cancelling a running statement first. Idempotent.
	Close() error
	IsOpen() bool
	// Probe reports whether the session is usable within timeout. A failed probe closes
	// the connection.
	Probe(ctx context.Context, timeout time.Duration) error
	// Query runs sql on the session. The session stays busy until the cursor is closed.
	Query(ctx context.Context, sql string, args ...any) (Cursor, error)
}

// SameConn reports whether a and b denote the same connection.
func SameConn(a, b Conn) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// NewConn builds a closed connection named name for the DSN raw. driver selects the
// implementation: config.DriverPgx (also the default) or config.DriverPQ.
func NewConn(driver, name, raw string, logger *slog.Logger) (Conn, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("connection name is empty")
	}
	info, err := dsn.ParseInfo(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := info.Params["application_name"]; !ok {
		info.Params["application_name"] = ApplicationName
	}
	normalized, err := dsn.NewPgWireResolver(info.Type).Normalize(info)
	if err != nil {
		return nil, err
	}
	key := info.Key(name)

	switch driver {
	case "", config.DriverPgx:
		return NewPgxConn(name, key, normalized, logger), nil
	case config.DriverPQ:
		return NewStdConn(name, key, normalized, nil, logger), nil
	}
	return nil, fmt.Errorf("unknown driver %q", driver)
}
