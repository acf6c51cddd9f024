// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
	"github.com/jackc/pgx/v5/pgtype"
)

// cancelDeadline is how long a cancelled call may wait for the server to honour the
// cancel request before the socket deadline fires.
const cancelDeadline = 2 * time.Second

// PgxConn is a Conn over a single native pgx connection. Statements use the simple query
// protocol so QuestDB and CrateDB pg-wire endpoints accept them.
type PgxConn struct {
	*session
}

var _ Conn = (*PgxConn)(nil)

// NewPgxConn creates a closed connection for the normalized DSN.
func NewPgxConn(name, key, dsn string, logger *slog.Logger) *PgxConn {
	return &PgxConn{session: newSession(name, key, pgxDriver{dsn: dsn}, logger)}
}

type pgxDriver struct {
	dsn string
}

func (d pgxDriver) connect(ctx context.Context) (handle, error) {
	cfg, err := pgx.ParseConfig(d.dsn)
	if err != nil {
		return nil, err
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	// A cancelled context sends a PostgreSQL cancel request; an unresponsive peer is cut
	// off by the deadline that follows.
	cfg.BuildContextWatcherHandler = func(pc *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:          pc,
			DeadlineDelay: cancelDeadline,
		}
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgxHandle{conn: conn}, nil
}

type pgxHandle struct {
	conn *pgx.Conn
}

func (h *pgxHandle) query(ctx context.Context, sql string, args []any) (rows, error) {
	r, err := h.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{rows: r, types: h.conn.TypeMap()}, nil
}

func (h *pgxHandle) ping(ctx context.Context) error {
	return h.conn.Ping(ctx)
}

func (h *pgxHandle) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), cancelDeadline)
	defer cancel()
	return h.conn.Close(ctx)
}

type pgxRows struct {
	rows  pgx.Rows
	types *pgtype.Map
}

func (r *pgxRows) columns() []Column {
	fds := r.rows.FieldDescriptions()
	cols := make([]Column, len(fds))
	for i, fd := range fds {
		cols[i] = Column{Name: fd.Name, TypeName: typeName(r.types, fd.DataTypeOID)}
	}
	return cols
}

func typeName(m *pgtype.Map, oid uint32) string {
	if t, ok := m.TypeForOID(oid); ok {
		return t.Name
	}
	return fmt.Sprintf("oid:%d", oid)
}

func (r *pgxRows) next() bool { return r.rows.Next() }

func (r *pgxRows) values() ([]any, error) {
	vals, err := r.rows.Values()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		vals[i] = normalizeNative(v)
	}
	return vals, nil
}

func (r *pgxRows) err() error { return r.rows.Err() }

func (r *pgxRows) close() error {
	r.rows.Close()
	return nil
}
