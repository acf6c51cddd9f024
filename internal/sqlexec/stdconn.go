// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
)

// Opener opens a database/sql handle.
type Opener func(driverName, dsn string) (*sql.DB, error)

// StdConn is a Conn over database/sql with the lib/pq driver. The pool is pinned to one
// connection and the session is held as a *sql.Conn so every statement and probe runs on
// the same server backend.
type StdConn struct {
	*session
}

var _ Conn = (*StdConn)(nil)

// NewStdConn creates a closed connection for the normalized DSN. A nil open uses sql.Open.
func NewStdConn(name, key, dsn string, open Opener, logger *slog.Logger) *StdConn {
	if open == nil {
		open = sql.Open
	}
	return &StdConn{session: newSession(name, key, stdDriver{dsn: dsn, open: open}, logger)}
}

type stdDriver struct {
	dsn  string
	open Opener
}

func (d stdDriver) connect(ctx context.Context) (handle, error) {
	db, err := d.open("postgres", d.dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stdHandle{db: db, conn: conn}, nil
}

type stdHandle struct {
	db   *sql.DB
	conn *sql.Conn
}

func (h *stdHandle) query(ctx context.Context, query string, args []any) (rows, error) {
	r, err := h.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cts, err := r.ColumnTypes()
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	cols := make([]Column, len(cts))
	for i, ct := range cts {
		cols[i] = Column{Name: ct.Name(), TypeName: ct.DatabaseTypeName()}
	}
	return &stdRows{rows: r, cols: cols}, nil
}

func (h *stdHandle) ping(ctx context.Context) error {
	return h.conn.PingContext(ctx)
}

func (h *stdHandle) close() error {
	_ = h.conn.Close()
	return h.db.Close()
}

type stdRows struct {
	rows *sql.Rows
	cols []Column
}

func (r *stdRows) columns() []Column { return r.cols }
func (r *stdRows) next() bool        { return r.rows.Next() }
func (r *stdRows) err() error        { return r.rows.Err() }
func (r *stdRows) close() error      { return r.rows.Close() }

func (r *stdRows) values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range vals {
		vals[i] = normalizeText(v)
	}
	return vals, nil
}
