// Package sqlexectest provides an in-memory sqlexec.Conn for tests of the engine and the
// liveness checker.
package sqlexectest

import (
	"context"
	"fmt"
	"sync"
	"time"

	qerrors "quest/cli/internal/errors"
	"quest/cli/internal/sqlexec"
)

// FakeConn is a scripted sqlexec.Conn. Configure it through the setters before use; it is
// safe for concurrent use afterwards.
type FakeConn struct {
	name string

	mu        sync.Mutex
	open      bool
	columns   []sqlexec.Column
	rows      [][]any
	queryErr  error
	fetchErr  error
	failAt    int
	block     chan struct{}
	probe     func(ctx context.Context) error
	queries   []string
	active    int
	maxActive int
	probes    int
}

var _ sqlexec.Conn = (*FakeConn)(nil)

// NewFakeConn returns an open connection that answers every query with no rows.
func NewFakeConn(name string) *FakeConn {
	return &FakeConn{name: name, open: true, failAt: -1}
}

// SetResult makes every query return cols and rows.
func (f *FakeConn) SetResult(cols []string, rows [][]any) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.columns = make([]sqlexec.Column, len(cols))
	for i, c := range cols {
		f.columns[i] = sqlexec.Column{Name: c, TypeName: "text"}
	}
	f.rows = rows
	return f
}

// SetRowCount makes every query return n single-column rows 0..n-1.
func (f *FakeConn) SetRowCount(n int) *FakeConn {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	return f.SetResult([]string{"n"}, rows)
}

// SetQueryErr makes Query fail with err.
func (f *FakeConn) SetQueryErr(err error) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErr = err
	return f
}

// SetFetchErr makes the cursor stop with err after row index at.
func (f *FakeConn) SetFetchErr(at int, err error) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt, f.fetchErr = at, err
	return f
}

// Block makes Query wait until Unblock is called or its context is done.
func (f *FakeConn) Block() *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = make(chan struct{})
	return f
}

// Unblock releases queries waiting in Query.
func (f *FakeConn) Unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block != nil {
		close(f.block)
		f.block = nil
	}
}

// SetProbe installs the validity check used by Probe. A nil fn means always valid.
func (f *FakeConn) SetProbe(fn func(ctx context.Context) error) *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probe = fn
	return f
}

// Queries returns the statements received so far.
func (f *FakeConn) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// MaxActive returns the highest number of simultaneously open cursors seen.
func (f *FakeConn) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Active returns the number of cursors not yet closed.
func (f *FakeConn) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Probes returns how many times Probe reached the validity check.
func (f *FakeConn) Probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func (f *FakeConn) Key() string  { return fmt.Sprintf("%s test@localhost:8812", f.name) }
func (f *FakeConn) Name() string { return f.name }

func (f *FakeConn) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		return qerrors.ErrAlreadyOpen
	}
	f.open = true
	return nil
}

func (f *FakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *FakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeConn) Probe(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return qerrors.ErrConnectionNotOpen
	}
	fn := f.probe
	f.probes++
	f.mu.Unlock()
	if fn == nil {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.Close()
		return qerrors.Wrap(qerrors.ConnectionNotOpen, "probe failed", err)
	}
	return nil
}

func (f *FakeConn) Query(ctx context.Context, sql string, args ...any) (sqlexec.Cursor, error) {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return nil, qerrors.ErrConnectionNotOpen
	}
	f.queries = append(f.queries, sql)
	block, qerr := f.block, f.queryErr
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			f.done()
			return nil, ctx.Err()
		}
	}
	if qerr != nil {
		f.done()
		return nil, qerr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return &fakeCursor{
		f:        f,
		ctx:      ctx,
		cols:     f.columns,
		rows:     f.rows,
		failAt:   f.failAt,
		fetchErr: f.fetchErr,
		pos:      -1,
	}, nil
}

func (f *FakeConn) done() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

type fakeCursor struct {
	f        *FakeConn
	ctx      context.Context
	cols     []sqlexec.Column
	rows     [][]any
	failAt   int
	fetchErr error
	pos      int
	err      error
	closed   bool
}

func (c *fakeCursor) Columns() []sqlexec.Column { return c.cols }

func (c *fakeCursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.pos++
	if c.failAt >= 0 && c.pos == c.failAt {
		c.err = c.fetchErr
		return false
	}
	return c.pos < len(c.rows)
}

func (c *fakeCursor) Values() ([]any, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, fmt.Errorf("no current row")
	}
	return c.rows[c.pos], nil
}

func (c *fakeCursor) Err() error { return c.err }

func (c *fakeCursor) Close() error {
	if !c.closed {
		c.closed = true
		c.f.done()
	}
	return nil
}
