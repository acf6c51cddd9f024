// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	qerrors "quest/cli/internal/errors"
)

// closeWait bounds how long Close waits for a cancelled statement to release the session.
const closeWait = 5 * time.Second

// driver opens sessions for one DSN.
type driver interface {
	connect(ctx context.Context) (handle, error)
}

// handle is one open driver session. It is used by one goroutine at a time.
type handle interface {
	query(ctx context.Context, sql string, args []any) (rows, error)
	ping(ctx context.Context) error
	close() error
}

// rows is the driver side of a Cursor.
type rows interface {
	columns() []Column
	next() bool
	values() ([]any, error)
	err() error
	close() error
}

// session implements Conn on top of a driver. PgxConn and StdConn embed it.
type session struct {
	name   string
	key    string
	drv    driver
	logger *slog.Logger
	gate   gate

	opMu sync.Mutex // serialises Open

	mu     sync.Mutex
	h      handle // nil while closed
	active context.CancelFunc
}

func newSession(name, key string, drv driver, logger *slog.Logger) *session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &session{
		name:   name,
		key:    key,
		drv:    drv,
		logger: logger.With("conn", key),
		gate:   newGate(),
	}
}

func (s *session) Key() string    { return s.key }
func (s *session) Name() string   { return s.name }
func (s *session) String() string { return s.key }

func (s *session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h != nil
}

func (s *session) Open(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.IsOpen() {
		return qerrors.ErrAlreadyOpen
	}
	h, err := s.drv.connect(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.name, err)
	}

	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
	s.logger.Info("connection opened")
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	h, cancel := s.h, s.active
	s.h = nil
	s.mu.Unlock()
	if h == nil {
		return nil
	}

	if cancel != nil {
		s.logger.Debug("cancelling running statement before close")
		cancel()
	}
	ctx, done := context.WithTimeout(context.Background(), closeWait)
	defer done()
	if err := s.gate.enter(ctx); err != nil {
		s.logger.Warn("running statement did not stop, closing session anyway", "wait", closeWait)
	} else {
		defer s.gate.leave()
	}

	err := h.close()
	s.logger.Info("connection closed")
	return err
}

func (s *session) Query(ctx context.Context, sql string, args ...any) (Cursor, error) {
	if !s.IsOpen() {
		return nil, qerrors.ErrConnectionNotOpen
	}
	if err := s.gate.enter(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	h := s.h
	if h == nil {
		s.mu.Unlock()
		s.gate.leave()
		return nil, qerrors.ErrConnectionNotOpen
	}
	qctx, cancel := context.WithCancel(ctx)
	s.active = cancel
	s.mu.Unlock()

	r, err := h.query(qctx, sql, args)
	if err != nil {
		s.release(cancel)
		return nil, err
	}
	return &cursor{s: s, rows: r, cancel: cancel}, nil
}

func (s *session) release(cancel context.CancelFunc) {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	cancel()
	s.gate.leave()
}

func (s *session) Probe(ctx context.Context, timeout time.Duration) error {
	if !s.IsOpen() {
		return qerrors.ErrConnectionNotOpen
	}
	if !s.gate.tryEnter() {
		// a statement is running on the session
		return nil
	}
	defer s.gate.leave()

	s.mu.Lock()
	h := s.h
	s.mu.Unlock()
	if h == nil {
		return qerrors.ErrConnectionNotOpen
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := h.ping(pctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.invalidate(h)
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return qerrors.Wrap(qerrors.ProbeTimeout, fmt.Sprintf("%s did not answer within %s", s.name, timeout), err)
	}
	return qerrors.Wrap(qerrors.ConnectionNotOpen, fmt.Sprintf("%s failed validity probe", s.name), err)
}

// invalidate closes h if it is still the current session. The caller holds the gate.
func (s *session) invalidate(h handle) {
	s.mu.Lock()
	if s.h != h {
		s.mu.Unlock()
		return
	}
	s.h = nil
	s.mu.Unlock()

	if err := h.close(); err != nil {
		s.logger.Debug("close after failed probe", "err", err)
	}
	s.logger.Warn("connection invalid, closed")
}

// cursor releases the session when closed.
type cursor struct {
	s      *session
	rows   rows
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cursor) Columns() []Column      { return c.rows.columns() }
func (c *cursor) Next() bool             { return c.rows.next() }
func (c *cursor) Values() ([]any, error) { return c.rows.values() }
func (c *cursor) Err() error             { return c.rows.err() }

func (c *cursor) Close() error {
	var err error
	c.once.Do(func() {
		err = c.rows.close()
		c.s.release(c.cancel)
	})
	return err
}
