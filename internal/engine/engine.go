// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package engine runs SQL requests asynchronously and streams their results as events.
//
// Submit never blocks on I/O. Each accepted request becomes a task that waits for a worker
// slot, opens a cursor on the request's connection and emits bounded pages until the cursor
// is exhausted. At most one task per source key is alive: submitting for a key that already
// has a task cancels it first, and the new task waits until the old one has unwound before
// touching the driver.
//
// Every accepted request ends with exactly one final event (Completed, Failed or
// Cancelled) and nothing is emitted for it afterwards. Events reach the Dispatcher in
// emission order through an event.Outbox, so the Cancelled event of a superseded request
// always precedes the first event of its successor.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	qerrors "quest/cli/internal/errors"
	"quest/cli/internal/event"
	"quest/cli/internal/sqlexec"
)

// Source is the emitter name carried by engine events.
const Source = "engine"

// Config sizes the engine.
type Config struct {
	// PageSize is the maximum number of rows per response.
	PageSize int
	// Workers bounds the number of tasks talking to drivers at once.
	Workers int
	// CloseGrace bounds how long Close waits for workers to exit.
	CloseGrace time.Duration
}

// DefaultConfig returns the stock sizes.
func DefaultConfig() Config {
	return Config{PageSize: 1000, Workers: 4, CloseGrace: 2 * time.Second}
}

// Engine executes requests. It is safe for concurrent use, though requests are expected
// to come from one consumer.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	out    *event.Outbox
	sem    *semaphore.Weighted

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

// New creates an engine delivering events to d.
func New(cfg Config, d event.Dispatcher, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = def.CloseGrace
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", Source)

	return &Engine{
		cfg:    cfg,
		logger: logger,
		out:    event.NewOutbox(d, logger),
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		tasks:  make(map[string]*task),
	}
}

// Submit schedules req. Invalid requests and requests on a closed connection are answered
// with a single Failed event and never reach a worker. Submit returns ErrEngineClosed after
// Close and nil otherwise.
func (e *Engine) Submit(req sqlexec.Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return qerrors.ErrEngineClosed
	}

	switch {
	case req.Conn == nil:
		e.reject(req, qerrors.New(qerrors.InvalidRequest, "request has no connection"))
		return nil
	case strings.TrimSpace(req.SQL) == "":
		e.reject(req, qerrors.New(qerrors.InvalidRequest, "request has no SQL"))
		return nil
	case !req.Conn.IsOpen():
		e.reject(req, qerrors.New(qerrors.ConnectionNotOpen, fmt.Sprintf("%s is not open", req.Conn.Name())))
		return nil
	}

	var prev *task
	if t, ok := e.tasks[req.SourceKey]; ok {
		e.logger.Debug("superseding running request", "source", req.SourceKey, "id", t.req.ID)
		t.abort("superseded")
		delete(e.tasks, req.SourceKey)
		prev = t
	}

	t := newTask(req, prev, e.out)
	e.tasks[req.SourceKey] = t
	e.wg.Add(1)
	go e.run(t)

	e.logger.Debug("request submitted", "source", req.SourceKey, "id", req.ID, "conn", req.Conn.Key())
	return nil
}

func (e *Engine) reject(req sqlexec.Request, err error) {
	e.logger.Debug("request rejected", "source", req.SourceKey, "id", req.ID, "err", err)
	e.out.Post(event.Failed{Query: event.Query{
		Emitter: Source,
		Response: sqlexec.Response{
			RequestID: req.ID,
			SourceKey: req.SourceKey,
			Err:       err,
			Final:     true,
		},
	}})
}

// Cancel stops req if it is the request running for its source key. Finished, superseded
// and unknown requests are ignored.
func (e *Engine) Cancel(req sqlexec.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[req.SourceKey]
	if !ok || t.req.ID != req.ID {
		return
	}
	delete(e.tasks, req.SourceKey)
	t.abort("cancelled")
}

// InFlight returns the number of registered tasks.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// Close cancels every task, waits up to the configured grace period for workers to exit
// and stops event delivery after flushing pending events. It returns an error when workers
// were still running at the deadline. Subsequent calls return nil.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for key, t := range e.tasks {
		t.abort("engine closed")
		delete(e.tasks, key)
	}
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()

	var err error
	timer := time.NewTimer(e.cfg.CloseGrace)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		err = fmt.Errorf("engine: workers still running after %s", e.cfg.CloseGrace)
		e.logger.Warn("close grace expired", "grace", e.cfg.CloseGrace)
	}

	e.out.Close()
	return err
}

func (e *Engine) unregister(t *task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.tasks[t.req.SourceKey]; ok && cur == t {
		delete(e.tasks, t.req.SourceKey)
	}
}
