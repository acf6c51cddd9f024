package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	qerrors "quest/cli/internal/errors"
	"quest/cli/internal/event"
	"quest/cli/internal/sqlexec"
)

// task is one accepted request.
type task struct {
	req     sqlexec.Request
	prev    *task
	out     *event.Outbox
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	created time.Time

	mu    sync.Mutex
	seq   int
	final bool
	exec  int64
	fetch time.Time
}

func newTask(req sqlexec.Request, prev *task, out *event.Outbox) *task {
	ctx, cancel := context.WithCancel(context.Background())
	return &task{
		req:     req,
		prev:    prev,
		out:     out,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		created: time.Now(),
	}
}

type kind int

const (
	started kind = iota
	fetching
	page
	completed
	failed
	cancelled
)

// emit posts one event unless the task already emitted its final one. Page-bearing and
// final events consume a sequence number.
func (t *task) emit(k kind, rows [][]any, cols []sqlexec.Column, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.final {
		return false
	}

	now := time.Now()
	r := sqlexec.Response{
		RequestID:   t.req.ID,
		SourceKey:   t.req.SourceKey,
		Seq:         t.seq,
		Rows:        rows,
		Columns:     cols,
		ExecMillis:  t.exec,
		TotalMillis: now.Sub(t.created).Milliseconds(),
		Err:         err,
	}
	if !t.fetch.IsZero() {
		r.FetchMillis = now.Sub(t.fetch).Milliseconds()
	}
	if k >= page {
		t.seq++
	}
	if k >= completed {
		t.final = true
		r.Final = true
	}

	q := event.Query{Emitter: Source, Response: r}
	var ev event.Event
	switch k {
	case started:
		ev = event.Started{Query: q}
	case fetching:
		ev = event.Fetching{Query: q}
	case page:
		ev = event.PageAvailable{Query: q}
	case completed:
		ev = event.Completed{Query: q}
	case failed:
		ev = event.Failed{Query: q}
	default:
		ev = event.Cancelled{Query: q}
	}
	t.out.Post(ev)
	return true
}

// abort emits Cancelled and then cancels the context, so the worker can no longer emit.
func (t *task) abort(reason string) {
	t.emit(cancelled, nil, nil, qerrors.New(qerrors.Cancelled, reason))
	t.cancel()
}

// fail emits Failed unless the task was cancelled.
func (t *task) fail(err error) {
	if t.ctx.Err() != nil {
		return
	}
	if qerrors.KindOf(err) == "" {
		err = qerrors.Wrap(qerrors.QueryExecution, "query failed", err)
	}
	t.emit(failed, nil, nil, err)
}

func (t *task) timing(exec time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exec = exec.Milliseconds()
	t.fetch = time.Now()
}

func (e *Engine) run(t *task) {
	defer e.wg.Done()
	defer close(t.done)
	defer e.unregister(t)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("worker panicked", "id", t.req.ID, "panic", fmt.Sprint(r))
			t.fail(fmt.Errorf("worker panic: %v", r))
		}
	}()

	if t.prev != nil {
		select {
		case <-t.prev.done:
		case <-t.ctx.Done():
			return
		}
		t.prev = nil
	}
	if err := e.sem.Acquire(t.ctx, 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	if !t.emit(started, nil, nil, nil) {
		return
	}

	begin := time.Now()
	cur, err := t.req.Conn.Query(t.ctx, t.req.SQL, t.req.Args...)
	if err != nil {
		t.fail(err)
		return
	}
	defer cur.Close()
	t.timing(time.Since(begin))

	if !t.emit(fetching, nil, nil, nil) {
		return
	}

	pager := sqlexec.NewPager(cur, e.cfg.PageSize)
	for {
		p, err := pager.Next(t.ctx)
		if err != nil {
			t.fail(err)
			return
		}
		cols := cur.Columns()
		if p.Last {
			t.emit(completed, p.Rows, cols, nil)
			e.logger.Debug("request completed", "id", t.req.ID)
			return
		}
		if !t.emit(page, p.Rows, cols, nil) {
			return
		}
	}
}
