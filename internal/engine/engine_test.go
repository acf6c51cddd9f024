package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quest/cli/internal/errors"
	"quest/cli/internal/event"
	"quest/cli/internal/sqlexec"
	"quest/cli/internal/sqlexec/sqlexectest"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Dispatch(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// of returns the events of one request, in delivery order.
func (r *recorder) of(id string) []event.Event {
	var out []event.Event
	for _, e := range r.all() {
		if resp, ok := event.ResponseOf(e); ok && resp.RequestID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) final(id string) (event.Event, bool) {
	for _, e := range r.of(id) {
		if resp, _ := event.ResponseOf(e); resp.Final {
			return e, true
		}
	}
	return nil, false
}

func kinds(evs []event.Event) []event.Kind {
	out := make([]event.Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind()
	}
	return out
}

func newEngine(t *testing.T, cfg Config) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := New(cfg, rec, nil)
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func waitQueries(t *testing.T, c *sqlexectest.FakeConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Queries()) >= n }, 2*time.Second, time.Millisecond)
}

func waitFinal(t *testing.T, rec *recorder, id string) event.Event {
	t.Helper()
	var ev event.Event
	require.Eventually(t, func() bool {
		var ok bool
		ev, ok = rec.final(id)
		return ok
	}, 2*time.Second, time.Millisecond)
	return ev
}

// assertWellFormed checks the sequencing contract of one request.
func assertWellFormed(t *testing.T, evs []event.Event) {
	t.Helper()
	require.NotEmpty(t, evs)
	finals := 0
	prevSeq := 0
	for i, e := range evs {
		resp, ok := event.ResponseOf(e)
		require.True(t, ok)
		assert.GreaterOrEqual(t, resp.Seq, prevSeq, "seq never decreases")
		prevSeq = resp.Seq
		if resp.Final {
			finals++
			assert.Equal(t, len(evs)-1, i, "final event is last")
		}
	}
	assert.Equal(t, 1, finals, "exactly one final event")
}

func TestSubmit_StreamsPagesInSequence(t *testing.T) {
	e, rec := newEngine(t, Config{PageSize: 2})
	conn := sqlexectest.NewFakeConn("db").SetRowCount(5)

	req := sqlexec.NewRequest("editor", conn, "select n from t")
	require.NoError(t, e.Submit(req))
	waitFinal(t, rec, req.ID)

	evs := rec.of(req.ID)
	assert.Equal(t, []event.Kind{
		event.KindStarted, event.KindFetching,
		event.KindPageAvailable, event.KindPageAvailable, event.KindCompleted,
	}, kinds(evs))
	assertWellFormed(t, evs)

	var seqs []int
	var rows int
	for _, ev := range evs[2:] {
		resp, _ := event.ResponseOf(ev)
		seqs = append(seqs, resp.Seq)
		rows += len(resp.Rows)
		assert.Equal(t, []string{"n"}, resp.ColumnNames())
		assert.NoError(t, resp.Err)
	}
	assert.Equal(t, []int{0, 1, 2}, seqs)
	assert.Equal(t, 5, rows)

	last, _ := event.ResponseOf(evs[len(evs)-1])
	assert.GreaterOrEqual(t, last.TotalMillis, last.ExecMillis)
	assert.Equal(t, 0, e.InFlight())
}

func TestSubmit_ZeroRows(t *testing.T) {
	e, rec := newEngine(t, Config{PageSize: 10})
	conn := sqlexectest.NewFakeConn("db")

	req := sqlexec.NewRequest("editor", conn, "create table t (x int)")
	require.NoError(t, e.Submit(req))
	final := waitFinal(t, rec, req.ID)

	require.IsType(t, event.Completed{}, final)
	resp, _ := event.ResponseOf(final)
	assert.Equal(t, 0, resp.Seq)
	assert.Empty(t, resp.Rows)
	assert.NoError(t, resp.Err)
	assert.True(t, resp.Final)
	assertWellFormed(t, rec.of(req.ID))
}

func TestSubmit_SupersedesSameSource(t *testing.T) {
	e, rec := newEngine(t, Config{})
	slow := sqlexectest.NewFakeConn("slow").Block()
	fast := sqlexectest.NewFakeConn("fast").SetRowCount(1)

	a := sqlexec.NewRequest("editor", slow, "select pg_sleep(60)")
	require.NoError(t, e.Submit(a))
	waitQueries(t, slow, 1)

	b := sqlexec.NewRequest("editor", fast, "select 1")
	require.NoError(t, e.Submit(b))
	waitFinal(t, rec, b.ID)
	require.NoError(t, e.Close())

	all := rec.all()
	cancelledAt, firstB := -1, -1
	for i, ev := range all {
		resp, _ := event.ResponseOf(ev)
		if resp.RequestID == a.ID && ev.Kind() == event.KindCancelled {
			cancelledAt = i
		}
		if resp.RequestID == b.ID && firstB < 0 {
			firstB = i
		}
	}
	require.GreaterOrEqual(t, cancelledAt, 0)
	assert.Less(t, cancelledAt, firstB, "A's cancellation precedes B's first event")

	assertWellFormed(t, rec.of(a.ID))
	assertWellFormed(t, rec.of(b.ID))
	final, _ := rec.final(b.ID)
	assert.IsType(t, event.Completed{}, final)
	assert.Equal(t, 0, slow.Active(), "A's cursor attempt unwound")
}

func TestSubmit_DifferentSourcesRunConcurrently(t *testing.T) {
	e, rec := newEngine(t, Config{})
	slow := sqlexectest.NewFakeConn("slow").Block()

	a := sqlexec.NewRequest("tab-1", slow, "select 1")
	b := sqlexec.NewRequest("tab-2", slow, "select 2")
	require.NoError(t, e.Submit(a))
	require.NoError(t, e.Submit(b))
	waitQueries(t, slow, 2)
	assert.Equal(t, 2, e.InFlight())

	slow.Unblock()
	waitFinal(t, rec, a.ID)
	waitFinal(t, rec, b.ID)
	_, ok := rec.final(a.ID)
	assert.True(t, ok)
	for _, id := range []string{a.ID, b.ID} {
		final, _ := rec.final(id)
		assert.IsType(t, event.Completed{}, final)
	}
}

func TestCancel(t *testing.T) {
	e, rec := newEngine(t, Config{})
	slow := sqlexectest.NewFakeConn("slow").Block()

	req := sqlexec.NewRequest("editor", slow, "select pg_sleep(60)")
	require.NoError(t, e.Submit(req))
	waitQueries(t, slow, 1)

	e.Cancel(req)
	e.Cancel(req)
	final := waitFinal(t, rec, req.ID)

	require.IsType(t, event.Cancelled{}, final)
	resp, _ := event.ResponseOf(final)
	assert.ErrorIs(t, resp.Err, qerrors.ErrCancelled)
	require.Eventually(t, func() bool { return e.InFlight() == 0 && slow.Active() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, e.Close())
	assertWellFormed(t, rec.of(req.ID))
}

func TestCancel_AfterCompletionIsNoop(t *testing.T) {
	e, rec := newEngine(t, Config{})
	conn := sqlexectest.NewFakeConn("db").SetRowCount(3)

	req := sqlexec.NewRequest("editor", conn, "select 1")
	require.NoError(t, e.Submit(req))
	waitFinal(t, rec, req.ID)

	e.Cancel(req)
	e.Cancel(sqlexec.NewRequest("unknown", conn, "select 1"))
	require.NoError(t, e.Close())

	evs := rec.of(req.ID)
	assertWellFormed(t, evs)
	assert.IsType(t, event.Completed{}, evs[len(evs)-1])
}

func TestCancel_StaleIDIgnored(t *testing.T) {
	e, rec := newEngine(t, Config{})
	slow := sqlexectest.NewFakeConn("slow").Block()

	a := sqlexec.NewRequest("editor", slow, "select 1")
	require.NoError(t, e.Submit(a))
	b := sqlexec.NewRequest("editor", slow, "select 2")
	require.NoError(t, e.Submit(b))

	e.Cancel(a)
	assert.Equal(t, 1, e.InFlight(), "cancelling the superseded request leaves B alone")

	slow.Unblock()
	final := waitFinal(t, rec, b.ID)
	assert.IsType(t, event.Completed{}, final)
}

func TestSubmit_ClosedConnection(t *testing.T) {
	e, rec := newEngine(t, Config{})
	conn := sqlexectest.NewFakeConn("db")
	require.NoError(t, conn.Close())

	req := sqlexec.NewRequest("editor", conn, "select 1")
	require.NoError(t, e.Submit(req))
	assert.Equal(t, 0, e.InFlight())
	require.NoError(t, e.Close())

	evs := rec.of(req.ID)
	require.Len(t, evs, 1)
	require.IsType(t, event.Failed{}, evs[0])
	resp, _ := event.ResponseOf(evs[0])
	assert.Equal(t, 0, resp.Seq)
	assert.True(t, resp.Final)
	assert.ErrorIs(t, resp.Err, qerrors.ErrConnectionNotOpen)
	assert.Empty(t, conn.Queries(), "no worker touched the connection")
}

func TestSubmit_InvalidRequests(t *testing.T) {
	e, rec := newEngine(t, Config{})
	conn := sqlexectest.NewFakeConn("db")

	noConn := sqlexec.NewRequest("editor", nil, "select 1")
	blank := sqlexec.NewRequest("editor", conn, "   ")
	require.NoError(t, e.Submit(noConn))
	require.NoError(t, e.Submit(blank))
	require.NoError(t, e.Close())

	for _, req := range []sqlexec.Request{noConn, blank} {
		evs := rec.of(req.ID)
		require.Len(t, evs, 1)
		resp, _ := event.ResponseOf(evs[0])
		assert.ErrorIs(t, resp.Err, qerrors.ErrInvalidRequest)
	}
	assert.Empty(t, conn.Queries())
}

func TestSubmit_FastFailKeepsRunningTask(t *testing.T) {
	e, rec := newEngine(t, Config{})
	slow := sqlexectest.NewFakeConn("slow").Block()

	a := sqlexec.NewRequest("editor", slow, "select 1")
	require.NoError(t, e.Submit(a))
	require.NoError(t, e.Submit(sqlexec.NewRequest("editor", slow, "")))

	assert.Equal(t, 1, e.InFlight())
	_, done := rec.final(a.ID)
	assert.False(t, done)
}

func TestSubmit_QueryError(t *testing.T) {
	e, rec := newEngine(t, Config{})
	boom := errors.New(`relation "nope" does not exist`)
	conn := sqlexectest.NewFakeConn("db").SetQueryErr(boom)

	req := sqlexec.NewRequest("editor", conn, "select * from nope")
	require.NoError(t, e.Submit(req))
	final := waitFinal(t, rec, req.ID)

	require.IsType(t, event.Failed{}, final)
	resp, _ := event.ResponseOf(final)
	assert.ErrorIs(t, resp.Err, qerrors.ErrQueryExecution)
	assert.ErrorIs(t, resp.Err, boom)
	assert.Equal(t, []event.Kind{event.KindStarted, event.KindFailed}, kinds(rec.of(req.ID)))
}

func TestSubmit_FetchErrorDiscardsPartialPage(t *testing.T) {
	e, rec := newEngine(t, Config{PageSize: 2})
	boom := errors.New("connection reset by peer")
	conn := sqlexectest.NewFakeConn("db").SetRowCount(10).SetFetchErr(5, boom)

	req := sqlexec.NewRequest("editor", conn, "select n from t")
	require.NoError(t, e.Submit(req))
	waitFinal(t, rec, req.ID)

	evs := rec.of(req.ID)
	assert.Equal(t, []event.Kind{
		event.KindStarted, event.KindFetching,
		event.KindPageAvailable, event.KindPageAvailable, event.KindFailed,
	}, kinds(evs))
	assertWellFormed(t, evs)

	resp, _ := event.ResponseOf(evs[len(evs)-1])
	assert.Equal(t, 2, resp.Seq)
	assert.Empty(t, resp.Rows)
	assert.ErrorIs(t, resp.Err, boom)
}

func TestClose_CancelsInFlight(t *testing.T) {
	rec := &recorder{}
	e := New(Config{Workers: 2}, rec, nil)
	slow := sqlexectest.NewFakeConn("slow").Block()

	var reqs []sqlexec.Request
	for _, src := range []string{"a", "b", "c"} {
		req := sqlexec.NewRequest(src, slow, "select 1")
		reqs = append(reqs, req)
		require.NoError(t, e.Submit(req))
	}
	waitQueries(t, slow, 2)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	terminal := 0
	for _, req := range reqs {
		evs := rec.of(req.ID)
		assertWellFormed(t, evs)
		assert.IsType(t, event.Cancelled{}, evs[len(evs)-1])
		terminal++
	}
	assert.Equal(t, 3, terminal)
	assert.Equal(t, 0, e.InFlight())
	assert.Equal(t, 0, slow.Active())
	assert.Len(t, slow.Queries(), 2, "the queued request never reached the driver")

	assert.ErrorIs(t, e.Submit(sqlexec.NewRequest("d", slow, "select 1")), qerrors.ErrEngineClosed)
}

func TestWorkersBoundConcurrency(t *testing.T) {
	e, rec := newEngine(t, Config{Workers: 2})
	slow := sqlexectest.NewFakeConn("slow").Block()

	var reqs []sqlexec.Request
	for _, src := range []string{"a", "b", "c", "d"} {
		req := sqlexec.NewRequest(src, slow, "select 1")
		reqs = append(reqs, req)
		require.NoError(t, e.Submit(req))
	}
	waitQueries(t, slow, 2)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, slow.Queries(), 2)

	slow.Unblock()
	for _, req := range reqs {
		waitFinal(t, rec, req.ID)
	}
	assert.Equal(t, 2, slow.MaxActive())
}

type panicConn struct {
	*sqlexectest.FakeConn
}

func (panicConn) Query(context.Context, string, ...any) (sqlexec.Cursor, error) {
	panic("driver bug")
}

func TestWorkerPanicBecomesFailure(t *testing.T) {
	e, rec := newEngine(t, Config{})
	conn := panicConn{sqlexectest.NewFakeConn("db")}

	req := sqlexec.NewRequest("editor", conn, "select 1")
	require.NoError(t, e.Submit(req))
	final := waitFinal(t, rec, req.ID)

	require.IsType(t, event.Failed{}, final)
	resp, _ := event.ResponseOf(final)
	assert.ErrorIs(t, resp.Err, qerrors.ErrQueryExecution)
	require.Eventually(t, func() bool { return e.InFlight() == 0 }, time.Second, time.Millisecond)
}

func TestEventsCarrySource(t *testing.T) {
	e, rec := newEngine(t, Config{})
	req := sqlexec.NewRequest("editor", sqlexectest.NewFakeConn("db"), "select 1")
	require.NoError(t, e.Submit(req))
	waitFinal(t, rec, req.ID)

	for _, ev := range rec.of(req.ID) {
		assert.Equal(t, Source, ev.Source())
	}
}
