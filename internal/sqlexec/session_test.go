package sqlexec

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quest/cli/internal/errors"
)

type stubDriver struct {
	connects atomic.Int32
	ping     func(ctx context.Context) error
	handles  []*stubHandle
}

func (d *stubDriver) connect(context.Context) (handle, error) {
	d.connects.Add(1)
	h := &stubHandle{pingFn: d.ping}
	d.handles = append(d.handles, h)
	return h, nil
}

type stubHandle struct {
	pingFn func(ctx context.Context) error
	pings  atomic.Int32
	closed atomic.Int32
}

func (h *stubHandle) query(ctx context.Context, sql string, args []any) (rows, error) {
	if sql == "fail" {
		return nil, errors.New("syntax error")
	}
	return &stubRows{ctx: ctx}, nil
}

func (h *stubHandle) ping(ctx context.Context) error {
	h.pings.Add(1)
	if h.pingFn == nil {
		return nil
	}
	return h.pingFn(ctx)
}

func (h *stubHandle) close() error {
	h.closed.Add(1)
	return nil
}

type stubRows struct {
	ctx context.Context
}

func (r *stubRows) columns() []Column      { return []Column{{Name: "x", TypeName: "int8"}} }
func (r *stubRows) next() bool             { return false }
func (r *stubRows) values() ([]any, error) { return nil, nil }
func (r *stubRows) err() error             { return r.ctx.Err() }
func (r *stubRows) close() error           { return nil }

func openStub(t *testing.T, d *stubDriver) *session {
	t.Helper()
	s := newSession("stub", "stub u@h:5432", d, nil)
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestSession_OpenTwice(t *testing.T) {
	s := openStub(t, &stubDriver{})
	assert.ErrorIs(t, s.Open(context.Background()), qerrors.ErrAlreadyOpen)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
	require.NoError(t, s.Open(context.Background()), "reopen after close")
}

func TestSession_QueryOnClosed(t *testing.T) {
	s := newSession("stub", "k", &stubDriver{}, nil)
	_, err := s.Query(context.Background(), "select 1")
	assert.ErrorIs(t, err, qerrors.ErrConnectionNotOpen)
	assert.ErrorIs(t, s.Probe(context.Background(), time.Second), qerrors.ErrConnectionNotOpen)
}

func TestSession_OneStatementAtATime(t *testing.T) {
	s := openStub(t, &stubDriver{})

	cur, err := s.Query(context.Background(), "select 1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Query(ctx, "select 2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, cur.Close())
	require.NoError(t, cur.Close(), "double close is harmless")

	cur, err = s.Query(context.Background(), "select 3")
	require.NoError(t, err)
	require.NoError(t, cur.Close())
}

func TestSession_QueryErrorReleasesSession(t *testing.T) {
	s := openStub(t, &stubDriver{})

	_, err := s.Query(context.Background(), "fail")
	require.Error(t, err)

	cur, err := s.Query(context.Background(), "select 1")
	require.NoError(t, err)
	require.NoError(t, cur.Close())
}

func TestSession_ProbeBusyIsValid(t *testing.T) {
	d := &stubDriver{ping: func(context.Context) error { return errors.New("down") }}
	s := openStub(t, d)

	cur, err := s.Query(context.Background(), "select 1")
	require.NoError(t, err)
	assert.NoError(t, s.Probe(context.Background(), time.Second))
	assert.Zero(t, d.handles[0].pings.Load())
	assert.True(t, s.IsOpen())
	require.NoError(t, cur.Close())
}

func TestSession_ProbeFailureCloses(t *testing.T) {
	d := &stubDriver{ping: func(context.Context) error { return errors.New("connection reset") }}
	s := openStub(t, d)

	err := s.Probe(context.Background(), time.Second)
	assert.ErrorIs(t, err, qerrors.ErrConnectionNotOpen)
	assert.False(t, s.IsOpen())
	assert.Equal(t, int32(1), d.handles[0].closed.Load())

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), d.handles[0].closed.Load(), "handle closed once")
}

func TestSession_ProbeTimeout(t *testing.T) {
	d := &stubDriver{ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	s := openStub(t, d)

	err := s.Probe(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, qerrors.ErrProbeTimeout)
	assert.False(t, s.IsOpen())
}

func TestSession_ProbeCallerCancelKeepsConnection(t *testing.T) {
	d := &stubDriver{ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	s := openStub(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Probe(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, s.IsOpen())
}

func TestSession_CloseCancelsRunningStatement(t *testing.T) {
	s := openStub(t, &stubDriver{})

	cur, err := s.Query(context.Background(), "select pg_sleep(60)")
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		defer close(released)
		r := cur.(*cursor).rows.(*stubRows)
		<-r.ctx.Done()
		_ = cur.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}
	<-released
	assert.ErrorIs(t, cur.Err(), context.Canceled)
	assert.False(t, s.IsOpen())
}
