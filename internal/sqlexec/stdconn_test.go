package sqlexec_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quest/cli/internal/errors"
	"quest/cli/internal/sqlexec"
)

func newMockConn(t *testing.T) (*sqlexec.StdConn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	open := func(driverName, dsn string) (*sql.DB, error) {
		assert.Equal(t, "postgres", driverName)
		assert.Equal(t, "postgresql://u:p@h:5432/db", dsn)
		return db, nil
	}
	c := sqlexec.NewStdConn("mock", "mock u@h:5432", "postgresql://u:p@h:5432/db", open, nil)
	require.NoError(t, c.Open(context.Background()))
	return c, mock
}

func TestStdConn_Query(t *testing.T) {
	c, mock := newMockConn(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM trades WHERE sym = $1")).
		WithArgs("BTC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("first")).
			AddRow(int64(2), nil))

	cur, err := c.Query(context.Background(), "SELECT id, name FROM trades WHERE sym = $1", "BTC")
	require.NoError(t, err)

	cols := cur.Columns()
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "name", cols[1].Name)

	var got [][]any
	for cur.Next() {
		row, err := cur.Values()
		require.NoError(t, err)
		got = append(got, row)
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())

	assert.Equal(t, [][]any{{int64(1), "first"}, {int64(2), nil}}, got)

	mock.ExpectClose()
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStdConn_QueryError(t *testing.T) {
	c, mock := newMockConn(t)

	mock.ExpectQuery("SELEC").WillReturnError(errors.New(`syntax error at or near "SELEC"`))
	_, err := c.Query(context.Background(), "SELEC 1")
	require.Error(t, err)

	// the session was released
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(int64(1)))
	cur, err := c.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, cur.Close())

	mock.ExpectClose()
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStdConn_Probe(t *testing.T) {
	c, mock := newMockConn(t)

	mock.ExpectPing()
	require.NoError(t, c.Probe(context.Background(), time.Second))
	assert.True(t, c.IsOpen())

	mock.ExpectPing().WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectClose()
	err := c.Probe(context.Background(), time.Second)
	assert.ErrorIs(t, err, qerrors.ErrConnectionNotOpen)
	assert.False(t, c.IsOpen())

	require.NoError(t, c.Close(), "already closed by the probe")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStdConn_ProbeTimeout(t *testing.T) {
	c, mock := newMockConn(t)

	mock.ExpectPing().WillDelayFor(time.Second)
	mock.ExpectClose()
	err := c.Probe(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, qerrors.ErrProbeTimeout)
	assert.False(t, c.IsOpen())
}

func TestStdConn_OpenFailure(t *testing.T) {
	open := func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") }
	c := sqlexec.NewStdConn("bad", "bad u@h:5432", "postgresql://u@h/db", open, nil)

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsOpen())
}
