package results

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest/cli/internal/sqlexec"
)

var cols = []sqlexec.Column{{Name: "n", TypeName: "int8"}}

func rows(from, to int) [][]any {
	out := make([][]any, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, []any{int64(i)})
	}
	return out
}

func resp(id string, seq int, r [][]any, final bool) sqlexec.Response {
	return sqlexec.Response{RequestID: id, SourceKey: "editor", Seq: seq, Rows: r, Columns: cols, Final: final}
}

func TestBuffer_AccumulatesPages(t *testing.T) {
	b := NewBuffer(10)
	require.True(t, b.Apply(resp("a", 0, rows(0, 10), false)))
	require.True(t, b.Apply(resp("a", 1, rows(10, 20), false)))
	require.True(t, b.Apply(resp("a", 2, rows(20, 25), true)))

	assert.Equal(t, 25, b.TotalRowCount())
	assert.Equal(t, 3, b.PageCount())
	assert.True(t, b.Final())
	assert.NoError(t, b.Err())
	assert.Equal(t, cols, b.Columns())
}

func TestBuffer_Windowing(t *testing.T) {
	b := NewBuffer(10)
	b.Apply(resp("a", 0, rows(0, 25), true))

	assert.Equal(t, 0, b.PageStart())
	assert.Equal(t, 10, b.PageEnd())
	assert.False(t, b.CanRetreat())
	assert.True(t, b.CanAdvance())
	assert.False(t, b.Retreat())

	require.True(t, b.Advance())
	require.True(t, b.Advance())
	assert.Equal(t, 3, b.Page())
	assert.Equal(t, 20, b.PageStart())
	assert.Equal(t, 25, b.PageEnd())
	assert.Equal(t, rows(20, 25), b.PageRows())
	assert.False(t, b.CanAdvance())
	assert.False(t, b.Advance())

	require.True(t, b.Retreat())
	assert.Equal(t, 2, b.Page())

	b.SetPage(99)
	assert.Equal(t, 3, b.Page())
	b.SetPage(0)
	assert.Equal(t, 1, b.Page())
}

func TestBuffer_NewRequestResets(t *testing.T) {
	b := NewBuffer(10)
	b.Apply(resp("a", 0, rows(0, 15), true))
	b.Advance()

	require.True(t, b.Apply(resp("b", 0, rows(100, 101), false)))
	assert.Equal(t, "b", b.RequestID())
	assert.Equal(t, 1, b.TotalRowCount())
	assert.Equal(t, 0, b.PageStart())
	assert.False(t, b.Final())
}

func TestBuffer_IgnoresStaleResponses(t *testing.T) {
	b := NewBuffer(10)
	b.Apply(resp("b", 0, rows(0, 3), false))

	assert.False(t, b.Apply(resp("a", 4, rows(0, 10), false)))
	assert.Equal(t, 3, b.TotalRowCount())
	assert.Equal(t, "b", b.RequestID())
}

func TestBuffer_StartedThenFirstPage(t *testing.T) {
	b := NewBuffer(10)
	b.Apply(sqlexec.Response{RequestID: "a"})
	b.Apply(sqlexec.Response{RequestID: "a"})
	b.Apply(resp("a", 0, rows(0, 2), false))
	b.Apply(resp("a", 1, nil, true))

	assert.Equal(t, 2, b.TotalRowCount())
	assert.True(t, b.Final())
}

func TestBuffer_FailureKeepsError(t *testing.T) {
	b := NewBuffer(10)
	boom := errors.New("relation does not exist")
	b.Apply(sqlexec.Response{RequestID: "a", Err: boom, Final: true, TotalMillis: 7})

	assert.True(t, b.Final())
	assert.ErrorIs(t, b.Err(), boom)
	assert.Equal(t, int64(7), b.Stats().TotalMillis)
	assert.Equal(t, 1, b.PageCount())
	assert.Empty(t, b.PageRows())
}

func TestNewBuffer_DefaultPageSize(t *testing.T) {
	b := NewBuffer(0)
	b.Apply(resp("a", 0, rows(0, 1500), true))
	assert.Equal(t, DefaultPageSize, b.PageEnd())
	assert.Equal(t, 2, b.PageCount())
}
