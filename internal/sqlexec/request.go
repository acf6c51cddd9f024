package sqlexec

import (
	"github.com/google/uuid"
)

// Request asks for one statement to run on a connection. Requests are values; a later
// request with the same SourceKey supersedes an earlier one.
type Request struct {
	// SourceKey identifies the originator; at most one request per key runs at a time.
	SourceKey string
	ID        string
	Conn      Conn
	SQL       string
	// Args are bound as query parameters.
	Args []any
}

// NewRequest creates a request with a fresh random ID.
func NewRequest(sourceKey string, conn Conn, sql string, args ...any) Request {
	return Request{
		SourceKey: sourceKey,
		ID:        uuid.NewString(),
		Conn:      conn,
		SQL:       sql,
		Args:      args,
	}
}

// Response carries one page of results, or the terminal outcome of a request.
// For a given request Seq starts at 0 and never decreases; exactly one response is Final
// and it is the last one delivered.
type Response struct {
	RequestID string
	SourceKey string
	Seq       int
	Rows      [][]any
	Columns   []Column
	// ExecMillis is the time until the cursor was available, FetchMillis the time spent
	// reading rows and TotalMillis the time since submission.
	ExecMillis  int64
	FetchMillis int64
	TotalMillis int64
	Err         error
	Final       bool
}

// ColumnNames returns the column names in order.
func (r Response) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnTypes returns the database type names in column order.
func (r Response) ColumnTypes() []string {
	types := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		types[i] = c.TypeName
	}
	return types
}
