// Package results holds the consumer side of query paging: it accumulates the responses of the
// displayed request and windows them into display pages.
package results

import (
	"sync"

	"quest/cli/internal/sqlexec"
)

// DefaultPageSize is the number of rows shown per display page.
const DefaultPageSize = 1000

// Stats are the timings of the last applied response.
type Stats struct {
	ExecMillis  int64
	FetchMillis int64
	TotalMillis int64
}

// Buffer accumulates the rows of one request and tracks the display window over them.
// It is safe for concurrent use; the dispatcher applies responses while the UI reads.
type Buffer struct {
	// mu protects every field below
	mu        sync.Mutex
	pageSize  int
	requestID string
	columns   []sqlexec.Column
	rows      [][]any
	start     int
	final     bool
	err       error
	stats     Stats
}

// NewBuffer creates an empty buffer. A pageSize below 1 selects DefaultPageSize.
func NewBuffer(pageSize int) *Buffer {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Buffer{pageSize: pageSize}
}

// Apply adds a response and reports whether it was accepted.
// The first response of a new request replaces the content. Responses of a superseded
// request that are not its first are ignored.
func (b *Buffer) Apply(resp sqlexec.Response) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if resp.RequestID != b.requestID {
		if resp.Seq > 0 && b.requestID != "" {
			return false
		}
		b.reset(resp.RequestID)
	} else if resp.Seq == 0 && len(b.rows) > 0 && len(resp.Rows) > 0 {
		// a request restarted from zero
		b.reset(resp.RequestID)
	}

	if len(resp.Columns) > 0 {
		b.columns = resp.Columns
	}
	b.rows = append(b.rows, resp.Rows...)
	b.stats = Stats{ExecMillis: resp.ExecMillis, FetchMillis: resp.FetchMillis, TotalMillis: resp.TotalMillis}
	if resp.Final {
		b.final = true
		b.err = resp.Err
	}
	return true
}

func (b *Buffer) reset(requestID string) {
	b.requestID = requestID
	b.columns = nil
	b.rows = nil
	b.start = 0
	b.final = false
	b.err = nil
	b.stats = Stats{}
}

// Reset clears all content.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset("")
}

// RequestID returns the request whose results are held.
func (b *Buffer) RequestID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requestID
}

// PageStart returns the offset of the first displayed row.
func (b *Buffer) PageStart() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start
}

// PageEnd returns the offset one past the last displayed row.
func (b *Buffer) PageEnd() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.end()
}

func (b *Buffer) end() int {
	return min(b.start+b.pageSize, len(b.rows))
}

// CanAdvance reports whether rows exist past the current page.
func (b *Buffer) CanAdvance() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.end() < len(b.rows)
}

// CanRetreat reports whether the current page is not the first.
func (b *Buffer) CanRetreat() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start > 0
}

// Advance moves to the next page; it does nothing on the last one.
func (b *Buffer) Advance() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.end() >= len(b.rows) {
		return false
	}
	b.start += b.pageSize
	return true
}

// Retreat moves to the previous page; it does nothing on the first one.
func (b *Buffer) Retreat() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.start == 0 {
		return false
	}
	b.start = max(0, b.start-b.pageSize)
	return true
}

// SetPage jumps to the 1-based page n, clamped to the available pages.
func (b *Buffer) SetPage(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n = min(max(n, 1), b.pageCount())
	b.start = (n - 1) * b.pageSize
}

// Page returns the 1-based number of the current page.
func (b *Buffer) Page() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start/b.pageSize + 1
}

// PageCount returns the number of display pages; an empty result has one.
func (b *Buffer) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageCount()
}

func (b *Buffer) pageCount() int {
	if len(b.rows) == 0 {
		return 1
	}
	return (len(b.rows) + b.pageSize - 1) / b.pageSize
}

// TotalRowCount returns the number of rows received so far.
func (b *Buffer) TotalRowCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// PageRows returns the rows of the current page.
func (b *Buffer) PageRows() [][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]any(nil), b.rows[b.start:b.end()]...)
}

// AllRows returns every row received so far.
func (b *Buffer) AllRows() [][]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]any(nil), b.rows...)
}

// Columns returns the column metadata of the result.
func (b *Buffer) Columns() []sqlexec.Column {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sqlexec.Column(nil), b.columns...)
}

// Final reports whether the request has finished.
func (b *Buffer) Final() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.final
}

// Err returns the error carried by the final response.
func (b *Buffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Stats returns the timings of the latest response.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
