package sqlexec

import (
	"context"
)

// Page is a bounded batch of rows. Last is set on the final page of a cursor.
type Page struct {
	Rows [][]any
	Last bool
}

// Pager splits a cursor into pages of at most size rows. It reads one row ahead so the
// last page is flagged without producing an extra empty page. A cursor without rows
// yields a single empty last page.
type Pager struct {
	cur  Cursor
	size int

	ahead    []any
	hasAhead bool
	done     bool
}

// NewPager returns a pager over cur. Sizes below one are treated as one.
func NewPager(cur Cursor, size int) *Pager {
	if size < 1 {
		size = 1
	}
	return &Pager{cur: cur, size: size}
}

// Done reports whether the last page was returned.
func (p *Pager) Done() bool { return p.done }

// Next returns the next page. It checks ctx before reading; a driver honours ctx while
// blocked on the wire.
func (p *Pager) Next(ctx context.Context) (Page, error) {
	if p.done {
		return Page{Rows: [][]any{}, Last: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	rows := make([][]any, 0, min(p.size, 64))
	if p.hasAhead {
		rows = append(rows, p.ahead)
		p.ahead, p.hasAhead = nil, false
	}

	for len(rows) < p.size {
		row, ok, err := p.read()
		if err != nil {
			return Page{}, err
		}
		if !ok {
			p.done = true
			return Page{Rows: rows, Last: true}, nil
		}
		rows = append(rows, row)
	}

	row, ok, err := p.read()
	if err != nil {
		return Page{}, err
	}
	if !ok {
		p.done = true
		return Page{Rows: rows, Last: true}, nil
	}
	p.ahead, p.hasAhead = row, true
	return Page{Rows: rows}, nil
}

func (p *Pager) read() ([]any, bool, error) {
	if !p.cur.Next() {
		return nil, false, p.cur.Err()
	}
	row, err := p.cur.Values()
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}
