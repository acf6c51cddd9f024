// Package event defines the events emitted by the execution engine and the liveness
// checker, the Dispatcher that receives them and an ordered outbox that decouples emitters
// from the Dispatcher.
//
// Event is a closed set of types; consumers handle it with a type switch:
//
//	switch e := ev.(type) {
//	case event.PageAvailable:
//		buf.Apply(e.Response)
//	case event.LostConnections:
//		...
//	}
package event

import (
	"sort"

	"quest/cli/internal/sqlexec"
)

// Kind names an event type.
type Kind string

const (
	KindStarted         Kind = "QUERY_STARTED"
	KindFetching        Kind = "QUERY_FETCHING"
	KindPageAvailable   Kind = "RESULTS_AVAILABLE"
	KindCompleted       Kind = "QUERY_COMPLETED"
	KindFailed          Kind = "QUERY_FAILURE"
	KindCancelled       Kind = "QUERY_CANCELLED"
	KindLostConnections Kind = "CONNECTIONS_LOST"
)

// Event is implemented only by the types of this package.
type Event interface {
	Kind() Kind
	// Source names the component that emitted the event.
	Source() string
	sealed()
}

// Dispatcher receives events. Dispatch is called from a single goroutine at a time.
type Dispatcher interface {
	Dispatch(Event)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(Event)

func (f DispatcherFunc) Dispatch(e Event) { f(e) }

// Query is embedded by every execution event.
type Query struct {
	Emitter  string
	Response sqlexec.Response
}

func (q Query) Source() string { return q.Emitter }
func (Query) sealed()          {}

// Started is emitted when a request acquired a worker and is about to run.
type Started struct{ Query }

// Fetching is emitted when the cursor is available; Response.ExecMillis is set.
type Fetching struct{ Query }

// PageAvailable carries a non-final page of rows.
type PageAvailable struct{ Query }

// Completed carries the final page of a successful execution.
type Completed struct{ Query }

// Failed is the final event of an execution that failed; Response.Err is set.
type Failed struct{ Query }

// Cancelled is the final event of a cancelled execution.
type Cancelled struct{ Query }

func (Started) Kind() Kind       { return KindStarted }
func (Fetching) Kind() Kind      { return KindFetching }
func (PageAvailable) Kind() Kind { return KindPageAvailable }
func (Completed) Kind() Kind     { return KindCompleted }
func (Failed) Kind() Kind        { return KindFailed }
func (Cancelled) Kind() Kind     { return KindCancelled }

// ResponseOf returns the response carried by an execution event.
func ResponseOf(e Event) (sqlexec.Response, bool) {
	switch q := e.(type) {
	case Started:
		return q.Response, true
	case Fetching:
		return q.Response, true
	case PageAvailable:
		return q.Response, true
	case Completed:
		return q.Response, true
	case Failed:
		return q.Response, true
	case Cancelled:
		return q.Response, true
	}
	return sqlexec.Response{}, false
}

// LostConnections reports connections that failed their validity probe in one cycle.
type LostConnections struct {
	Emitter string
	Lost    *LostSet
}

func (LostConnections) Kind() Kind       { return KindLostConnections }
func (l LostConnections) Source() string { return l.Emitter }
func (LostConnections) sealed()          {}

// LostSet is a set of connections keyed by Conn.Key.
type LostSet struct {
	conns map[string]sqlexec.Conn
}

// NewLostSet returns an empty set.
func NewLostSet() *LostSet {
	return &LostSet{conns: make(map[string]sqlexec.Conn)}
}

// Add inserts c, replacing a connection with the same key.
func (s *LostSet) Add(c sqlexec.Conn) {
	s.conns[c.Key()] = c
}

func (s *LostSet) Len() int { return len(s.conns) }

func (s *LostSet) Contains(key string) bool {
	_, ok := s.conns[key]
	return ok
}

// Keys returns the connection keys in sorted order.
func (s *LostSet) Keys() []string {
	keys := make([]string, 0, len(s.conns))
	for k := range s.conns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Conns returns the connections ordered by key.
func (s *LostSet) Conns() []sqlexec.Conn {
	out := make([]sqlexec.Conn, 0, len(s.conns))
	for _, k := range s.Keys() {
		out = append(out, s.conns[k])
	}
	return out
}
