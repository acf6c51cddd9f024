package event

import (
	"fmt"
	"log/slog"
	"sync"
)

// Outbox delivers events to a Dispatcher from one goroutine in the order they were posted.
// The queue is unbounded so Post never waits for the Dispatcher.
type Outbox struct {
	d      Dispatcher
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

// NewOutbox starts the delivery goroutine.
func NewOutbox(d Dispatcher, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := &Outbox{
		d:      d,
		logger: logger,
		done:   make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.run()
	return o
}

// Post enqueues e. It reports false when the outbox is closed and e was dropped.
func (o *Outbox) Post(e Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.logger.Debug("event dropped after close", "kind", e.Kind())
		return false
	}
	o.queue = append(o.queue, e)
	o.cond.Signal()
	return true
}

// Close delivers pending events, stops the goroutine and waits for it. Idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.cond.Signal()
	o.mu.Unlock()
	<-o.done
}

// Abandon drops pending events and stops the goroutine without waiting for it. Only an
// event the goroutine already dequeued may still be delivered. Idempotent; Close may follow.
func (o *Outbox) Abandon() {
	o.mu.Lock()
	o.closed = true
	o.queue = nil
	o.cond.Signal()
	o.mu.Unlock()
}

func (o *Outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		e := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.mu.Unlock()

		SafeDispatch(o.d, e, o.logger)
	}
}

// SafeDispatch calls d.Dispatch and logs a panic instead of propagating it.
func SafeDispatch(d Dispatcher, e Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatcher panicked", "kind", e.Kind(), "panic", fmt.Sprint(r))
		}
	}()
	d.Dispatch(e)
}
