// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package liveness periodically probes open connections and reports the ones that died
// without anybody noticing.
//
// Each cycle takes a snapshot from a Supplier, probes every open connection in parallel
// and dispatches one LostConnections event when some probes failed. A connection is
// reported once; it is reported again only after it left the snapshot of open connections
// and came back.
package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quest/cli/internal/event"
	"quest/cli/internal/sqlexec"
)

// Source is the emitter name carried by LostConnections events.
const Source = "liveness"

// Config controls the check period.
type Config struct {
	// ProbeTimeout bounds each validity probe.
	ProbeTimeout time.Duration
	// Interval between cycles. Zero means three probe timeouts.
	Interval time.Duration
	// Parallelism bounds concurrent probes. Zero means unbounded.
	Parallelism int
}

// DefaultConfig probes with a 10 s timeout every 30 s.
func DefaultConfig() Config {
	return Config{ProbeTimeout: 10 * time.Second, Interval: 30 * time.Second}
}

// Supplier returns the connections to consider in one cycle.
type Supplier func() []sqlexec.Conn

// Checker is a restartable background poller.
type Checker struct {
	cfg    Config
	supply Supplier
	d      event.Dispatcher
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	out    *event.Outbox
}

// New creates a stopped checker.
func New(cfg Config, supply Supplier, d event.Dispatcher, logger *slog.Logger) *Checker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * cfg.ProbeTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{
		cfg:    cfg,
		supply: supply,
		d:      d,
		logger: logger.With("component", Source),
	}
}

// Start launches the loop. The first cycle runs one interval later. Calling Start on a
// running checker does nothing.
func (c *Checker) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.out = event.NewOutbox(c.d, c.logger)
	go c.loop(ctx, c.done, c.out)
	c.logger.Debug("started", "interval", c.cfg.Interval, "probe_timeout", c.cfg.ProbeTimeout)
}

// Running reports whether the loop is active.
func (c *Checker) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Close stops the loop, cancelling outstanding probes, and waits for it to exit. Events not
// yet handed to the Dispatcher are dropped. Close never waits for the Dispatcher, so it may be
// called from within Dispatch. The checker can be started again.
func (c *Checker) Close() {
	c.mu.Lock()
	cancel, done, out := c.cancel, c.done, c.out
	c.cancel, c.done, c.out = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	out.Abandon()
	c.logger.Debug("stopped")
}

func (c *Checker) loop(ctx context.Context, done chan struct{}, out *event.Outbox) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	reported := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lost := c.cycle(ctx, reported); lost.Len() > 0 && ctx.Err() == nil {
				out.Post(event.LostConnections{Emitter: Source, Lost: lost})
			}
		}
	}
}

// cycle probes the open connections of one snapshot and returns the newly lost ones.
// reported is owned by the loop goroutine.
func (c *Checker) cycle(ctx context.Context, reported map[string]struct{}) *event.LostSet {
	lost := event.NewLostSet()

	var open []sqlexec.Conn
	current := make(map[string]struct{})
	for _, conn := range c.supply() {
		if conn != nil && conn.IsOpen() {
			open = append(open, conn)
			current[conn.Key()] = struct{}{}
		}
	}
	for key := range reported {
		if _, ok := current[key]; !ok {
			delete(reported, key)
		}
	}

	var g errgroup.Group
	limit := c.cfg.Parallelism
	if limit <= 0 {
		limit = -1
	}
	g.SetLimit(limit)

	errs := make([]error, len(open))
	for i, conn := range open {
		if _, ok := reported[conn.Key()]; ok {
			continue
		}
		g.Go(func() error {
			errs[i] = conn.Probe(ctx, c.cfg.ProbeTimeout)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return lost
	}
	for i, err := range errs {
		if err == nil {
			continue
		}
		conn := open[i]
		c.logger.Warn("connection lost", "conn", conn.Key(), "err", err)
		lost.Add(conn)
		reported[conn.Key()] = struct{}{}
	}
	return lost
}
