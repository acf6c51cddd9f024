package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"quest/cli/internal/engine"
	qerrors "quest/cli/internal/errors"
	"quest/cli/internal/event"
	"quest/cli/internal/logging"
	"quest/cli/internal/results"
	"quest/cli/internal/sqlexec"
	"quest/cli/internal/terminal"
)

// resultView is the dispatcher of a command: it feeds query events into a results buffer,
// wakes up whoever waits for a request to finish and reports lost connections.
type resultView struct {
	buf    *results.Buffer
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func newResultView(buf *results.Buffer, logger *slog.Logger) *resultView {
	return &resultView{buf: buf, logger: logger, waiters: make(map[string]chan struct{})}
}

// track returns a channel closed when the final response of request id was applied.
func (v *resultView) track(id string) <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan struct{})
	v.waiters[id] = ch
	return ch
}

func (v *resultView) untrack(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.waiters, id)
}

// pending returns the number of requests still waited for.
func (v *resultView) pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.waiters)
}

func (v *resultView) Dispatch(e event.Event) {
	switch ev := e.(type) {
	case event.LostConnections:
		for _, key := range ev.Lost.Keys() {
			pterm.Println()
			pterm.Warning.Printfln("Connection lost: %s", key)
		}
		pterm.Info.Println(`Use \c to reconnect.`)
	default:
		resp, ok := event.ResponseOf(e)
		if !ok {
			return
		}
		v.logger.Debug("query event", "kind", e.Kind(), "request", resp.RequestID, "seq", resp.Seq, "rows", len(resp.Rows))
		v.buf.Apply(resp)
		if resp.Final {
			v.mu.Lock()
			if ch, ok := v.waiters[resp.RequestID]; ok {
				close(ch)
				delete(v.waiters, resp.RequestID)
			}
			v.mu.Unlock()
		}
	}
}

// execute submits req and waits for its final response, showing a spinner meanwhile.
// Cancelling ctx cancels the request. The returned error is the request's outcome.
func execute(ctx context.Context, eng *engine.Engine, v *resultView, req sqlexec.Request) error {
	done := v.track(req.ID)
	if err := eng.Submit(req); err != nil {
		v.untrack(req.ID)
		return err
	}

	stop := func() {}
	if terminal.IsInteractive() {
		stop = startInlineSpinner(os.Stdout, "running "+preview(req.SQL), spinnerFrames, 100*time.Millisecond)
	}
	select {
	case <-done:
	case <-ctx.Done():
		eng.Cancel(req)
		<-done
	}
	stop()
	return v.buf.Err()
}

// reportOutcome prints a failed or cancelled result. It returns the error to propagate.
func reportOutcome(err error) error {
	if err == nil {
		return nil
	}
	if qerrors.KindOf(err) == qerrors.Cancelled {
		pterm.Warning.Println("Query cancelled")
		return nil
	}
	logging.PresentQueryError(err)
	return err
}

func preview(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return s
}
