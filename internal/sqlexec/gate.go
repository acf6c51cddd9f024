package sqlexec

import "context"

// gate admits one holder at a time.
type gate chan struct{}

func newGate() gate { return make(gate, 1) }

// enter blocks until the gate is free or ctx is done.
func (g gate) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryEnter takes the gate if it is free.
func (g gate) tryEnter() bool {
	select {
	case g <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g gate) leave() {
	select {
	case <-g:
	default:
	}
}
