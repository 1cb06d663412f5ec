package eventloop

import (
	"context"

	"github.com/cryguy/jsbridge/internal/core"
)

// Host is the engine side of the loop. Every method runs on the goroutine
// that holds the engine.
type Host interface {
	// Drain runs queued engine jobs until none are left.
	Drain() error

	// Settle applies a completion to its engine promise.
	Settle(c Completion) error

	// Unhandled returns the first promise rejection that no handler
	// observed, or nil.
	Unhandled() error
}

// Run pumps the engine until no async host call is in flight. Each turn
// drains engine jobs, applies every queued completion with a drain after
// each batch, and then checks for unhandled rejections. Run returns the
// first error met; the caller is responsible for cancelling remaining
// jobs. A closed bridge stops the loop with core.ErrClosed.
func (el *EventLoop) Run(ctx context.Context, h Host, closed <-chan struct{}) error {
	for {
		select {
		case <-closed:
			return core.ErrClosed
		default:
		}

		if err := h.Drain(); err != nil {
			return err
		}
		for {
			batch := el.Take()
			if len(batch) == 0 {
				break
			}
			for _, c := range batch {
				if err := h.Settle(c); err != nil {
					return err
				}
			}
			if err := h.Drain(); err != nil {
				return err
			}
		}
		if err := h.Unhandled(); err != nil {
			return err
		}
		if el.Active() == 0 {
			return nil
		}
		if err := el.Wait(ctx, closed); err != nil {
			return err
		}
	}
}
