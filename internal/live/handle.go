package live

import (
	"context"
	"errors"

	"signal-engine/internal/events"
	"signal-engine/internal/model"
)

// Handle controls a background live task. Stop is the soft path; Cancel
// interrupts at the next tick boundary.
type Handle struct {
	loop   *Loop
	params Params

	results chan model.TickResult
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Background starts Run on its own goroutine. Opened and closed results are
// delivered on Results.
func (l *Loop) Background(ctx context.Context, p Params) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		loop:    l,
		params:  p,
		results: make(chan model.TickResult, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer close(h.results)
		h.err = l.Run(ctx, p, func(res model.TickResult) {
			select {
			case h.results <- res:
			case <-ctx.Done():
			}
		})
		if h.err != nil && !errors.Is(h.err, context.Canceled) && !errors.Is(h.err, context.DeadlineExceeded) {
			l.bus.Publish(events.TopicExit, events.ErrorEvent{
				Source:       "live",
				Symbol:       p.Symbol,
				StrategyName: p.StrategyName,
				Message:      h.err.Error(),
			})
		}
	}()
	return h
}

// Results streams opened and closed tick results.
func (h *Handle) Results() <-chan model.TickResult {
	return h.results
}

// Stop sets the soft flag; the task finishes its open signal first.
func (h *Handle) Stop() error {
	return h.loop.Stop(h.params)
}

// Cancel hard-stops the task.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the task exits and returns its outcome.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}
