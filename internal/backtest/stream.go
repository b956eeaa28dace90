package backtest

import (
	"context"
	"errors"

	"signal-engine/internal/model"
)

// Stream is a lazy, finite, non-restartable sequence of closed results.
// Cancel stops the producing loop at its next yield boundary.
type Stream struct {
	results chan model.TickResult
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Stream starts the loop in the background and returns a consumer handle.
func (l *Loop) Stream(ctx context.Context, p Params) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		results: make(chan model.TickResult),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.results)
		s.err = l.run(ctx, p, func(res model.TickResult) bool {
			select {
			case s.results <- res:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if s.err != nil {
			l.publishExit(p, s.err)
		}
	}()
	return s
}

// Next blocks for the next closed result. ok is false once the sequence is
// exhausted or cancelled.
func (s *Stream) Next() (res model.TickResult, ok bool) {
	res, ok = <-s.results
	return res, ok
}

// Cancel stops the loop. Safe to call more than once.
func (s *Stream) Cancel() {
	s.cancel()
}

// Err reports the loop outcome after the stream is drained.
func (s *Stream) Err() error {
	<-s.done
	if errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}
