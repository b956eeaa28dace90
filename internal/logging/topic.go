package logging

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"signal-engine/internal/runctx"
)

// TopicLogger is the logger handed to user callbacks. Every call is
// augmented with the ambient execution and method contexts when present.
type TopicLogger struct {
	log zerolog.Logger
}

// NewTopicLogger wraps a zerolog logger in the user-facing contract.
func NewTopicLogger(log zerolog.Logger) *TopicLogger {
	return &TopicLogger{log: log}
}

func (t *TopicLogger) augment(ctx context.Context, e *zerolog.Event) *zerolog.Event {
	if ec, err := runctx.ExecutionFrom(ctx); err == nil {
		e = e.Str("symbol", ec.Symbol).Int64("when", ec.When).Bool("backtest", ec.Backtest)
	}
	if mc, err := runctx.MethodFrom(ctx); err == nil {
		if mc.StrategyName != "" {
			e = e.Str("strategy", mc.StrategyName)
		}
		if mc.WalkerName != "" {
			e = e.Str("walker", mc.WalkerName)
		}
	}
	return e
}

func (t *TopicLogger) emit(ctx context.Context, e *zerolog.Event, topic string, args []any) {
	t.augment(ctx, e).Str("topic", topic).Msg(fmt.Sprint(args...))
}

func (t *TopicLogger) Log(ctx context.Context, topic string, args ...any) {
	t.emit(ctx, t.log.Info(), topic, args)
}

func (t *TopicLogger) Debug(ctx context.Context, topic string, args ...any) {
	t.emit(ctx, t.log.Debug(), topic, args)
}

func (t *TopicLogger) Info(ctx context.Context, topic string, args ...any) {
	t.emit(ctx, t.log.Info(), topic, args)
}

func (t *TopicLogger) Warn(ctx context.Context, topic string, args ...any) {
	t.emit(ctx, t.log.Warn(), topic, args)
}
