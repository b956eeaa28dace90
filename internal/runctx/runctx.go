// Package runctx carries the ambient per-call contexts consumed by strategy
// and exchange callbacks: the execution context (symbol, timestamp, mode)
// and the method context (schema names of the running command). Both travel
// on a context.Context; nested tasks inherit and may override.
package runctx

import (
	"context"
	"errors"
)

// ErrContextMissing is returned when an accessor runs outside a frame. It is
// a programming error, not a runtime condition.
var ErrContextMissing = errors.New("ambient context missing")

type ctxKey int

const (
	executionKey ctxKey = iota
	methodKey
)

// Execution is the per-tick execution context. When is unix milliseconds.
type Execution struct {
	Symbol   string
	When     int64
	Backtest bool
}

// Method names the schemas of the currently running command.
type Method struct {
	StrategyName string
	ExchangeName string
	FrameName    string
	WalkerName   string
}

// WithExecution pushes an execution frame.
func WithExecution(ctx context.Context, e Execution) context.Context {
	return context.WithValue(ctx, executionKey, e)
}

// ExecutionFrom reads the current execution frame.
func ExecutionFrom(ctx context.Context) (Execution, error) {
	e, ok := ctx.Value(executionKey).(Execution)
	if !ok {
		return Execution{}, ErrContextMissing
	}
	return e, nil
}

// WithMethod pushes a method frame.
func WithMethod(ctx context.Context, m Method) context.Context {
	return context.WithValue(ctx, methodKey, m)
}

// MethodFrom reads the current method frame.
func MethodFrom(ctx context.Context) (Method, error) {
	m, ok := ctx.Value(methodKey).(Method)
	if !ok {
		return Method{}, ErrContextMissing
	}
	return m, nil
}
