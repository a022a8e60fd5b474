// Package evalsink exports finished resolutions to offline evaluation
// artifacts. Sinks are observers: a sink failure never affects the
// resolution result.
package evalsink

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/model"
)

// Sink receives finished resolutions.
type Sink interface {
	Write(ctx context.Context, res *model.Resolution) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Write(context.Context, *model.Resolution) error { return nil }
func (Nop) Close() error                                   { return nil }

// Async wraps a sink so writes happen off the pipeline goroutine.
// Errors and panics are logged and swallowed.
type Async struct {
	inner Sink
	wg    sync.WaitGroup
}

// NewAsync wraps inner in a fire-and-forget sink.
func NewAsync(inner Sink) *Async {
	return &Async{inner: inner}
}

func (a *Async) Write(ctx context.Context, res *model.Resolution) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("eval sink panicked", zap.Any("panic", r))
			}
		}()
		if err := a.inner.Write(context.WithoutCancel(ctx), res); err != nil {
			zap.L().Warn("eval sink write failed", zap.Error(err))
		}
	}()
	return nil
}

// Close waits for in-flight writes, then closes the inner sink.
func (a *Async) Close() error {
	a.wg.Wait()
	return a.inner.Close()
}
