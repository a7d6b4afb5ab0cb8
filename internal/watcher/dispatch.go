package watcher

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"TranscriptPipeline/internal/ports"
)

// GoroutineDispatcher runs each unit of work on its own goroutine with
// panic recovery, so a crash in one file's processing cannot corrupt the
// watcher loop or another file's run.
type GoroutineDispatcher struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

var _ ports.Dispatcher = (*GoroutineDispatcher)(nil)

// NewGoroutineDispatcher builds the default dispatcher.
func NewGoroutineDispatcher(logger *slog.Logger) *GoroutineDispatcher {
	return &GoroutineDispatcher{logger: logger}
}

// Dispatch starts the job and returns immediately.
func (d *GoroutineDispatcher) Dispatch(ctx context.Context, name string, job func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("unit of work panicked",
					"name", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		job(ctx)
	}()
}

// Wait blocks until all in-flight units of work finish. Used on shutdown
// to let dispatched runs complete; abandoned ones are reconciled by the
// stale-launched rule on next startup.
func (d *GoroutineDispatcher) Wait() {
	d.wg.Wait()
}
