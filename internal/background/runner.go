// Package background runs detached work off the request path and makes sure
// its failures are always observed.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrAlreadyRunning is returned when a task for the same id is in flight.
var ErrAlreadyRunning = errors.New("background: task already running for this id")

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Runner launches tasks in their own goroutines.
type Runner struct {
	ctx    context.Context
	logger *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRunner creates a Runner whose tasks receive ctx. Tasks outlive the
// request that started them, so ctx should be a process-lifetime context.
func NewRunner(ctx context.Context, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{ctx: ctx, logger: logger, inFlight: make(map[string]struct{})}
}

// Run schedules task and returns immediately. If task returns an error or
// panics, onError receives it. Failures inside onError are logged and dropped.
func (r *Runner) Run(name, id string, task func(ctx context.Context) error, onError func(error)) error {
	r.mu.Lock()
	if _, busy := r.inFlight[id]; busy {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.inFlight[id] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(id)

		err := r.execute(name, id, task)
		if err == nil {
			return
		}
		r.handle(name, id, err, onError)
	}()
	return nil
}

func (r *Runner) execute(name, id string, task func(ctx context.Context) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			pe := &PanicError{Value: v, Stack: debug.Stack()}
			r.logger.Error("unobserved failure in background task",
				"task", name, "id", id, "panic", fmt.Sprint(v), "stack", string(pe.Stack))
			err = pe
		}
	}()
	return task(r.ctx)
}

func (r *Runner) handle(name, id string, err error, onError func(error)) {
	var pe *PanicError
	if !errors.As(err, &pe) {
		r.logger.Warn("background task failed", "task", name, "id", id, "error", err)
	}
	if onError == nil {
		r.logger.Error("no error handler for background task", "task", name, "id", id, "error", err)
		return
	}

	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("error handler panicked", "task", name, "id", id, "panic", fmt.Sprint(v))
		}
	}()
	onError(err)
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}

// Wait blocks until every scheduled task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Running reports whether a task for id is in flight.
func (r *Runner) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[id]
	return ok
}
