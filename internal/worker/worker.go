// Package worker runs the loop that drains one role's task queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/me/rolesched/internal/queue"
	"github.com/me/rolesched/pkg/model"
)

// DefaultDequeueTimeout bounds how long a worker waits for a task before
// doing idle work.
const DefaultDequeueTimeout = time.Second

// Behavior is what a role does with its tasks and its spare time.
type Behavior interface {
	// Handle processes one dequeued task.
	Handle(ctx context.Context, task model.Task) error

	// Idle runs when no task arrived within the dequeue timeout. It may
	// enqueue a bounded number of follow-up tasks for its own role.
	Idle(ctx context.Context) error

	// Interval is the pause between loop iterations.
	Interval() time.Duration
}

// TaskObserver is told the outcome of every handled task.
type TaskObserver func(role model.RoleID, err error)

// Worker drains one role's queue until stopped.
type Worker struct {
	role     model.RoleID
	behavior Behavior
	queue    *queue.Queue
	logger   *slog.Logger

	dequeueTimeout time.Duration
	observe        TaskObserver

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithDequeueTimeout overrides DefaultDequeueTimeout.
func WithDequeueTimeout(d time.Duration) Option {
	return func(w *Worker) { w.dequeueTimeout = d }
}

// WithTaskObserver registers fn to be called after every task.
func WithTaskObserver(fn TaskObserver) Option {
	return func(w *Worker) { w.observe = fn }
}

// New creates a Worker for role. Call Run (usually in a goroutine) to start it.
func New(role model.RoleID, b Behavior, q *queue.Queue, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		role:           role,
		behavior:       b,
		queue:          q,
		logger:         logger.With("component", "worker", "role", role),
		dequeueTimeout: DefaultDequeueTimeout,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Role returns the role this worker serves.
func (w *Worker) Role() model.RoleID { return w.role }

// Run loops until Stop is called or ctx is done. Tasks are handled with ctx,
// not with the stop signal, so a task in flight when Stop is called runs to
// completion. Run closes Done when it returns.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	w.logger.Info("role started")
	for loopCtx.Err() == nil {
		if task, ok := w.queue.Dequeue(loopCtx, w.dequeueTimeout); ok {
			w.handle(ctx, task)
		} else if loopCtx.Err() == nil {
			w.idle(loopCtx)
		}
		w.sleep(loopCtx)
	}
	w.logger.Info("role stopped")
}

// Stop asks the loop to exit after its current step. It does not wait.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// StopRequested reports whether Stop has been called.
func (w *Worker) StopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// Wait blocks until Run returns or timeout elapses. It reports whether the
// loop exited.
func (w *Worker) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Worker) handle(ctx context.Context, task model.Task) {
	defer w.queue.Done()

	w.logger.Info("processing task", "task", task.Name, "task_id", task.ID)
	err := w.safely(func() error { return w.behavior.Handle(ctx, task) })
	if err != nil {
		w.logger.Error("task failed", "task", task.Name, "task_id", task.ID, "error", err)
	}
	if w.observe != nil {
		w.observe(w.role, err)
	}
}

func (w *Worker) idle(ctx context.Context) {
	if err := w.safely(func() error { return w.behavior.Idle(ctx) }); err != nil {
		w.logger.Error("idle work failed", "error", err)
	}
}

// safely runs fn, turning a panic into an error.
func (w *Worker) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in role", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (w *Worker) sleep(ctx context.Context) {
	d := w.behavior.Interval()
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
