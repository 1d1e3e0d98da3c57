package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Scheduler accepts tasks to run later on a single logical thread.
// Post must never run the task synchronously.
type Scheduler interface {
	Post(task func())
}

// Loop is a single-goroutine cooperative scheduler. Tasks run one at a time
// in the order they were posted, each to completion. Post never blocks, so
// protocol readers can hand work to the loop without back-pressure.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	running atomic.Bool
	stopped atomic.Bool

	executor *Executor
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopPanicHandler sets the handler for panicking tasks.
func WithLoopPanicHandler(h PanicHandler) LoopOption {
	return func(l *Loop) {
		l.executor = NewExecutor(h)
	}
}

// NewLoop creates a loop. Call Run to start processing tasks.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake:     make(chan struct{}, 1),
		executor: NewExecutor(nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post appends a task. Tasks posted after the loop stops are discarded.
func (l *Loop) Post(task func()) {
	if l.stopped.Load() {
		return
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes tasks until ctx is done. It returns ctx.Err() on
// cancellation and ErrLoopStopped if the loop already ran.
func (l *Loop) Run(ctx context.Context) error {
	if l.stopped.Load() || l.running.Swap(true) {
		return ErrLoopStopped
	}
	defer l.stopped.Store(true)

	for {
		task, ok := l.next()
		if ok {
			l.executor.Execute("loop", task)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}
	task := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return task, true
}

// Call posts fn and waits for it to finish. It must not be called from the
// loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
