package dispatch

import (
	"context"
	"sync"
)

// Future is the pending outcome of a request. It settles exactly once, with
// either a value or an error; later attempts to settle are ignored.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     any
	err       error
	callbacks []func(any, error)
}

// NewFuture returns an unsettled future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future already settled with v.
func Resolved(v any) *Future {
	f := NewFuture()
	f.Resolve(v)
	return f
}

// Rejected returns a future already settled with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve settles the future with v. It reports whether this call settled it.
func (f *Future) Resolve(v any) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. It reports whether this call settled it.
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

func (f *Future) settle(v any, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Then registers fn to run once the future settles. Callbacks run on the
// goroutine that settles the future, or immediately if it already has.
func (f *Future) Then(fn func(v any, err error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Forward settles target with this future's outcome once it is known.
func (f *Future) Forward(target *Future) {
	f.Then(func(v any, err error) {
		target.settle(v, err)
	})
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the outcome. ok is false while the future is pending.
func (f *Future) Result() (v any, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.settled
}

// Wait blocks until the future settles or ctx is done.
// It must not be called from the loop goroutine that will settle the future.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go runs fn on its own goroutine and returns a future for its outcome. The
// future is settled by a task posted onto s, so Then callbacks observe the
// result on the scheduler's goroutine.
func Go(s Scheduler, ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f := NewFuture()
	go func() {
		var (
			v   any
			err error
		)
		if perr := NewExecutor(nil).Execute("async", func() { v, err = fn(ctx) }); perr != nil {
			err = perr
		}
		s.Post(func() { f.settle(v, err) })
	}()
	return f
}
