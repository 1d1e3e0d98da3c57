package dispatch

import "runtime/debug"

// PanicHandler is called when a task panics. It receives a label describing
// the task, the panic value and the stack trace.
type PanicHandler func(label string, panicValue any, stack []byte)

// defaultPanicHandler silently recovers.
func defaultPanicHandler(string, any, []byte) {}

// Executor runs tasks with panic recovery.
type Executor struct {
	panicHandler PanicHandler
}

// NewExecutor creates an executor reporting panics to h. A nil h discards them.
func NewExecutor(h PanicHandler) *Executor {
	if h == nil {
		h = defaultPanicHandler
	}
	return &Executor{panicHandler: h}
}

// Execute runs fn and reports whether it panicked. A recovered panic is
// returned as a *PanicError labelled with label.
func (e *Executor) Execute(label string, fn func()) (perr *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			perr = &PanicError{Method: label, Value: r, Stack: stack}

			// Don't let the panic handler crash the loop either
			func() {
				defer func() { _ = recover() }()
				e.panicHandler(label, r, stack)
			}()
		}
	}()

	fn()
	return nil
}
