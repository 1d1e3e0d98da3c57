package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/dshills/lintls/internal/logging"
)

type messageKind int

const (
	kindRequest messageKind = iota
	kindNotification
)

func (k messageKind) String() string {
	if k == kindRequest {
		return "request"
	}
	return "notification"
}

// message is one unit of queued work. The version snapshot is taken when the
// message is enqueued and compared against the lens when it is drained.
type message struct {
	kind      messageKind
	method    string
	params    json.RawMessage
	version   int
	versioned bool

	// Requests only.
	ctx    context.Context
	result *Future
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued     uint64
	Executed     uint64
	Superseded   uint64
	Cancelled    uint64
	Unregistered uint64
	Panicked     uint64
	Pending      int
}

type queueStats struct {
	enqueued     atomic.Uint64
	executed     atomic.Uint64
	superseded   atomic.Uint64
	cancelled    atomic.Uint64
	unregistered atomic.Uint64
	panicked     atomic.Uint64
	pending      atomic.Int64
}

// Queue serializes requests and notifications into one ordered pipeline.
//
// Every method except Stats must be called from the scheduler's goroutine.
// The pending slice and the drain flag are never touched anywhere else, so
// they need no lock.
type Queue struct {
	registry  *Registry
	scheduler Scheduler
	logger    *logging.Logger
	executor  *Executor
	baseCtx   context.Context

	pending        []*message
	drainScheduled bool

	stats queueStats
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *logging.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithBaseContext sets the context passed to notification handlers.
func WithBaseContext(ctx context.Context) QueueOption {
	return func(q *Queue) {
		q.baseCtx = ctx
	}
}

// WithPanicHandler sets the handler called when a message handler panics.
func WithPanicHandler(h PanicHandler) QueueOption {
	return func(q *Queue) {
		q.executor = NewExecutor(h)
	}
}

// NewQueue creates a queue that looks handlers up in reg and drains on s.
func NewQueue(reg *Registry, s Scheduler, opts ...QueueOption) *Queue {
	q := &Queue{
		registry:  reg,
		scheduler: s,
		logger:    logging.Nop(),
		executor:  NewExecutor(nil),
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueRequest appends a request whose document was at version when it was
// issued. A negative version disables the currency check. ctx is the
// request's cancellation signal; it is only checked when the request reaches
// the head of the queue.
func (q *Queue) EnqueueRequest(ctx context.Context, method string, params json.RawMessage, version int) *Future {
	return q.enqueueRequest(ctx, method, params, version, version >= 0)
}

// EnqueueRequestCurrent appends a request, taking its version snapshot from
// the registered lens.
func (q *Queue) EnqueueRequestCurrent(ctx context.Context, method string, params json.RawMessage) *Future {
	version, ok := 0, false
	if e, found := q.registry.request(method); found {
		version, ok = e.lens(params)
	}
	return q.enqueueRequest(ctx, method, params, version, ok)
}

func (q *Queue) enqueueRequest(ctx context.Context, method string, params json.RawMessage, version int, versioned bool) *Future {
	if ctx == nil {
		ctx = q.baseCtx
	}
	f := NewFuture()
	q.push(&message{
		kind:      kindRequest,
		method:    method,
		params:    params,
		version:   version,
		versioned: versioned,
		ctx:       ctx,
		result:    f,
	})
	return f
}

// EnqueueNotification appends a notification. A negative version disables the
// currency check.
func (q *Queue) EnqueueNotification(method string, params json.RawMessage, version int) {
	q.push(&message{
		kind:      kindNotification,
		method:    method,
		params:    params,
		version:   version,
		versioned: version >= 0,
	})
}

// EnqueueNotificationCurrent appends a notification, taking its version
// snapshot from the registered lens.
func (q *Queue) EnqueueNotificationCurrent(method string, params json.RawMessage) {
	version, ok := 0, false
	if e, found := q.registry.notification(method); found {
		version, ok = e.lens(params)
	}
	q.push(&message{
		kind:      kindNotification,
		method:    method,
		params:    params,
		version:   version,
		versioned: ok,
	})
}

func (q *Queue) push(m *message) {
	q.pending = append(q.pending, m)
	q.stats.enqueued.Add(1)
	q.stats.pending.Add(1)
	q.scheduleDrain()
}

// scheduleDrain arms at most one drain at a time.
func (q *Queue) scheduleDrain() {
	if q.drainScheduled || len(q.pending) == 0 {
		return
	}
	q.drainScheduled = true
	q.scheduler.Post(q.drainOne)
}

// drainOne processes the head of the queue.
func (q *Queue) drainOne() {
	q.drainScheduled = false
	if len(q.pending) == 0 {
		return
	}

	m := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.stats.pending.Add(-1)

	switch m.kind {
	case kindRequest:
		q.runRequest(m)
	case kindNotification:
		q.runNotification(m)
	}

	q.scheduleDrain()
}

func (q *Queue) runRequest(m *message) {
	if m.ctx.Err() != nil {
		q.stats.cancelled.Add(1)
		m.result.Reject(ErrRequestCancelled)
		return
	}

	e, ok := q.registry.request(m.method)
	if !ok {
		q.unregistered(m)
		return
	}

	if q.superseded(m, e.lens) {
		m.result.Reject(ErrRequestCancelled)
		return
	}

	var out *Future
	if perr := q.executor.Execute(m.method, func() { out = e.handler(m.ctx, m.params) }); perr != nil {
		q.stats.panicked.Add(1)
		q.logger.Error("request handler panicked: method=%s err=%v", m.method, perr.Value)
		m.result.Reject(perr)
		return
	}
	q.stats.executed.Add(1)

	if out == nil {
		m.result.Resolve(nil)
		return
	}
	out.Forward(m.result)
}

func (q *Queue) runNotification(m *message) {
	e, ok := q.registry.notification(m.method)
	if !ok {
		q.unregistered(m)
		return
	}

	if q.superseded(m, e.lens) {
		return
	}

	if perr := q.executor.Execute(m.method, func() { e.handler(q.baseCtx, m.params) }); perr != nil {
		q.stats.panicked.Add(1)
		q.logger.Error("notification handler panicked: method=%s err=%v", m.method, perr.Value)
		return
	}
	q.stats.executed.Add(1)
}

// superseded re-evaluates the lens and compares it with the snapshot. A
// snapshot taken while the document was known is stale once the document is
// gone.
func (q *Queue) superseded(m *message, lens VersionLens) bool {
	if !m.versioned {
		return false
	}
	current, ok := lens(m.params)
	if ok && current == m.version {
		return false
	}
	q.stats.superseded.Add(1)
	q.logger.Debug("superseded %s %s: enqueued at version %d", m.kind, m.method, m.version)
	return true
}

func (q *Queue) unregistered(m *message) {
	q.stats.unregistered.Add(1)
	q.logger.Debug("dropping %s for unregistered method %s", m.kind, m.method)
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Stats returns a snapshot of the queue counters. It is safe to call from any
// goroutine.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:     q.stats.enqueued.Load(),
		Executed:     q.stats.executed.Load(),
		Superseded:   q.stats.superseded.Load(),
		Cancelled:    q.stats.cancelled.Load(),
		Unregistered: q.stats.unregistered.Load(),
		Panicked:     q.stats.panicked.Load(),
		Pending:      int(q.stats.pending.Load()),
	}
}
