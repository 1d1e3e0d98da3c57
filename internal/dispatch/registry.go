package dispatch

import (
	"context"
	"encoding/json"
	"sync"
)

// VersionLens maps a message's parameters to the live version of the document
// it addresses. ok is false when the message carries no document or the
// document is not known. Lenses are called on every drain and must read live
// state.
type VersionLens func(params json.RawMessage) (version int, ok bool)

// NoVersion is a lens for messages that are never superseded.
func NoVersion(json.RawMessage) (int, bool) { return 0, false }

// RequestHandler handles a request. The returned future settles the caller's
// result; a nil future resolves it with nil.
type RequestHandler func(ctx context.Context, params json.RawMessage) *Future

// NotificationHandler handles a notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

type requestEntry struct {
	handler RequestHandler
	lens    VersionLens
}

type notificationEntry struct {
	handler NotificationHandler
	lens    VersionLens
}

// Registry maps method names to handlers and version lenses.
//
// Registering a method a second time replaces the earlier registration.
// Tests rely on this to swap in fakes after the server wires its defaults.
// The queue reads it only from the loop, but the server hands it out to other
// goroutines, so it is locked.
type Registry struct {
	mu            sync.RWMutex
	requests      map[string]requestEntry
	notifications map[string]notificationEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		requests:      make(map[string]requestEntry),
		notifications: make(map[string]notificationEntry),
	}
}

// RegisterRequest registers the handler for a request method.
// A nil lens is treated as NoVersion.
func (r *Registry) RegisterRequest(method string, h RequestHandler, lens VersionLens) {
	if lens == nil {
		lens = NoVersion
	}
	r.mu.Lock()
	r.requests[method] = requestEntry{handler: h, lens: lens}
	r.mu.Unlock()
}

// RegisterNotification registers the handler for a notification method.
// A nil lens is treated as NoVersion.
func (r *Registry) RegisterNotification(method string, h NotificationHandler, lens VersionLens) {
	if lens == nil {
		lens = NoVersion
	}
	r.mu.Lock()
	r.notifications[method] = notificationEntry{handler: h, lens: lens}
	r.mu.Unlock()
}

// HasRequest reports whether a request handler is registered for method.
func (r *Registry) HasRequest(method string) bool {
	_, ok := r.request(method)
	return ok
}

// Methods returns the number of registered request and notification methods.
func (r *Registry) Methods() (requests, notifications int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.requests), len(r.notifications)
}

func (r *Registry) request(method string) (requestEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.requests[method]
	return e, ok
}

func (r *Registry) notification(method string) (notificationEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.notifications[method]
	return e, ok
}

// decode unmarshals params into a P. Empty params decode to the zero value.
func decode[P any](method string, params json.RawMessage) (P, error) {
	var p P
	if len(params) == 0 || string(params) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, &ParamsError{Method: method, Err: err}
	}
	return p, nil
}

// HandleRequest adapts a synchronous typed handler. Its result or error
// settles the caller's future before the drain step returns.
func HandleRequest[P, R any](method string, fn func(ctx context.Context, params P) (R, error)) RequestHandler {
	return func(ctx context.Context, raw json.RawMessage) *Future {
		p, err := decode[P](method, raw)
		if err != nil {
			return Rejected(err)
		}
		res, err := fn(ctx, p)
		if err != nil {
			return Rejected(err)
		}
		return Resolved(res)
	}
}

// HandleRequestAsync adapts a typed handler that returns its own future,
// usually one obtained from Go.
func HandleRequestAsync[P any](method string, fn func(ctx context.Context, params P) *Future) RequestHandler {
	return func(ctx context.Context, raw json.RawMessage) *Future {
		p, err := decode[P](method, raw)
		if err != nil {
			return Rejected(err)
		}
		return fn(ctx, p)
	}
}

// HandleNotification adapts a typed notification handler. Undecodable params
// are passed to onError, if set, and the handler is skipped.
func HandleNotification[P any](method string, fn func(ctx context.Context, params P), onError func(error)) NotificationHandler {
	return func(ctx context.Context, raw json.RawMessage) {
		p, err := decode[P](method, raw)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(ctx, p)
	}
}

// Lens adapts a typed version lookup. Params that fail to decode have no
// version.
func Lens[P any](fn func(params P) (int, bool)) VersionLens {
	return func(raw json.RawMessage) (int, bool) {
		var p P
		if len(raw) == 0 {
			return 0, false
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return 0, false
		}
		return fn(p)
	}
}
