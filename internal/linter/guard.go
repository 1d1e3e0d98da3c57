package linter

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dshills/lintls/internal/logging"
)

// FailureFunc is told about the first failure for a document. name is the
// file path, or the URI for buffers that have none.
type FailureFunc func(name string, err error)

// Guard wraps a Linter so that a failing backend is reported once per file.
//
// The first error or panic for a file is logged and passed to the failure
// callback, and the file is marked failed. Every later run for a marked file
// returns an ignored result without calling the backend, until Reset.
// Errors never escape Lint.
type Guard struct {
	mu      sync.RWMutex
	backend Linter
	name    string

	logger    *logging.Logger
	onFailure FailureFunc
	failed    mapset.Set[string]
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the guard logger.
func WithGuardLogger(l *logging.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = l
	}
}

// WithFailureFunc sets the failure callback.
func WithFailureFunc(fn FailureFunc) GuardOption {
	return func(g *Guard) {
		g.onFailure = fn
	}
}

// NewGuard wraps backend. name identifies the backend in log lines.
func NewGuard(name string, backend Linter, opts ...GuardOption) *Guard {
	g := &Guard{
		backend: backend,
		name:    name,
		logger:  logging.Nop(),
		failed:  mapset.NewSet[string](),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Lint runs the backend unless the document has already failed.
func (g *Guard) Lint(ctx context.Context, req Request) (*Result, error) {
	key := failureKey(req)
	if g.failed.Contains(key) {
		return IgnoredResult(), nil
	}

	res, err := g.run(ctx, req)
	if err != nil {
		// A cancelled run says nothing about the backend.
		if ctx.Err() != nil {
			return IgnoredResult(), nil
		}
		if g.failed.Add(key) {
			g.logger.Error("linter failed, disabling for file until reload: %v", err)
			if g.onFailure != nil {
				name := req.Path
				if name == "" {
					name = req.URI
				}
				g.onFailure(name, err)
			}
		}
		return IgnoredResult(), nil
	}
	if res == nil {
		return &Result{Output: req.Source}, nil
	}
	return res, nil
}

func (g *Guard) run(ctx context.Context, req Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Debug("linter panic stack:\n%s", debug.Stack())
			err = &ToolError{Backend: g.Name(), Path: req.Path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	g.mu.RLock()
	name, backend := g.name, g.backend
	g.mu.RUnlock()

	if backend == nil {
		return nil, &ToolError{Backend: name, Path: req.Path, Err: ErrNoBackend}
	}

	res, err = backend.Lint(ctx, req)
	if err != nil {
		return nil, &ToolError{Backend: name, Path: req.Path, Err: err}
	}
	return res, nil
}

func failureKey(req Request) string {
	if req.URI != "" {
		return req.URI
	}
	return req.Path
}

// Failed reports whether key, a document URI or a path for requests without
// one, is marked failed.
func (g *Guard) Failed(key string) bool {
	return g.failed.Contains(key)
}

// FailedPaths returns the marked keys.
func (g *Guard) FailedPaths() []string {
	return g.failed.ToSlice()
}

// Reset clears all failure marks.
func (g *Guard) Reset() {
	if n := g.failed.Cardinality(); n > 0 {
		g.logger.Info("re-enabling linter for %d file(s)", n)
	}
	g.failed.Clear()
}

// SetBackend swaps the wrapped backend and clears failure marks. It is used
// when configuration reload selects a different backend.
func (g *Guard) SetBackend(name string, backend Linter) {
	g.mu.Lock()
	g.name = name
	g.backend = backend
	g.mu.Unlock()
	g.Reset()
}

// Name returns the backend name.
func (g *Guard) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}
