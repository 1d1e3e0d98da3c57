package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/lintls/internal/config"
	"github.com/dshills/lintls/internal/diagnostics"
	"github.com/dshills/lintls/internal/dispatch"
	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/logging"
	"github.com/dshills/lintls/internal/lsp"
	"github.com/dshills/lintls/internal/reconcile"
)

// Name is reported to clients in serverInfo.
const Name = "lintls"

// Options configures a Server.
type Options struct {
	// Settings are the file and environment settings. Client settings are
	// merged on top of them. Nil means config.Defaults().
	Settings *config.Settings

	// ConfigPath is the file ReloadConfig reads. Empty disables reloading.
	ConfigPath string

	// Logger receives server logs. Nil discards them.
	Logger *logging.Logger

	// Backend replaces the backend built from Settings.
	Backend     linter.Linter
	BackendName string

	// Differ computes auto-fix edits. Nil uses a diff-match-patch differ.
	Differ reconcile.Differ

	// MirrorLogs forwards warnings and errors to the client as
	// window/logMessage notifications.
	MirrorLogs bool

	// Transport names the connection kind for the session, e.g. "stdio".
	Transport string

	Version string
}

// Server is a lint language server bound to a single client connection.
//
// All protocol state lives on one dispatch.Loop goroutine. The transport
// reader only posts closures onto the loop, and every handler runs there;
// linter runs happen on their own goroutines and post their results back.
type Server struct {
	opts     Options
	log      *logging.Logger
	session  Session
	loop     *dispatch.Loop
	registry *dispatch.Registry
	queue    *dispatch.Queue
	store    *lsp.DocumentStore
	guard    *linter.Guard
	differ   reconcile.Differ
	conn     *lsp.Conn

	ctx    context.Context
	cancel context.CancelFunc

	// Loop-only state.
	base         *config.Settings
	client       map[string]any
	settings     *config.Settings
	converter    *diagnostics.Converter
	closeBackend func()
	configErr    error
	initialized  bool
	shuttingDown bool
	caps         lsp.ClientCapabilities

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc

	shutdownReceived atomic.Bool
	exited           chan struct{}
	exitOnce         sync.Once
}

// New creates a server. Invalid settings do not fail construction: the
// problem is reported to the client once it has initialized, and editor
// settings may still complete the configuration.
func New(opts Options) *Server {
	if opts.Settings == nil {
		opts.Settings = config.Defaults()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Differ == nil {
		opts.Differ = reconcile.NewDMPDiffer(0)
	}
	if opts.Transport == "" {
		opts.Transport = "stdio"
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := newSession(opts.Transport)
	log := opts.Logger.WithField("session", session.ID[:8])

	s := &Server{
		opts:     opts,
		log:      log,
		session:  session,
		registry: dispatch.NewRegistry(),
		store:    lsp.NewDocumentStore(),
		differ:   opts.Differ,
		ctx:      ctx,
		cancel:   cancel,
		base:     opts.Settings.Clone(),
		settings: opts.Settings.Clone(),
		cancels:  make(map[string]context.CancelFunc),
		exited:   make(chan struct{}),
	}

	panics := func(label string, value any, stack []byte) {
		log.Error("panic in %s: %v\n%s", label, value, stack)
	}
	s.loop = dispatch.NewLoop(dispatch.WithLoopPanicHandler(panics))
	s.queue = dispatch.NewQueue(s.registry, s.loop,
		dispatch.WithLogger(log.WithComponent("dispatch")),
		dispatch.WithBaseContext(ctx),
		dispatch.WithPanicHandler(panics),
	)
	s.guard = linter.NewGuard("", nil,
		linter.WithGuardLogger(log.WithComponent("linter")),
		linter.WithFailureFunc(s.lintFailed),
	)
	s.converter = &diagnostics.Converter{Source: s.settings.Linter.Source}

	docs := log.WithComponent("documents")
	s.store.Subscribe(func(ev lsp.DocumentEvent) {
		docs.Debug("%s %s v%d", ev.Kind, ev.Document.URI, ev.Document.Version)
	})

	s.register()
	if err := s.apply(s.settings); err != nil {
		s.configErr = err
		log.Warn("configuration incomplete: %v", err)
	}
	return s
}

// Registry returns the method registry. Registering a method replaces the
// server's own handler.
func (s *Server) Registry() *dispatch.Registry { return s.registry }

// Documents returns the live document store.
func (s *Server) Documents() *lsp.DocumentStore { return s.store }

// Session returns the connection's session.
func (s *Server) Session() Session { return s.session }

// Stats returns the dispatch queue counters.
func (s *Server) Stats() dispatch.Stats { return s.queue.Stats() }

// Serve runs the server over stream until the client exits, the stream
// ends or ctx is done.
func (s *Server) Serve(ctx context.Context, stream lsp.Stream) error {
	s.conn = lsp.NewConn(stream)
	if s.opts.MirrorLogs {
		s.log.AddSink(s.mirror)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		if err := s.conn.Serve(gctx, s); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-s.exited:
			cancel()
		case <-gctx.Done():
		}
		return s.conn.Close()
	})

	s.log.Info("session started: transport=%s", s.session.Transport)
	err := g.Wait()
	s.log.Info("session ended")
	return err
}

// ExitCode is 0 when the client sent shutdown before exit, 1 otherwise.
func (s *Server) ExitCode() int {
	if s.shutdownReceived.Load() {
		return 0
	}
	return 1
}

// ReloadConfig re-reads the configuration file and revalidates every open
// document. It is safe to call from any goroutine.
func (s *Server) ReloadConfig() {
	s.loop.Post(func() {
		if s.opts.ConfigPath == "" {
			return
		}
		base, err := config.Load(s.opts.ConfigPath)
		if err != nil {
			s.log.Error("reload %s: %v", s.opts.ConfigPath, err)
			s.showMessage(lsp.MessageTypeError, fmt.Sprintf("lintls: %v", err))
			return
		}
		s.base = base
		s.reload("config file changed")
	})
}

func (s *Server) close() {
	s.cancel()
	if s.closeBackend != nil {
		s.closeBackend()
		s.closeBackend = nil
	}
}

// HandleRequest implements lsp.MessageHandler. The request's cancel func is
// registered before it is posted, so a $/cancelRequest that arrives while it
// waits on the loop still rejects it.
func (s *Server) HandleRequest(id lsp.ID, method string, params json.RawMessage) {
	ctx, cancel := context.WithCancel(s.ctx)
	key := id.String()
	s.cancelsMu.Lock()
	s.cancels[key] = cancel
	s.cancelsMu.Unlock()

	s.loop.Post(func() { s.request(ctx, id, method, params) })
}

// HandleNotification implements lsp.MessageHandler. Cancellation and exit
// take effect immediately; everything else is ordered through the loop.
func (s *Server) HandleNotification(method string, params json.RawMessage) {
	switch method {
	case lsp.MethodCancelRequest:
		s.cancelRequest(params)
	case lsp.MethodExit:
		s.exitOnce.Do(func() { close(s.exited) })
	default:
		s.loop.Post(func() { s.notification(method, params) })
	}
}

// request gates a request on the lifecycle, then enqueues it. Runs on the loop.
func (s *Server) request(ctx context.Context, id lsp.ID, method string, params json.RawMessage) {
	var rejected error
	switch {
	case method == lsp.MethodInitialize && s.initialized:
		rejected = lsp.NewRPCError(lsp.CodeInvalidRequest, "server already initialized")
	case method != lsp.MethodInitialize && !s.initialized:
		rejected = lsp.NewRPCError(lsp.CodeServerNotInitialized, "server not initialized")
	case s.shuttingDown:
		rejected = lsp.NewRPCError(lsp.CodeInvalidRequest, "server is shutting down")
	case !s.registry.HasRequest(method):
		rejected = lsp.NewRPCError(lsp.CodeMethodNotFound, "method not found: %s", method)
	}
	if rejected != nil {
		s.finishRequest(id)
		s.reply(id, nil, rejected)
		return
	}

	s.queue.EnqueueRequestCurrent(ctx, method, params).Then(func(v any, err error) {
		s.finishRequest(id)
		s.reply(id, v, err)
	})
}

// finishRequest drops and releases the request's cancel func.
func (s *Server) finishRequest(id lsp.ID) {
	key := id.String()
	s.cancelsMu.Lock()
	cancel, ok := s.cancels[key]
	delete(s.cancels, key)
	s.cancelsMu.Unlock()
	if ok {
		cancel()
	}
}

// notification routes a notification. Runs on the loop.
func (s *Server) notification(method string, params json.RawMessage) {
	if !s.initialized || s.shuttingDown {
		s.log.Debug("ignoring %s outside an active session", method)
		return
	}
	if handle, ok := s.syncHandlers()[method]; ok {
		if err := handle(params); err != nil {
			s.log.Warn("%s: %v", method, err)
		}
		return
	}
	s.queue.EnqueueNotificationCurrent(method, params)
}

func (s *Server) cancelRequest(params json.RawMessage) {
	var p lsp.CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	id, ok := lsp.ParseID(p.ID)
	if !ok {
		return
	}
	s.cancelsMu.Lock()
	cancel, ok := s.cancels[id.String()]
	s.cancelsMu.Unlock()
	if ok {
		s.log.Debug("cancelling request %s", id.String())
		cancel()
	}
}

func (s *Server) reply(id lsp.ID, result any, err error) {
	if err := s.conn.Reply(id, result, replyError(err)); err != nil {
		s.log.Debug("reply %s: %v", id.String(), err)
	}
}

// replyError maps queue outcomes onto protocol errors.
func replyError(err error) error {
	if err == nil {
		return nil
	}
	var perr *dispatch.ParamsError
	switch {
	case errors.Is(err, dispatch.ErrRequestCancelled):
		return lsp.NewRPCError(lsp.CodeRequestCancelled, "Request got cancelled")
	case errors.As(err, &perr):
		return lsp.NewRPCError(lsp.CodeInvalidParams, "%v", perr)
	}
	return err
}

func (s *Server) notify(method string, params any) {
	if err := s.conn.Notify(s.ctx, method, params); err != nil && !errors.Is(err, lsp.ErrShutdown) {
		s.log.Debug("notify %s: %v", method, err)
	}
}

func (s *Server) showMessage(typ lsp.MessageType, msg string) {
	s.notify(lsp.MethodShowMessage, lsp.ShowMessageParams{Type: typ, Message: msg})
}

func (s *Server) publish(uri lsp.DocumentURI, version *int, diags []lsp.Diagnostic) {
	if diags == nil {
		diags = []lsp.Diagnostic{}
	}
	s.notify(lsp.MethodPublishDiagnostics, lsp.PublishDiagnosticsParams{
		URI:         uri,
		Version:     version,
		Diagnostics: diags,
	})
}

// mirror forwards warnings and errors to the client log.
func (s *Server) mirror(level logging.Level, msg string) {
	if level < logging.LevelWarn || s.conn == nil || s.conn.IsClosed() {
		return
	}
	typ := lsp.MessageTypeWarning
	if level >= logging.LevelError {
		typ = lsp.MessageTypeError
	}
	_ = s.conn.Notify(s.ctx, lsp.MethodLogMessage, lsp.LogMessageParams{Type: typ, Message: msg})
}

// lintFailed is called by the guard the first time a document fails.
func (s *Server) lintFailed(name string, err error) {
	if errors.Is(err, linter.ErrNoBackend) {
		return
	}
	s.showMessage(lsp.MessageTypeError, fmt.Sprintf("lintls: linting %s failed, see the log for details. Diagnostics are off for this file until the configuration changes.", name))
}
