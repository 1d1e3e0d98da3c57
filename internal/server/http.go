package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dshills/lintls/internal/logging"
	"github.com/dshills/lintls/internal/lsp"
)

// Listener serves LSP sessions over websockets. Each connection gets its
// own Server built from the listener's options.
type Listener struct {
	opts     Options
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Server
	wg       sync.WaitGroup
	ctx      context.Context
	closing  bool
}

// NewListener creates a listener. opts is the template for every session;
// its MirrorLogs and Transport fields are overridden.
func NewListener(opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	opts.MirrorLogs = false
	opts.Transport = "websocket"

	return &Listener{
		opts: opts,
		log:  opts.Logger.WithComponent("http"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Server),
		ctx:      context.Background(),
	}
}

// Handler returns the HTTP routes: /lsp upgrades to a websocket session and
// /healthz reports the open sessions.
func (l *Listener) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/lsp", l.handleSession)
	r.HandleFunc("/healthz", l.handleHealth).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves on addr until ctx is done, then waits for open
// sessions to end.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	srv := &http.Server{
		Handler:           l.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		l.log.Info("listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// No session may join the wait group once Wait can start.
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	l.wg.Wait()
	return err
}

// Sessions returns the number of open sessions.
func (l *Listener) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// ReloadConfig asks every open session to re-read its configuration file.
func (l *Listener) ReloadConfig() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.sessions {
		s.ReloadConfig()
	}
}

func (l *Listener) handleSession(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	l.wg.Add(1)
	ctx := l.ctx
	l.mu.Unlock()
	defer l.wg.Done()

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	s := New(l.opts)
	id := s.Session().ID

	l.mu.Lock()
	l.sessions[id] = s
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.sessions, id)
		l.mu.Unlock()
	}()

	l.log.Info("session %s from %s", id, r.RemoteAddr)
	if err := s.Serve(ctx, lsp.NewWebSocketStream(ws)); err != nil {
		l.log.Warn("session %s: %v", id, err)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Version  string `json:"version,omitempty"`
}

func (l *Listener) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:   "ok",
		Sessions: l.Sessions(),
		Version:  l.opts.Version,
	})
}
