package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/logging"
	"github.com/dshills/lintls/internal/lsp"
	"github.com/dshills/lintls/internal/server"
)

const testTimeout = 5 * time.Second

// message is any JSON-RPC message seen by the test client.
type message struct {
	ID     *lsp.ID         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *lsp.RPCError   `json:"error,omitempty"`
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// testClient plays the editor side of a session over in-memory pipes.
type testClient struct {
	t      *testing.T
	srv    *server.Server
	stream *lsp.HeaderStream
	nextID int64
	done   chan error

	incoming chan message
	skipped  []message

	mu      sync.Mutex
	edits   []lsp.ApplyWorkspaceEditParams
	applied bool
}

func newTestClient(t *testing.T, opts server.Options) *testClient {
	t.Helper()

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	srv := server.New(opts)
	c := &testClient{
		t:        t,
		srv:      srv,
		stream:   lsp.NewHeaderStream(clientR, clientW, nil),
		done:     make(chan error, 1),
		incoming: make(chan message, 128),
		applied:  true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c.done <- srv.Serve(ctx, lsp.NewHeaderStream(serverR, serverW, closers{serverR, serverW}))
	}()
	go c.readLoop()

	t.Cleanup(func() {
		cancel()
		_ = clientW.Close()
		_ = clientR.Close()
	})
	return c
}

func (c *testClient) readLoop() {
	defer close(c.incoming)
	for {
		data, err := c.stream.Read()
		if err != nil {
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Method == lsp.MethodApplyEdit && msg.ID != nil {
			c.answerApplyEdit(msg)
			continue
		}
		c.incoming <- msg
	}
}

func (c *testClient) answerApplyEdit(msg message) {
	var p lsp.ApplyWorkspaceEditParams
	_ = json.Unmarshal(msg.Params, &p)

	c.mu.Lock()
	c.edits = append(c.edits, p)
	applied := c.applied
	c.mu.Unlock()

	result, _ := json.Marshal(lsp.ApplyWorkspaceEditResult{Applied: applied})
	resp, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": msg.ID, "result": json.RawMessage(result)})
	_ = c.stream.Write(resp)
}

func (c *testClient) appliedEdits() []lsp.ApplyWorkspaceEditParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]lsp.ApplyWorkspaceEditParams(nil), c.edits...)
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if err := c.stream.Write(data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// request sends a request and returns its id.
func (c *testClient) request(method string, params any) lsp.ID {
	c.t.Helper()
	c.nextID++
	id := lsp.NumberID(c.nextID)
	c.send(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	return id
}

func (c *testClient) notify(method string, params any) {
	c.t.Helper()
	c.send(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// next returns the next message matching keep, discarding the rest.
func (c *testClient) next(what string, keep func(message) bool) message {
	c.t.Helper()
	timeout := time.After(testTimeout)
	for {
		select {
		case msg, ok := <-c.incoming:
			if !ok {
				c.t.Fatalf("connection closed waiting for %s", what)
			}
			if keep(msg) {
				return msg
			}
			c.skipped = append(c.skipped, msg)
		case <-timeout:
			c.t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (c *testClient) response(id lsp.ID) message {
	c.t.Helper()
	return c.next("response "+id.String(), func(m message) bool {
		return m.Method == "" && m.ID != nil && m.ID.String() == id.String()
	})
}

// call sends a request and decodes its successful result into out.
func (c *testClient) call(method string, params any, out any) {
	c.t.Helper()
	resp := c.response(c.request(method, params))
	if resp.Error != nil {
		c.t.Fatalf("%s: %v", method, resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			c.t.Fatalf("%s result: %v", method, err)
		}
	}
}

// callError sends a request that must fail and returns the error.
func (c *testClient) callError(method string, params any) *lsp.RPCError {
	c.t.Helper()
	resp := c.response(c.request(method, params))
	if resp.Error == nil {
		c.t.Fatalf("%s: expected error, got result %s", method, resp.Result)
	}
	return resp.Error
}

func (c *testClient) notification(method string) json.RawMessage {
	c.t.Helper()
	return c.next(method, func(m message) bool {
		return m.ID == nil && m.Method == method
	}).Params
}

// skippedDiagnostics returns the diagnostics notifications passed over
// while waiting for other messages.
func (c *testClient) skippedDiagnostics() []lsp.PublishDiagnosticsParams {
	var out []lsp.PublishDiagnosticsParams
	for _, m := range c.skipped {
		if m.Method != lsp.MethodPublishDiagnostics {
			continue
		}
		var p lsp.PublishDiagnosticsParams
		if err := json.Unmarshal(m.Params, &p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func (c *testClient) diagnostics() lsp.PublishDiagnosticsParams {
	c.t.Helper()
	var p lsp.PublishDiagnosticsParams
	if err := json.Unmarshal(c.notification(lsp.MethodPublishDiagnostics), &p); err != nil {
		c.t.Fatalf("publishDiagnostics: %v", err)
	}
	return p
}

func (c *testClient) initialize(caps lsp.ClientCapabilities) lsp.InitializeResult {
	c.t.Helper()
	var res lsp.InitializeResult
	c.call(lsp.MethodInitialize, lsp.InitializeParams{
		ClientInfo:   &lsp.ClientInfo{Name: "test"},
		Capabilities: caps,
	}, &res)
	c.notify(lsp.MethodInitialized, map[string]any{})
	return res
}

func (c *testClient) open(uri lsp.DocumentURI, version int, text string) {
	c.t.Helper()
	c.notify(lsp.MethodDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{URI: uri, LanguageID: "javascript", Version: version, Text: text},
	})
}

func (c *testClient) change(uri lsp.DocumentURI, version int, text string) {
	c.t.Helper()
	c.notify(lsp.MethodDidChange, lsp.DidChangeTextDocumentParams{
		TextDocument:   lsp.VersionedTextDocumentIdentifier{TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: uri}, Version: version},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{{Text: text}},
	})
}

// waitVersion polls the store until uri reaches version.
func (c *testClient) waitVersion(uri lsp.DocumentURI, version int) {
	c.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if v, ok := c.srv.Documents().Version(uri); ok && v == version {
			return
		}
		time.Sleep(time.Millisecond)
	}
	c.t.Fatalf("%s never reached version %d", uri, version)
}

func (c *testClient) shutdownAndExit() {
	c.t.Helper()
	c.call(lsp.MethodShutdown, nil, nil)
	c.notify(lsp.MethodExit, nil)
	c.wait()
}

func (c *testClient) wait() error {
	c.t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(testTimeout):
		c.t.Fatal("server did not stop")
		return nil
	}
}

// noVar is a fake linter that flags every "var" and fixes it to "let".
func noVar(_ context.Context, req linter.Request) (*linter.Result, error) {
	res := &linter.Result{Output: req.Source}
	if req.Fix {
		res.Output = strings.ReplaceAll(req.Source, "var", "let")
	}
	for i, line := range strings.Split(req.Source, "\n") {
		col := strings.Index(line, "var")
		if col < 0 {
			continue
		}
		res.Diagnostics = append(res.Diagnostics, linter.Diagnostic{
			Line:      i + 1,
			Column:    col + 1,
			EndLine:   i + 1,
			EndColumn: col + 4,
			Rule:      "no-var",
			Severity:  linter.SeverityError,
			Message:   "Unexpected var, use let or const instead.",
			Fixable:   true,
		})
	}
	return res, nil
}

// applyTextEdits applies non-overlapping protocol edits to content.
func applyTextEdits(content string, edits []lsp.TextEdit) string {
	pc := lsp.NewPositionConverter(content)
	type span struct {
		start, end int
		text       string
	}
	spans := make([]span, len(edits))
	for i, e := range edits {
		start, end := pc.RangeToByteOffsets(e.Range)
		spans[i] = span{start, end, e.NewText}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	for _, s := range spans {
		content = content[:s.start] + s.text + content[s.end:]
	}
	return content
}

func testURI(name string) lsp.DocumentURI {
	return lsp.DocumentURI(fmt.Sprintf("file:///work/%s", name))
}

func timeoutCh() <-chan time.Time {
	return time.After(testTimeout)
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met")
}

func newTestLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelDebug, Output: io.Discard})
}
