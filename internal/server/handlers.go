package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/dshills/lintls/internal/config"
	"github.com/dshills/lintls/internal/dispatch"
	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/lsp"
	"github.com/dshills/lintls/internal/reconcile"
)

// Internal notifications queued by the server itself.
const (
	MethodValidate = "lintls/validate"
	MethodAutoFix  = "lintls/autoFix"
)

// CommandApplyAutoFix applies all auto-fixes to a document. Its single
// argument is {"uri": ..., "version": ...}.
const CommandApplyAutoFix = "lintls.applyAutoFix"

// FixAllTitle is the title of the fix-all code action.
const FixAllTitle = "Fix all auto-fixable problems"

// documentParams address one document at the version it had when the
// message was queued.
type documentParams struct {
	URI     lsp.DocumentURI `json:"uri"`
	Version *int            `json:"version,omitempty"`
}

// uriLens reads the document URI at path and returns the document's live
// version.
func (s *Server) uriLens(path string) dispatch.VersionLens {
	return func(params json.RawMessage) (int, bool) {
		uri := gjson.GetBytes(params, path).String()
		if uri == "" {
			return 0, false
		}
		return s.store.Version(lsp.DocumentURI(uri))
	}
}

func (s *Server) register() {
	r := s.registry
	warn := func(err error) { s.log.Warn("%v", err) }

	r.RegisterRequest(lsp.MethodInitialize, dispatch.HandleRequest(lsp.MethodInitialize, s.initialize), nil)
	r.RegisterRequest(lsp.MethodShutdown, dispatch.HandleRequest(lsp.MethodShutdown, s.shutdown), nil)
	r.RegisterRequest(lsp.MethodCodeAction,
		dispatch.HandleRequestAsync(lsp.MethodCodeAction, s.codeAction), s.uriLens("textDocument.uri"))
	r.RegisterRequest(lsp.MethodFormatting,
		dispatch.HandleRequestAsync(lsp.MethodFormatting, s.formatting), s.uriLens("textDocument.uri"))
	r.RegisterRequest(lsp.MethodExecuteCommand,
		dispatch.HandleRequestAsync(lsp.MethodExecuteCommand, s.executeCommand), s.uriLens("arguments.0.uri"))

	r.RegisterNotification(lsp.MethodInitialized,
		dispatch.HandleNotification(lsp.MethodInitialized, s.initializedNotification, warn), nil)
	r.RegisterNotification(lsp.MethodDidChangeConfiguration,
		dispatch.HandleNotification(lsp.MethodDidChangeConfiguration, s.changeConfiguration, warn), nil)
	r.RegisterNotification(MethodValidate,
		dispatch.HandleNotification(MethodValidate, s.validate, warn), s.uriLens("uri"))
	r.RegisterNotification(MethodAutoFix,
		dispatch.HandleNotification(MethodAutoFix, s.autoFix, warn), s.uriLens("uri"))
}

// syncHandlers apply document changes as soon as they reach the loop, ahead
// of anything already queued, so version snapshots taken for later messages
// see the new version.
func (s *Server) syncHandlers() map[string]func(json.RawMessage) error {
	return map[string]func(json.RawMessage) error{
		lsp.MethodDidOpen:   s.didOpen,
		lsp.MethodDidChange: s.didChange,
		lsp.MethodDidSave:   s.didSave,
		lsp.MethodDidClose:  s.didClose,
	}
}

// --- Lifecycle ---

func (s *Server) initialize(_ context.Context, p lsp.InitializeParams) (lsp.InitializeResult, error) {
	s.initialized = true
	s.caps = p.Capabilities
	if p.ClientInfo != nil {
		s.session.Client = p.ClientInfo.Name
		s.log.Info("client %s %s connected", p.ClientInfo.Name, p.ClientInfo.Version)
	}
	if len(p.InitializationOptions) > 0 {
		s.client = clientOverride(p.InitializationOptions)
		if err := s.reconfigure(); err != nil {
			s.configErr = err
		}
	}

	return lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    lsp.TextDocumentSyncKindIncremental,
				Save:      &lsp.SaveOptions{IncludeText: true},
			},
			CodeActionProvider: &lsp.CodeActionOptions{
				CodeActionKinds: []lsp.CodeActionKind{lsp.CodeActionKindQuickFix, lsp.CodeActionKindSourceFixAll},
			},
			DocumentFormattingProvider: true,
			ExecuteCommandProvider: &lsp.ExecuteCommandOptions{
				Commands: []string{CommandApplyAutoFix},
			},
		},
		ServerInfo: &lsp.ServerInfo{Name: Name, Version: s.opts.Version},
	}, nil
}

func (s *Server) initializedNotification(context.Context, json.RawMessage) {
	if s.configErr != nil {
		s.showMessage(lsp.MessageTypeWarning, fmt.Sprintf("lintls: %v", s.configErr))
	}
}

func (s *Server) shutdown(context.Context, json.RawMessage) (any, error) {
	s.shuttingDown = true
	s.shutdownReceived.Store(true)
	s.log.Info("shutdown requested")
	return nil, nil
}

// --- Text synchronization ---

func (s *Server) didOpen(params json.RawMessage) error {
	var p lsp.DidOpenTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	if err := s.store.Open(p.TextDocument); err != nil {
		return fmt.Errorf("%s: %w", p.TextDocument.URI, err)
	}
	s.scheduleValidate(p.TextDocument.URI)
	return nil
}

func (s *Server) didChange(params json.RawMessage) error {
	var p lsp.DidChangeTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	if err := s.store.Change(p); err != nil {
		return fmt.Errorf("%s: %w", p.TextDocument.URI, err)
	}
	if s.settings.Run != config.RunOnSave {
		s.scheduleValidate(p.TextDocument.URI)
	}
	return nil
}

func (s *Server) didSave(params json.RawMessage) error {
	var p lsp.DidSaveTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	if err := s.store.Save(p.TextDocument.URI, p.Text); err != nil {
		return fmt.Errorf("%s: %w", p.TextDocument.URI, err)
	}
	s.scheduleValidate(p.TextDocument.URI)
	if s.settings.AutoFixOnSave {
		s.schedule(MethodAutoFix, p.TextDocument.URI)
	}
	return nil
}

func (s *Server) didClose(params json.RawMessage) error {
	var p lsp.DidCloseTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	if err := s.store.Close(p.TextDocument.URI); err != nil {
		return fmt.Errorf("%s: %w", p.TextDocument.URI, err)
	}
	s.publish(p.TextDocument.URI, nil, nil)
	return nil
}

func (s *Server) scheduleValidate(uri lsp.DocumentURI) {
	s.schedule(MethodValidate, uri)
}

// schedule queues an internal notification pinned to the document's
// current version.
func (s *Server) schedule(method string, uri lsp.DocumentURI) {
	data, err := json.Marshal(documentParams{URI: uri})
	if err != nil {
		s.log.Error("marshal %s: %v", method, err)
		return
	}
	s.queue.EnqueueNotificationCurrent(method, data)
}

// --- Validation ---

func (s *Server) validate(ctx context.Context, p documentParams) {
	doc, ok := s.store.Get(p.URI)
	if !ok {
		return
	}
	req := s.lintRequest(doc, false)
	conv := s.converter
	timeout := s.settings.Linter.Timeout.Std()
	guard := s.guard

	dispatch.Go(s.loop, ctx, func(ctx context.Context) (any, error) {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		return guard.Lint(ctx, req)
	}).Then(func(v any, err error) {
		if err != nil {
			s.log.Warn("validate %s: %v", doc.URI, err)
			return
		}
		if !s.current(doc) {
			s.log.Debug("discarding diagnostics for %s at version %d", doc.URI, doc.Version)
			return
		}
		res := v.(*linter.Result)
		var diags []lsp.Diagnostic
		if !res.Ignored {
			diags = conv.Convert(doc.Content, doc.Path, res.Diagnostics)
		}
		version := doc.Version
		s.publish(doc.URI, &version, diags)
	})
}

// current reports whether doc is still open at the same version.
func (s *Server) current(doc lsp.Document) bool {
	v, ok := s.store.Version(doc.URI)
	return ok && v == doc.Version
}

// --- Auto-fix ---

// fix computes auto-fix edits for doc off the loop. The returned future
// settles on the loop with []lsp.TextEdit, or with ErrRequestCancelled when
// the document changed while the linter ran.
func (s *Server) fix(ctx context.Context, doc lsp.Document) *dispatch.Future {
	out := dispatch.NewFuture()
	req := s.lintRequest(doc, true)
	timeout := s.settings.Linter.Timeout.Std()
	guard, differ := s.guard, s.differ

	dispatch.Go(s.loop, ctx, func(ctx context.Context) (any, error) {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		return reconcile.AutoFix(ctx, guard, differ, req)
	}).Then(func(v any, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		// The guard turns a cancelled run into an ignored result, which
		// would otherwise look like "nothing to fix".
		if ctx.Err() != nil || !s.current(doc) {
			out.Reject(dispatch.ErrRequestCancelled)
			return
		}
		edits, _ := v.([]reconcile.Edit)
		out.Resolve(reconcile.ToTextEdits(doc.Content, edits))
	})
	return out
}

func (s *Server) formatting(ctx context.Context, p lsp.DocumentFormattingParams) *dispatch.Future {
	doc, ok := s.store.Get(p.TextDocument.URI)
	if !ok {
		return dispatch.Resolved(nil)
	}
	return s.fix(ctx, doc)
}

func (s *Server) codeAction(ctx context.Context, p lsp.CodeActionParams) *dispatch.Future {
	doc, ok := s.store.Get(p.TextDocument.URI)
	kind := fixAllKind(p.Context.Only)
	if !ok || kind == "" {
		return dispatch.Resolved([]lsp.CodeAction{})
	}

	related := s.ownDiagnostics(p.Context.Diagnostics)
	out := dispatch.NewFuture()
	s.fix(ctx, doc).Then(func(v any, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		edits := v.([]lsp.TextEdit)
		if len(edits) == 0 {
			out.Resolve([]lsp.CodeAction{})
			return
		}
		out.Resolve([]lsp.CodeAction{{
			Title:       FixAllTitle,
			Kind:        kind,
			Diagnostics: related,
			IsPreferred: kind == lsp.CodeActionKindQuickFix,
			Edit:        s.workspaceEdit(doc, edits),
		}})
	})
	return out
}

// fixAllKind picks the kind of the fix-all action for a client filter, or
// "" when the client asked only for kinds the server does not offer.
func fixAllKind(only []lsp.CodeActionKind) lsp.CodeActionKind {
	if len(only) == 0 {
		return lsp.CodeActionKindQuickFix
	}
	for _, k := range only {
		switch k {
		case lsp.CodeActionKindQuickFix:
			return lsp.CodeActionKindQuickFix
		case lsp.CodeActionKindSource, lsp.CodeActionKindSourceFixAll:
			return lsp.CodeActionKindSourceFixAll
		}
	}
	return ""
}

func (s *Server) ownDiagnostics(diags []lsp.Diagnostic) []lsp.Diagnostic {
	var out []lsp.Diagnostic
	for _, d := range diags {
		if d.Source == s.converter.Source {
			out = append(out, d)
		}
	}
	return out
}

// workspaceEdit wraps edits for doc, pinned to its version when the client
// supports versioned document changes.
func (s *Server) workspaceEdit(doc lsp.Document, edits []lsp.TextEdit) *lsp.WorkspaceEdit {
	if ws := s.caps.Workspace; ws != nil && ws.WorkspaceEdit != nil && ws.WorkspaceEdit.DocumentChanges {
		return &lsp.WorkspaceEdit{
			DocumentChanges: []lsp.TextDocumentEdit{{
				TextDocument: lsp.VersionedTextDocumentIdentifier{
					TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: doc.URI},
					Version:                doc.Version,
				},
				Edits: edits,
			}},
		}
	}
	return &lsp.WorkspaceEdit{
		Changes: map[lsp.DocumentURI][]lsp.TextEdit{doc.URI: edits},
	}
}

func (s *Server) executeCommand(ctx context.Context, p lsp.ExecuteCommandParams) *dispatch.Future {
	if p.Command != CommandApplyAutoFix {
		return dispatch.Rejected(lsp.NewRPCError(lsp.CodeInvalidParams, "unknown command %q", p.Command))
	}
	args, err := commandArgs(p.Arguments)
	if err != nil {
		return dispatch.Rejected(lsp.NewRPCError(lsp.CodeInvalidParams, "%s: %v", p.Command, err))
	}
	doc, ok := s.store.Get(args.URI)
	if !ok {
		return dispatch.Rejected(lsp.NewRPCError(lsp.CodeInvalidParams, "%s: %v", args.URI, lsp.ErrDocumentNotOpen))
	}
	if args.Version != nil && *args.Version != doc.Version {
		return dispatch.Rejected(dispatch.ErrRequestCancelled)
	}
	return s.applyFixes(ctx, doc)
}

// commandArgs decodes the single {uri, version} argument of a command.
func commandArgs(args []any) (documentParams, error) {
	var p documentParams
	if len(args) != 1 {
		return p, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.URI == "" {
		return p, fmt.Errorf("missing uri")
	}
	return p, nil
}

func (s *Server) autoFix(ctx context.Context, p documentParams) {
	doc, ok := s.store.Get(p.URI)
	if !ok {
		return
	}
	s.applyFixes(ctx, doc).Then(func(v any, err error) {
		if err != nil {
			s.log.Debug("auto-fix on save %s: %v", doc.URI, err)
		}
	})
}

// applyFixes computes the fixes for doc and sends them to the client with
// workspace/applyEdit. The future resolves with the client's answer, or nil
// when there was nothing to fix.
func (s *Server) applyFixes(ctx context.Context, doc lsp.Document) *dispatch.Future {
	out := dispatch.NewFuture()
	s.fix(ctx, doc).Then(func(v any, err error) {
		if err != nil {
			out.Reject(err)
			return
		}
		edits := v.([]lsp.TextEdit)
		if len(edits) == 0 {
			out.Resolve(nil)
			return
		}
		params := lsp.ApplyWorkspaceEditParams{Label: FixAllTitle, Edit: *s.workspaceEdit(doc, edits)}
		conn := s.conn
		dispatch.Go(s.loop, ctx, func(ctx context.Context) (any, error) {
			var res lsp.ApplyWorkspaceEditResult
			if err := conn.Call(ctx, lsp.MethodApplyEdit, params, &res); err != nil {
				return nil, fmt.Errorf("apply edit: %w", err)
			}
			if !res.Applied {
				s.log.Info("client rejected fixes for %s: %s", doc.URI, res.FailureReason)
			}
			return res, nil
		}).Forward(out)
	})
	return out
}

// --- Configuration ---

func (s *Server) changeConfiguration(_ context.Context, p lsp.DidChangeConfigurationParams) {
	s.client = clientOverride(p.Settings)
	s.reload("client settings changed")
}

// clientOverride accepts settings either namespaced under "lintls" or bare.
func clientOverride(settings map[string]any) map[string]any {
	if nested, ok := settings[Name].(map[string]any); ok {
		return nested
	}
	return settings
}

// reload re-applies settings and revalidates every open document.
func (s *Server) reload(reason string) {
	if err := s.reconfigure(); err != nil {
		s.log.Error("invalid configuration: %v", err)
		s.showMessage(lsp.MessageTypeError, fmt.Sprintf("lintls: invalid configuration: %v", err))
		return
	}
	s.log.Info("configuration reloaded: %s", reason)
	for _, doc := range s.store.All() {
		s.scheduleValidate(doc.URI)
	}
}

// reconfigure merges client settings over the base and applies the result.
// On error the previous configuration stays in effect.
func (s *Server) reconfigure() error {
	settings, err := s.base.Merge(s.client)
	if err != nil {
		return err
	}
	if err := s.apply(settings); err != nil {
		return err
	}
	s.configErr = nil
	return nil
}
