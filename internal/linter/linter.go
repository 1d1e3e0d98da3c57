// Package linter defines the boundary between the server and the engine that
// checks and fixes source text.
//
// Two backends are provided. linter/exec runs an external command that speaks
// a small JSON protocol on stdin and stdout. linter/lua runs a sandboxed Lua
// script. Either is wrapped in a Guard, which keeps a repeatedly failing
// backend from producing an error on every keystroke.
package linter

import "context"

// Severity of a lint diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// ParseSeverity maps common spellings to a Severity. Numeric severities use
// the ESLint convention (2 error, 1 warning).
func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "error", "err", "2", "fatal":
		return SeverityError, true
	case "warning", "warn", "1":
		return SeverityWarning, true
	case "info", "information", "0":
		return SeverityInfo, true
	case "hint":
		return SeverityHint, true
	default:
		return "", false
	}
}

// Request is one lint run.
type Request struct {
	// Source is the text to check.
	Source string

	// Path is the file the text belongs to. It may be empty for unsaved
	// buffers.
	Path string

	// URI identifies the buffer. Guard tracks failures by URI, falling back
	// to Path when it is empty.
	URI string

	// Settings is passed through to the backend untouched.
	Settings map[string]any

	// Fix asks the backend to return fixed text in Result.Output.
	Fix bool
}

// Diagnostic is a problem reported by a backend. Line and Column are 1-based.
// EndLine and EndColumn are zero when the backend reports a single point.
type Diagnostic struct {
	Line      int
	Column    int
	EndLine   int
	EndColumn int
	Rule      string
	Severity  Severity
	Message   string
	Fixable   bool
}

// Result of a lint run.
type Result struct {
	// Ignored is set when the file is excluded by the backend's own
	// configuration. Output and Diagnostics are empty.
	Ignored bool

	// Output is the fixed text. It equals Request.Source when Fix was false
	// or nothing could be fixed.
	Output string

	Diagnostics []Diagnostic
}

// Linter checks and optionally fixes source text.
type Linter interface {
	Lint(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Linter interface.
type Func func(ctx context.Context, req Request) (*Result, error)

// Lint calls f.
func (f Func) Lint(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// IgnoredResult returns the result used when a file is skipped.
func IgnoredResult() *Result {
	return &Result{Ignored: true}
}
