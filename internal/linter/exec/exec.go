// Package exec runs an external lint command.
//
// The command receives one JSON document on stdin:
//
//	{"text": "...", "filePath": "...", "fix": false, "settings": {...}}
//
// and writes one JSON document to stdout:
//
//	{"ignored": false, "output": "...", "diagnostics": [
//	    {"line": 1, "column": 5, "endLine": 1, "endColumn": 9,
//	     "ruleId": "semi", "severity": 2, "message": "...", "fixable": true}
//	]}
//
// A non-zero exit status is not an error as long as stdout holds a valid
// document; linters commonly exit 1 when they report problems.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/lintls/internal/linter"
)

// DefaultTimeout bounds a single run.
const DefaultTimeout = 10 * time.Second

// Backend is a linter.Linter that runs a command per request.
type Backend struct {
	command string
	args    []string
	dir     string
	env     []string
	timeout time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithTimeout bounds each run. Zero uses DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithDir sets the working directory. By default the command runs in the
// directory of the file being linted.
func WithDir(dir string) Option {
	return func(b *Backend) {
		b.dir = dir
	}
}

// WithEnv appends KEY=VALUE pairs to the command environment.
func WithEnv(env ...string) Option {
	return func(b *Backend) {
		b.env = append(b.env, env...)
	}
}

// New creates a backend that runs command with args.
func New(command string, args []string, opts ...Option) *Backend {
	b := &Backend{
		command: command,
		args:    args,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Lint implements linter.Linter.
func (b *Backend) Lint(ctx context.Context, req linter.Request) (*linter.Result, error) {
	if b.command == "" {
		return nil, linter.ErrNoBackend
	}

	input, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := osexec.CommandContext(ctx, b.command, b.args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = time.Second
	switch {
	case b.dir != "":
		cmd.Dir = b.dir
	case req.Path != "":
		cmd.Dir = filepath.Dir(req.Path)
	}
	if len(b.env) > 0 {
		cmd.Env = append(cmd.Environ(), b.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", b.command, ctx.Err())
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 || !gjson.ValidBytes(out) {
		if runErr != nil {
			return nil, fmt.Errorf("%s: %w: %s", b.command, runErr, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %q", linter.ErrBadOutput, truncate(string(out), 200))
	}

	var exitErr *osexec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("%s: %w", b.command, runErr)
	}

	return decodeResult(out, req.Source)
}

func encodeRequest(req linter.Request) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, v)
		}
	}
	set("text", req.Source)
	set("filePath", req.Path)
	set("fix", req.Fix)
	if req.Settings != nil {
		set("settings", req.Settings)
	}
	if err != nil {
		return nil, fmt.Errorf("encode lint request: %w", err)
	}
	return doc, nil
}

func decodeResult(data []byte, source string) (*linter.Result, error) {
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: expected an object", linter.ErrBadOutput)
	}

	if doc.Get("ignored").Bool() {
		return linter.IgnoredResult(), nil
	}

	res := &linter.Result{Output: source}
	if out := doc.Get("output"); out.Exists() && out.Type == gjson.String {
		res.Output = out.String()
	}

	for _, d := range doc.Get("diagnostics").Array() {
		rule := d.Get("ruleId").String()
		if rule == "" {
			rule = d.Get("rule").String()
		}
		sev, ok := linter.ParseSeverity(d.Get("severity").String())
		if !ok {
			sev = linter.SeverityWarning
		}
		res.Diagnostics = append(res.Diagnostics, linter.Diagnostic{
			Line:      int(d.Get("line").Int()),
			Column:    int(d.Get("column").Int()),
			EndLine:   int(d.Get("endLine").Int()),
			EndColumn: int(d.Get("endColumn").Int()),
			Rule:      rule,
			Severity:  sev,
			Message:   d.Get("message").String(),
			Fixable:   d.Get("fixable").Bool() || d.Get("fix").Exists(),
		})
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
