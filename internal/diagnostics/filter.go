package diagnostics

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/dshills/lintls/internal/linter"
)

// Filter decides which diagnostics reach the client. It wraps a compiled CEL
// expression evaluated once per diagnostic with these variables:
//
//	rule, severity, message, path  string
//	line, column                   int
//	fixable                        bool
//
// For example: severity == "error" || rule.startsWith("security/").
// A zero Filter keeps everything.
type Filter struct {
	expr string
	prog cel.Program
}

// NewFilter compiles expr. An empty expression keeps every diagnostic.
func NewFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("rule", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("line", cel.IntType),
		cel.Variable("column", cel.IntType),
		cel.Variable("fixable", cel.BoolType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("diagnostics filter: %w", iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, fmt.Errorf("diagnostics filter: %w", iss2.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("diagnostics filter: expression must be bool, got %s", checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, prog: prog}, nil
}

// Expr returns the source expression.
func (f *Filter) Expr() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Keep reports whether d passes the filter. Evaluation errors keep the
// diagnostic so a bad expression never hides problems.
func (f *Filter) Keep(d linter.Diagnostic, path string) bool {
	if f == nil || f.prog == nil {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"rule":     d.Rule,
		"severity": string(d.Severity),
		"message":  d.Message,
		"path":     path,
		"line":     int64(d.Line),
		"column":   int64(d.Column),
		"fixable":  d.Fixable,
	})
	if err != nil {
		return true
	}
	b, ok := out.Value().(bool)
	return !ok || b
}
