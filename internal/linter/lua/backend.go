package lua

import (
	"context"
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lintls/internal/linter"
)

// Backend is a linter.Linter backed by a Lua script.
type Backend struct {
	state *state
}

// Load creates a backend from a script file.
func Load(path string) (*Backend, error) {
	s := newState()
	if err := s.doFile(path); err != nil {
		s.close()
		return nil, fmt.Errorf("load lint script %s: %w", path, err)
	}
	return &Backend{state: s}, nil
}

// LoadString creates a backend from script source.
func LoadString(code string) (*Backend, error) {
	s := newState()
	if err := s.doString(code); err != nil {
		s.close()
		return nil, fmt.Errorf("load lint script: %w", err)
	}
	return &Backend{state: s}, nil
}

// Close releases the Lua state.
func (b *Backend) Close() error {
	b.state.close()
	return nil
}

// Lint implements linter.Linter.
func (b *Backend) Lint(ctx context.Context, req linter.Request) (*linter.Result, error) {
	ret, err := b.state.call(ctx, "lint", func(L *lua.LState) []lua.LValue {
		return []lua.LValue{
			lua.LString(req.Source),
			lua.LString(req.Path),
			lua.LBool(req.Fix),
			toLua(L, req.Settings),
		}
	})
	if err != nil {
		return nil, err
	}

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		if ret == lua.LNil {
			return &linter.Result{Output: req.Source}, nil
		}
		return nil, fmt.Errorf("%w: lint returned %s", linter.ErrBadOutput, ret.Type())
	}
	return toResult(tbl, req.Source)
}

func toResult(tbl *lua.LTable, source string) (*linter.Result, error) {
	if lua.LVAsBool(tbl.RawGetString("ignored")) {
		return linter.IgnoredResult(), nil
	}

	res := &linter.Result{Output: source}
	if out, ok := tbl.RawGetString("output").(lua.LString); ok {
		res.Output = string(out)
	}

	diags, ok := tbl.RawGetString("diagnostics").(*lua.LTable)
	if !ok {
		return res, nil
	}

	var err error
	diags.ForEach(func(_, v lua.LValue) {
		d, isTable := v.(*lua.LTable)
		if !isTable {
			err = fmt.Errorf("%w: diagnostic is %s", linter.ErrBadOutput, v.Type())
			return
		}
		res.Diagnostics = append(res.Diagnostics, toDiagnostic(d))
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func toDiagnostic(d *lua.LTable) linter.Diagnostic {
	sev, ok := linter.ParseSeverity(lua.LVAsString(d.RawGetString("severity")))
	if !ok {
		sev = linter.SeverityWarning
	}
	return linter.Diagnostic{
		Line:      int(lua.LVAsNumber(d.RawGetString("line"))),
		Column:    int(lua.LVAsNumber(d.RawGetString("column"))),
		EndLine:   int(lua.LVAsNumber(d.RawGetString("endLine"))),
		EndColumn: int(lua.LVAsNumber(d.RawGetString("endColumn"))),
		Rule:      lua.LVAsString(d.RawGetString("rule")),
		Severity:  sev,
		Message:   lua.LVAsString(d.RawGetString("message")),
		Fixable:   lua.LVAsBool(d.RawGetString("fixable")),
	}
}

// toLua converts decoded JSON values into Lua values.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, val[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}
