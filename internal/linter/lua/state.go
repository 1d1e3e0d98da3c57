// Package lua runs lint scripts written in Lua.
//
// A script defines a global function
//
//	function lint(text, path, fix, settings) ... end
//
// returning a table with the fields ignored, output and diagnostics. Each
// diagnostic is a table with line, column, endLine, endColumn, rule,
// severity, message and fixable. Scripts run in a sandbox with the base,
// table, string and math libraries only.
package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNoLintFunction is returned when a script does not define lint.
	ErrNoLintFunction = errors.New("script does not define a lint function")
)

// state wraps an LState with a mutex. LState is not goroutine-safe.
type state struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

func newState() *state {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	sandbox(L)
	return &state{L: L}
}

// openSafeLibraries opens only libraries without filesystem or process access.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// sandbox removes the base functions that can load code from disk or strings.
func sandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (s *state) doFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return recovered(func() error { return s.L.DoFile(path) })
}

func (s *state) doString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return recovered(func() error { return s.L.DoString(code) })
}

// call invokes a global function and returns its first result. args builds
// the arguments under the state lock. ctx bounds the call; gopher-lua checks
// it between instructions.
func (s *state) call(ctx context.Context, fn string, args func(L *lua.LState) []lua.LValue) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal.Type() != lua.LTFunction {
		return lua.LNil, ErrNoLintFunction
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	err := recovered(func() error {
		return s.L.CallByParam(lua.P{Fn: fnVal, NRet: 1, Protect: true}, args(s.L)...)
	})
	if err != nil {
		if ctx.Err() != nil {
			return lua.LNil, ctx.Err()
		}
		return lua.LNil, err
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

func (s *state) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.L.Close()
		s.closed = true
	}
}

func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
