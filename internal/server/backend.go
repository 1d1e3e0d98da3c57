package server

import (
	"fmt"
	"sort"

	"github.com/dshills/lintls/internal/config"
	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/linter/exec"
	"github.com/dshills/lintls/internal/linter/lua"
)

// NewBackend builds the lint backend selected by s. The returned close
// function releases backend resources.
func NewBackend(s *config.Settings) (string, linter.Linter, func(), error) {
	if err := s.Validate(); err != nil {
		return "", nil, nil, err
	}

	switch s.Linter.Kind {
	case config.KindExec:
		opts := []exec.Option{exec.WithTimeout(s.Linter.Timeout.Std())}
		if s.Linter.Cwd != "" {
			opts = append(opts, exec.WithDir(s.Linter.Cwd))
		}
		if len(s.Linter.Env) > 0 {
			opts = append(opts, exec.WithEnv(envList(s.Linter.Env)...))
		}
		b := exec.New(s.Linter.Command, s.Linter.Args, opts...)
		return s.Linter.Command, b, func() {}, nil

	case config.KindLua:
		b, err := lua.Load(s.Linter.Script)
		if err != nil {
			return "", nil, nil, err
		}
		return s.Linter.Script, b, func() { _ = b.Close() }, nil

	default:
		return "", nil, nil, fmt.Errorf("%w: %q", linter.ErrNoBackend, s.Linter.Kind)
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
