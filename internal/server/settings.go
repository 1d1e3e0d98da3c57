package server

import (
	"context"
	"time"

	"github.com/dshills/lintls/internal/config"
	"github.com/dshills/lintls/internal/diagnostics"
	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/lsp"
)

// apply installs settings: backend, diagnostic shaping and log level. The
// guard's failed set is cleared either way, so documents that failed under
// the previous configuration are linted again.
func (s *Server) apply(settings *config.Settings) error {
	filter, err := diagnostics.NewFilter(settings.Diagnostics.Filter)
	if err != nil {
		return err
	}

	if s.opts.Backend != nil {
		name := s.opts.BackendName
		if name == "" {
			name = "custom"
		}
		s.guard.SetBackend(name, s.opts.Backend)
	} else {
		name, backend, closeFn, err := NewBackend(settings)
		if err != nil {
			return err
		}
		s.guard.SetBackend(name, backend)
		if old := s.closeBackend; old != nil {
			// A lint still running on the old backend holds its lock until
			// it returns, so close off the loop.
			go old()
		}
		s.closeBackend = closeFn
	}

	s.settings = settings
	s.converter = &diagnostics.Converter{
		Source:     settings.Linter.Source,
		Filter:     filter,
		Overrides:  settings.SeverityOverrides(),
		MaxPerFile: settings.Diagnostics.MaxPerFile,
	}
	s.log.SetLevel(settings.LogLevel())
	s.log.Debug("linter %s (%s), run=%s", s.guard.Name(), settings.Linter.Kind, settings.Run)
	return nil
}

func (s *Server) lintRequest(doc lsp.Document, fix bool) linter.Request {
	return linter.Request{
		Source:   doc.Content,
		Path:     doc.Path,
		URI:      string(doc.URI),
		Settings: s.settings.Options,
		Fix:      fix,
	}
}

// withTimeout bounds a lint run. A zero timeout leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
