package reconcile

import (
	"context"
	"fmt"

	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/lsp"
)

// Reconcile returns the edits that turn before into after.
func Reconcile(d Differ, before, after string) []Edit {
	if before == after {
		return nil
	}
	return Merge(d.Diff(before, after))
}

// ToTextEdits converts rune-offset edits over before into protocol edits.
func ToTextEdits(before string, edits []Edit) []lsp.TextEdit {
	if len(edits) == 0 {
		return []lsp.TextEdit{}
	}
	pc := lsp.NewPositionConverter(before)
	out := make([]lsp.TextEdit, len(edits))
	for i, e := range edits {
		out[i] = lsp.TextEdit{
			Range:   pc.RuneOffsetsToRange(e.Start, e.End),
			NewText: e.NewText,
		}
	}
	return out
}

// AutoFix runs l in fix mode and reconciles its output with the source.
// A file the linter ignores yields no edits and is never diffed.
func AutoFix(ctx context.Context, l linter.Linter, d Differ, req linter.Request) ([]Edit, error) {
	req.Fix = true
	res, err := l.Lint(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("auto-fix: %w", err)
	}
	if res == nil || res.Ignored {
		return nil, nil
	}
	return Reconcile(d, req.Source, res.Output), nil
}
