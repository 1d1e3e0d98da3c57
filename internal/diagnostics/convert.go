// Package diagnostics turns linter findings into protocol diagnostics.
package diagnostics

import (
	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/lsp"
)

// SeverityOff in an override map drops a rule entirely.
const SeverityOff linter.Severity = "off"

// Converter maps linter diagnostics onto a document.
type Converter struct {
	// Source is reported as the diagnostic source, e.g. "eslint".
	Source string

	// Filter drops diagnostics; nil keeps all.
	Filter *Filter

	// Overrides replaces the severity of a rule.
	Overrides map[string]linter.Severity

	// MaxPerFile caps the number of diagnostics; zero means no cap.
	MaxPerFile int
}

// Convert maps diags onto content. Lines and columns are 1-based on input
// and clamped to the document; columns count UTF-16 code units.
func (c *Converter) Convert(content, path string, diags []linter.Diagnostic) []lsp.Diagnostic {
	out := make([]lsp.Diagnostic, 0, len(diags))
	pc := lsp.NewPositionConverter(content)

	for _, d := range diags {
		if sev, ok := c.Overrides[d.Rule]; ok {
			if sev == SeverityOff {
				continue
			}
			d.Severity = sev
		}
		if !c.Filter.Keep(d, path) {
			continue
		}
		if c.MaxPerFile > 0 && len(out) >= c.MaxPerFile {
			break
		}

		start := clamp(pc, d.Line, d.Column)
		end := start
		if d.EndLine > 0 {
			end = clamp(pc, d.EndLine, d.EndColumn)
			if lsp.ComparePositions(end, start) < 0 {
				end = start
			}
		}

		diag := lsp.Diagnostic{
			Range:    lsp.Range{Start: start, End: end},
			Severity: ToSeverity(d.Severity),
			Source:   c.Source,
			Message:  d.Message,
		}
		if d.Rule != "" {
			diag.Code = d.Rule
		}
		out = append(out, diag)
	}
	return out
}

// clamp converts a 1-based line and column into a position inside the
// document.
func clamp(pc *lsp.PositionConverter, line, column int) lsp.Position {
	pos := lsp.Position{Line: max(line-1, 0), Character: max(column-1, 0)}
	return pc.ByteOffsetToPosition(pc.PositionToByteOffset(pos))
}

// ToSeverity maps a linter severity to the protocol's.
func ToSeverity(s linter.Severity) lsp.DiagnosticSeverity {
	switch s {
	case linter.SeverityError:
		return lsp.DiagnosticSeverityError
	case linter.SeverityInfo:
		return lsp.DiagnosticSeverityInformation
	case linter.SeverityHint:
		return lsp.DiagnosticSeverityHint
	default:
		return lsp.DiagnosticSeverityWarning
	}
}
