package reconcile

import (
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Differ computes a character-level diff of before against after.
type Differ interface {
	Diff(before, after string) []Span
}

// DifferFunc adapts a function to the Differ interface.
type DifferFunc func(before, after string) []Span

// Diff calls f.
func (f DifferFunc) Diff(before, after string) []Span {
	return f(before, after)
}

// DMPDiffer diffs with diff-match-patch.
type DMPDiffer struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewDMPDiffer returns a differ. A zero timeout lets the diff run to
// completion, which always yields a minimal result.
func NewDMPDiffer(timeout time.Duration) *DMPDiffer {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = timeout
	return &DMPDiffer{dmp: dmp}
}

// Diff implements Differ.
func (d *DMPDiffer) Diff(before, after string) []Span {
	diffs := d.dmp.DiffMain(before, after, false)
	spans := make([]Span, 0, len(diffs))
	for _, df := range diffs {
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			spans = append(spans, Equal(df.Text))
		case diffmatchpatch.DiffDelete:
			spans = append(spans, Delete(df.Text))
		case diffmatchpatch.DiffInsert:
			spans = append(spans, Insert(df.Text))
		}
	}
	return spans
}
