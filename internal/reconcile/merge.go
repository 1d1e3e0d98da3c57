// Package reconcile turns a whole-document rewrite into the smallest set of
// non-overlapping edits that produce it.
package reconcile

import "unicode/utf8"

// Op is the kind of a diff span.
type Op int

const (
	OpEqual Op = iota
	OpDelete
	OpInsert
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpEqual:
		return "equal"
	case OpDelete:
		return "delete"
	case OpInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Span is one run of a character diff. Equal and delete spans consume text
// from the original; insert spans do not.
type Span struct {
	Op   Op
	Text string
}

// Equal returns an equal span.
func Equal(text string) Span { return Span{Op: OpEqual, Text: text} }

// Delete returns a delete span.
func Delete(text string) Span { return Span{Op: OpDelete, Text: text} }

// Insert returns an insert span.
func Insert(text string) Span { return Span{Op: OpInsert, Text: text} }

// Edit replaces the runes [Start, End) of the original text with NewText.
// Start == End is a pure insertion.
type Edit struct {
	Start   int
	End     int
	NewText string
}

// Merge folds diff spans into edits over the original text.
//
// A delete or insert that begins where the previous edit ends extends that
// edit, so a delete followed by an insert becomes one replacement. Equal
// text always separates edits. Offsets are in runes.
func Merge(spans []Span) []Edit {
	var (
		edits []Edit
		open  = -1 // index of the edit that may still grow
		cur   int
	)

	for _, s := range spans {
		n := utf8.RuneCountInString(s.Text)
		switch s.Op {
		case OpEqual:
			cur += n
			open = -1

		case OpDelete:
			if open >= 0 && edits[open].End == cur {
				edits[open].End += n
			} else {
				edits = append(edits, Edit{Start: cur, End: cur + n})
				open = len(edits) - 1
			}
			cur += n

		case OpInsert:
			if open >= 0 && edits[open].End == cur {
				edits[open].NewText += s.Text
			} else {
				edits = append(edits, Edit{Start: cur, End: cur, NewText: s.Text})
				open = len(edits) - 1
			}
		}
	}
	return edits
}

// Apply applies edits computed by Merge to text. Edits must be sorted and
// non-overlapping.
func Apply(text string, edits []Edit) string {
	if len(edits) == 0 {
		return text
	}
	runes := []rune(text)
	out := make([]rune, 0, len(runes))
	prev := 0
	for _, e := range edits {
		out = append(out, runes[prev:e.Start]...)
		out = append(out, []rune(e.NewText)...)
		prev = e.End
	}
	out = append(out, runes[prev:]...)
	return string(out)
}
