package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/lsp"
)

type countingDiffer struct {
	calls int
	inner Differ
}

func (c *countingDiffer) Diff(before, after string) []Span {
	c.calls++
	return c.inner.Diff(before, after)
}

func TestReconcileRoundTrip(t *testing.T) {
	pairs := []struct{ before, after string }{
		{"var a = 1\n", "const a = 1;\n"},
		{"if (x == y) {\n  go()\n}\n", "if (x === y) {\n  go();\n}\n"},
		{"héllo wörld", "hello world"},
		{"😀 smile", "😀 smiles 😀"},
		{"", "new file\n"},
		{"abc\ndef\n", ""},
	}

	d := NewDMPDiffer(0)
	for _, p := range pairs {
		edits := Reconcile(d, p.before, p.after)
		if got := Apply(p.before, edits); got != p.after {
			t.Errorf("Apply(%q) = %q, want %q", p.before, got, p.after)
		}
		for i := 1; i < len(edits); i++ {
			if edits[i].Start <= edits[i-1].End {
				t.Errorf("edits %d and %d overlap or touch: %+v", i-1, i, edits)
			}
		}
	}
}

func TestReconcileWholeDeletion(t *testing.T) {
	edits := Reconcile(NewDMPDiffer(0), "abc\ndef", "")
	want := []Edit{{Start: 0, End: 7}}
	if !reflect.DeepEqual(edits, want) {
		t.Errorf("Reconcile() = %+v, want %+v", edits, want)
	}
}

func TestReconcileIdenticalSkipsDiff(t *testing.T) {
	d := &countingDiffer{inner: NewDMPDiffer(0)}
	if edits := Reconcile(d, "same", "same"); len(edits) != 0 {
		t.Errorf("Reconcile() = %+v, want none", edits)
	}
	if d.calls != 0 {
		t.Errorf("differ called %d times", d.calls)
	}
}

func TestAutoFixIgnoredSkipsDiff(t *testing.T) {
	d := &countingDiffer{inner: NewDMPDiffer(0)}
	l := linter.Func(func(_ context.Context, req linter.Request) (*linter.Result, error) {
		if !req.Fix {
			t.Error("AutoFix must request fixes")
		}
		return &linter.Result{Ignored: true, Output: "ignored output"}, nil
	})

	edits, err := AutoFix(context.Background(), l, d, linter.Request{Source: "x = 1", Path: "a.js"})
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if len(edits) != 0 {
		t.Errorf("edits = %+v, want none", edits)
	}
	if d.calls != 0 {
		t.Errorf("differ called %d times", d.calls)
	}
}

func TestAutoFix(t *testing.T) {
	l := linter.Func(func(_ context.Context, req linter.Request) (*linter.Result, error) {
		return &linter.Result{Output: req.Source + ";"}, nil
	})

	edits, err := AutoFix(context.Background(), l, NewDMPDiffer(0), linter.Request{Source: "x = 1"})
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	want := []Edit{{Start: 5, End: 5, NewText: ";"}}
	if !reflect.DeepEqual(edits, want) {
		t.Errorf("edits = %+v, want %+v", edits, want)
	}
}

func TestAutoFixError(t *testing.T) {
	boom := errors.New("boom")
	l := linter.Func(func(context.Context, linter.Request) (*linter.Result, error) {
		return nil, boom
	})

	if _, err := AutoFix(context.Background(), l, NewDMPDiffer(0), linter.Request{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestToTextEdits(t *testing.T) {
	before := "a😀b\nc"
	edits := []Edit{
		{Start: 2, End: 3, NewText: "X"},
		{Start: 4, End: 5, NewText: ""},
	}

	got := ToTextEdits(before, edits)
	want := []lsp.TextEdit{
		{
			Range:   lsp.Range{Start: lsp.Position{Line: 0, Character: 3}, End: lsp.Position{Line: 0, Character: 4}},
			NewText: "X",
		},
		{
			Range:   lsp.Range{Start: lsp.Position{Line: 1, Character: 0}, End: lsp.Position{Line: 1, Character: 1}},
			NewText: "",
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToTextEdits() = %+v, want %+v", got, want)
	}

	if got := ToTextEdits(before, nil); got == nil || len(got) != 0 {
		t.Errorf("ToTextEdits(nil) = %#v, want empty slice", got)
	}
}
