package lsp

import (
	"errors"
	"sync"
	"testing"
)

func rangeOf(sl, sc, el, ec int) *Range {
	return &Range{Start: Position{Line: sl, Character: sc}, End: Position{Line: el, Character: ec}}
}

func TestDocumentStore_Lifecycle(t *testing.T) {
	s := NewDocumentStore()
	uri := DocumentURI("file:///work/a.js")

	if err := s.Open(TextDocumentItem{URI: uri, LanguageID: "javascript", Version: 1, Text: "var a = 1;\n"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Open(TextDocumentItem{URI: uri, Version: 1}); !errors.Is(err, ErrDocumentAlreadyOpen) {
		t.Errorf("second Open() error = %v, want ErrDocumentAlreadyOpen", err)
	}

	doc, ok := s.Get(uri)
	if !ok || doc.Path != "/work/a.js" || doc.Version != 1 || doc.IsDirty {
		t.Errorf("Get() = %+v, %v", doc, ok)
	}

	err := s.Change(DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 4},
		ContentChanges: []TextDocumentContentChangeEvent{
			{Range: rangeOf(0, 0, 0, 3), Text: "let"},
			{Range: rangeOf(0, 8, 0, 9), Text: "2"},
		},
	})
	if err != nil {
		t.Fatalf("Change() error = %v", err)
	}
	if v, ok := s.Version(uri); !ok || v != 4 {
		t.Errorf("Version() = %d, %v; want 4, true", v, ok)
	}
	doc, _ = s.Get(uri)
	if doc.Content != "let a = 2;\n" || !doc.IsDirty {
		t.Errorf("after Change content = %q dirty = %v", doc.Content, doc.IsDirty)
	}

	// A change without a range replaces everything.
	err = s.Change(DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 5},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: "x"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	text := "saved"
	if err := s.Save(uri, &text); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	doc, _ = s.Get(uri)
	if doc.Content != "saved" || doc.Version != 5 || doc.IsDirty {
		t.Errorf("after Save = %+v", doc)
	}

	if err := s.Close(uri); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := s.Version(uri); ok {
		t.Error("Version() of a closed document should report false")
	}
	if err := s.Close(uri); !errors.Is(err, ErrDocumentNotOpen) {
		t.Errorf("second Close() error = %v, want ErrDocumentNotOpen", err)
	}
	if err := s.Save(uri, nil); !errors.Is(err, ErrDocumentNotOpen) {
		t.Errorf("Save() of closed document error = %v", err)
	}
	if err := s.Change(DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 6},
	}); !errors.Is(err, ErrDocumentNotOpen) {
		t.Errorf("Change() of closed document error = %v", err)
	}
}

func TestDocumentStore_UntitledHasNoPath(t *testing.T) {
	s := NewDocumentStore()
	uri := DocumentURI("untitled:Untitled-1")
	if err := s.Open(TextDocumentItem{URI: uri, Version: 1, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if doc, _ := s.Get(uri); doc.Path != "" {
		t.Errorf("Path = %q, want empty", doc.Path)
	}
}

func TestDocumentStore_Subscribe(t *testing.T) {
	s := NewDocumentStore()
	var kinds []string
	s.Subscribe(func(ev DocumentEvent) {
		kinds = append(kinds, ev.Kind.String())
	})

	uri := DocumentURI("file:///work/b.js")
	_ = s.Open(TextDocumentItem{URI: uri, Version: 1})
	_ = s.Change(DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: "y"}},
	})
	_ = s.Save(uri, nil)
	_ = s.Close(uri)

	want := []string{"open", "change", "save", "close"}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestDocumentStore_ConcurrentAccess(t *testing.T) {
	s := NewDocumentStore()
	uri := DocumentURI("file:///work/c.js")
	_ = s.Open(TextDocumentItem{URI: uri, Version: 0})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(v int) {
			defer wg.Done()
			_ = s.Change(DidChangeTextDocumentParams{
				TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: v},
				ContentChanges: []TextDocumentContentChangeEvent{{Text: "z"}},
			})
		}(i)
		go func() {
			defer wg.Done()
			s.Version(uri)
			s.All()
		}()
	}
	wg.Wait()

	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestApplyChange(t *testing.T) {
	tests := []struct {
		name    string
		content string
		rng     Range
		text    string
		want    string
	}{
		{"insert", "hello world", *rangeOf(0, 5, 0, 5), ",", "hello, world"},
		{"delete", "hello world", *rangeOf(0, 5, 0, 11), "", "hello"},
		{"multi-line", "a\nb\nc", *rangeOf(0, 1, 2, 0), "-", "a-c"},
		{"past end of line", "ab\ncd", *rangeOf(0, 10, 1, 0), "", "abcd"},
		{"past end of content", "ab", *rangeOf(5, 0, 6, 0), "!", "ab!"},
		{"reversed range", "abcd", *rangeOf(0, 3, 0, 1), "", "ad"},
		{"surrogate pair", "a😀b", *rangeOf(0, 1, 0, 3), "", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyChange(tt.content, tt.rng, tt.text); got != tt.want {
				t.Errorf("ApplyChange() = %q, want %q", got, tt.want)
			}
		})
	}
}
