package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lintls.toml")
	if err := os.WriteFile(path, []byte("run = \"onType\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 10)
	w, err := NewWatcher(path, func() { changed <- struct{}{} }, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for n := 0; n < 3; n++ {
		if err := os.WriteFile(path, []byte("run = \"onSave\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	// The burst is coalesced.
	time.Sleep(100 * time.Millisecond)
	if n := len(changed); n != 0 {
		t.Errorf("got %d extra change events", n)
	}
}

func TestWatcherClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lintls.yaml")
	w, err := NewWatcher(path, func() {})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Path() != path {
		t.Errorf("Path() = %q", w.Path())
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.Run(context.Background()); !errors.Is(err, ErrWatcherClosed) {
		t.Errorf("Run after Close: %v, want ErrWatcherClosed", err)
	}
}
