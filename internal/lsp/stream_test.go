package lsp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestHeaderStream_Read(t *testing.T) {
	input := "Content-Length: 2\r\n\r\n{}" +
		"content-type: application/vscode-jsonrpc; charset=utf-8\r\nCONTENT-LENGTH: 7\r\n\r\n[1,2,3]"
	s := NewHeaderStream(strings.NewReader(input), io.Discard, nil)

	for _, want := range []string{"{}", "[1,2,3]"} {
		got, err := s.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Read() = %q, want %q", got, want)
		}
	}
	if _, err := s.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read() at end error = %v, want EOF", err)
	}
}

func TestHeaderStream_ReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"missing length", "Content-Type: text/plain\r\n\r\n", ErrMissingContentLength},
		{"zero length", "Content-Length: 0\r\n\r\n", ErrMissingContentLength},
		{"short body", "Content-Length: 10\r\n\r\n{}", io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHeaderStream(strings.NewReader(tt.input), io.Discard, nil)
			if _, err := s.Read(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Read() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	s := NewHeaderStream(strings.NewReader("Content-Length: abc\r\n\r\n"), io.Discard, nil)
	if _, err := s.Read(); err == nil {
		t.Error("Read() with a bad length should fail")
	}
}

func TestHeaderStream_Write(t *testing.T) {
	var buf bytes.Buffer
	s := NewHeaderStream(strings.NewReader(""), &buf, nil)

	if err := s.Write([]byte(`{"jsonrpc":"2.0"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "Content-Length: 17\r\n\r\n{\"jsonrpc\":\"2.0\"}"
	if buf.String() != want {
		t.Errorf("Write() wrote %q, want %q", buf.String(), want)
	}
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func TestHeaderStream_Close(t *testing.T) {
	if err := NewHeaderStream(strings.NewReader(""), io.Discard, nil).Close(); err != nil {
		t.Errorf("Close() without closer = %v", err)
	}

	c := &closeCounter{}
	if err := NewHeaderStream(strings.NewReader(""), io.Discard, c).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if c.n != 1 {
		t.Errorf("closer called %d times, want 1", c.n)
	}
}
