package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Stream reads and writes whole JSON-RPC messages.
// Implementations must allow Write to be called concurrently with Read.
type Stream interface {
	Read() (json.RawMessage, error)
	Write(msg json.RawMessage) error
	Close() error
}

// HeaderStream implements the LSP base protocol: each message is preceded by a
// Content-Length header block. It is used for stdio connections.
type HeaderStream struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	mu sync.Mutex
}

// NewHeaderStream creates a framed stream over the given reader and writer.
// closer may be nil.
func NewHeaderStream(r io.Reader, w io.Writer, c io.Closer) *HeaderStream {
	return &HeaderStream{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		closer: c,
	}
}

// Read reads a single framed message.
func (s *HeaderStream) Read() (json.RawMessage, error) {
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			length, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("parse content length %q: %w", value, err)
			}
			contentLength = length
		}
		// Ignore Content-Type and other headers
	}

	if contentLength <= 0 {
		return nil, ErrMissingContentLength
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// Write writes a message with its Content-Length header.
func (s *HeaderStream) Write(msg json.RawMessage) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(msg))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := s.writer.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Close closes the underlying connection if a closer was supplied.
func (s *HeaderStream) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
