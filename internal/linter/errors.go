package linter

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBackend is returned when the configured backend kind is unknown.
	ErrNoBackend = errors.New("no linter backend configured")

	// ErrBadOutput is returned when a backend produces output that cannot be
	// parsed.
	ErrBadOutput = errors.New("malformed linter output")
)

// ToolError reports a backend failure for one file.
type ToolError struct {
	Backend string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Err
}
