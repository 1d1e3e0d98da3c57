package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/logging"
)

// Linter backend kinds.
const (
	KindExec = "exec"
	KindLua  = "lua"
)

// RunMode controls when documents are validated.
type RunMode string

const (
	// RunOnType validates after every change.
	RunOnType RunMode = "onType"
	// RunOnSave validates on open and save only.
	RunOnSave RunMode = "onSave"
)

// Settings is the effective server configuration.
type Settings struct {
	Linter        LinterSettings      `json:"linter"`
	Run           RunMode             `json:"run"`
	AutoFixOnSave bool                `json:"autoFixOnSave"`
	Diagnostics   DiagnosticsSettings `json:"diagnostics"`
	Log           LogSettings         `json:"log"`

	// Options is passed to the linter backend untouched.
	Options map[string]any `json:"options,omitempty"`
}

// LinterSettings selects and configures the lint backend.
type LinterSettings struct {
	Kind    string   `json:"kind"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Script  string   `json:"script,omitempty"`
	Timeout Duration `json:"timeout"`

	// Cwd is the working directory for exec linters. Empty means the
	// directory of the file being linted.
	Cwd string `json:"cwd,omitempty"`

	// Env is added to the exec linter's environment.
	Env map[string]string `json:"env,omitempty"`

	// Source names the tool in published diagnostics.
	Source string `json:"source"`
}

// DiagnosticsSettings shapes what is published.
type DiagnosticsSettings struct {
	// Filter is a CEL expression; diagnostics for which it is false are
	// dropped.
	Filter string `json:"filter,omitempty"`

	// Severity overrides the severity per rule. "off" drops the rule.
	Severity map[string]string `json:"severity,omitempty"`

	// MaxPerFile caps diagnostics per document; zero means no cap.
	MaxPerFile int `json:"maxPerFile"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level string `json:"level"`
}

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		Linter: LinterSettings{
			Kind:    KindExec,
			Timeout: Duration(10 * time.Second),
			Source:  "lintls",
		},
		Run: RunOnType,
		Log: LogSettings{Level: "info"},
	}
}

// Validate checks the settings and reports every problem found.
func (s *Settings) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch s.Linter.Kind {
	case KindExec:
		if s.Linter.Command == "" {
			add("linter.command is required for kind %q", KindExec)
		}
	case KindLua:
		if s.Linter.Script == "" {
			add("linter.script is required for kind %q", KindLua)
		}
	default:
		add("linter.kind must be %q or %q, got %q", KindExec, KindLua, s.Linter.Kind)
	}
	if s.Linter.Timeout < 0 {
		add("linter.timeout must not be negative")
	}

	switch s.Run {
	case RunOnType, RunOnSave:
	default:
		add("run must be %q or %q, got %q", RunOnType, RunOnSave, s.Run)
	}

	if s.Diagnostics.MaxPerFile < 0 {
		add("diagnostics.maxPerFile must not be negative")
	}
	for rule, sev := range s.Diagnostics.Severity {
		if sev == "off" {
			continue
		}
		if _, ok := linter.ParseSeverity(sev); !ok {
			add("diagnostics.severity.%s: unknown severity %q", rule, sev)
		}
	}

	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level: unknown level %q", s.Log.Level)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// SeverityOverrides returns the per-rule overrides as linter severities.
// Unknown names are skipped; Validate reports them.
func (s *Settings) SeverityOverrides() map[string]linter.Severity {
	if len(s.Diagnostics.Severity) == 0 {
		return nil
	}
	out := make(map[string]linter.Severity, len(s.Diagnostics.Severity))
	for rule, name := range s.Diagnostics.Severity {
		if name == "off" {
			out[rule] = linter.Severity("off")
			continue
		}
		if sev, ok := linter.ParseSeverity(name); ok {
			out[rule] = sev
		}
	}
	return out
}

// LogLevel returns the configured log level.
func (s *Settings) LogLevel() logging.Level {
	return logging.ParseLevel(s.Log.Level)
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	var out Settings
	data, err := json.Marshal(s)
	if err != nil {
		c := *s
		return &c
	}
	if err := json.Unmarshal(data, &out); err != nil {
		c := *s
		return &c
	}
	return &out
}

// Duration is a time.Duration that reads "1.5s" style strings or a number of
// milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*d = Duration(time.Duration(ms) * time.Millisecond)
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}
