package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, ".lintls.toml", `
run = "onSave"
autoFixOnSave = true

[linter]
kind = "exec"
command = "eslint-bridge"
args = ["--stdin", "--format=json"]
timeout = "2s"
source = "eslint"

[linter.env]
NODE_ENV = "production"

[diagnostics]
filter = 'severity == "error"'
maxPerFile = 50

[diagnostics.severity]
"no-console" = "off"
eqeqeq = "error"

[options]
env = "browser"
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Run != RunOnSave || !s.AutoFixOnSave {
		t.Errorf("run = %q, autoFixOnSave = %v", s.Run, s.AutoFixOnSave)
	}
	if s.Linter.Command != "eslint-bridge" || len(s.Linter.Args) != 2 || s.Linter.Args[1] != "--format=json" {
		t.Errorf("linter = %+v", s.Linter)
	}
	if s.Linter.Timeout.Std() != 2*time.Second {
		t.Errorf("timeout = %v", s.Linter.Timeout)
	}
	if s.Linter.Env["NODE_ENV"] != "production" {
		t.Errorf("env = %v", s.Linter.Env)
	}
	if s.Diagnostics.MaxPerFile != 50 || s.Diagnostics.Filter != `severity == "error"` {
		t.Errorf("diagnostics = %+v", s.Diagnostics)
	}
	if s.Options["env"] != "browser" {
		t.Errorf("options = %v", s.Options)
	}

	overrides := s.SeverityOverrides()
	if overrides["no-console"] != "off" || overrides["eqeqeq"] != "error" {
		t.Errorf("overrides = %v", overrides)
	}

	// Defaults survive for keys the file does not set.
	if s.Log.Level != "info" {
		t.Errorf("log level = %q", s.Log.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "lintls.yaml", `
linter:
  kind: lua
  script: /etc/lintls/rules.lua
  timeout: 1500
diagnostics:
  severity:
    semi: warn
log:
  level: debug
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Linter.Kind != KindLua || s.Linter.Script != "/etc/lintls/rules.lua" {
		t.Errorf("linter = %+v", s.Linter)
	}
	if s.Linter.Timeout.Std() != 1500*time.Millisecond {
		t.Errorf("timeout = %v", s.Linter.Timeout)
	}
	if s.LogLevel().String() != "DEBUG" {
		t.Errorf("log level = %v", s.LogLevel())
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "lintls.json", `{"linter": {"command": "biome-lsp-bridge"}}`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Linter.Command != "biome-lsp-bridge" || s.Linter.Kind != KindExec {
		t.Errorf("linter = %+v", s.Linter)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "lintls.toml", "[linter]\ncommand = \"from-file\"\n")

	t.Setenv("LINTLS_LINTER_COMMAND", "from-env")
	t.Setenv("LINTLS_LINTER_ARGS", "--stdin --fix-dry-run")
	t.Setenv("LINTLS_AUTO_FIX_ON_SAVE", "yes")
	t.Setenv("LINTLS_DIAGNOSTICS_MAX_PER_FILE", "7")
	t.Setenv("LINTLS_LINTER_TIMEOUT", "3s")
	t.Setenv("LINTLS_LINTER_CWD", "/srv/app")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Linter.Command != "from-env" {
		t.Errorf("command = %q, want env to win", s.Linter.Command)
	}
	if len(s.Linter.Args) != 2 || s.Linter.Args[0] != "--stdin" {
		t.Errorf("args = %v", s.Linter.Args)
	}
	if !s.AutoFixOnSave || s.Diagnostics.MaxPerFile != 7 || s.Linter.Timeout.Std() != 3*time.Second {
		t.Errorf("settings = %+v", s)
	}
	if s.Linter.Cwd != "/srv/app" {
		t.Errorf("cwd = %q", s.Linter.Cwd)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("bad.toml", []byte("[linter\ncommand = 1"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if perr.Path != "bad.toml" || perr.Line == 0 {
		t.Errorf("ParseError = %+v", perr)
	}

	_, err = Parse("bad.yaml", []byte("linter:\n  kind: [exec\n"))
	if !errors.As(err, &perr) || perr.Line == 0 {
		t.Errorf("yaml err = %v", err)
	}

	if _, err := Parse("config.ini", nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestValidate(t *testing.T) {
	s := Defaults()
	s.Linter.Kind = "python"
	s.Run = "sometimes"
	s.Diagnostics.MaxPerFile = -1
	s.Diagnostics.Severity = map[string]string{"semi": "loud"}
	s.Log.Level = "chatty"

	err := s.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(verr.Problems) != 5 {
		t.Errorf("problems = %v", verr.Problems)
	}
	if !errors.Is(err, ErrValidationFailed) {
		t.Error("ValidationError should unwrap to ErrValidationFailed")
	}

	// The defaults alone lack a linter command.
	if err := Defaults().Validate(); err == nil || !strings.Contains(err.Error(), "linter.command") {
		t.Errorf("Defaults().Validate() = %v", err)
	}
}

func TestMergeClientSettings(t *testing.T) {
	base := Defaults()
	base.Linter.Command = "eslint-bridge"
	base.Diagnostics.Severity = map[string]string{"semi": "warn"}

	merged, err := base.Merge(map[string]any{
		"run":         "onSave",
		"diagnostics": map[string]any{"severity": map[string]any{"quotes": "error"}},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Run != RunOnSave {
		t.Errorf("run = %q", merged.Run)
	}
	if merged.Diagnostics.Severity["semi"] != "warn" || merged.Diagnostics.Severity["quotes"] != "error" {
		t.Errorf("severity = %v, want both rules", merged.Diagnostics.Severity)
	}
	if base.Run != RunOnType {
		t.Error("Merge modified its receiver")
	}

	bad, err := base.Merge(map[string]any{"run": "never"})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := bad.Validate(); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("err = %v, want validation failure", err)
	}

	if _, err := base.Merge(map[string]any{"linter": map[string]any{"timeout": "soon"}}); err == nil {
		t.Error("expected decode error for a bad duration")
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	if Find(dir) != "" {
		t.Error("Find in empty dir should return empty")
	}
	yml := filepath.Join(dir, ".lintls.yml")
	if err := os.WriteFile(yml, []byte("run: onSave\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := Find(dir); got != yml {
		t.Errorf("Find() = %q, want %q", got, yml)
	}
}

func TestClone(t *testing.T) {
	s := Defaults()
	s.Linter.Args = []string{"a"}
	c := s.Clone()
	c.Linter.Args[0] = "b"
	if s.Linter.Args[0] != "a" {
		t.Error("Clone shares slices")
	}
}
