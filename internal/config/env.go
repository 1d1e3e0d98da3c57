package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// EnvLoader reads overrides from environment variables.
type EnvLoader struct {
	prefix  string
	mapping map[string]string // env var -> settings path
}

// NewEnvLoader creates a loader for variables starting with prefix.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(prefix),
	}
}

func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "LINTER_KIND":              "linter.kind",
		prefix + "LINTER_COMMAND":           "linter.command",
		prefix + "LINTER_ARGS":              "linter.args",
		prefix + "LINTER_SCRIPT":            "linter.script",
		prefix + "LINTER_TIMEOUT":           "linter.timeout",
		prefix + "LINTER_SOURCE":            "linter.source",
		prefix + "LINTER_CWD":               "linter.cwd",
		prefix + "RUN":                      "run",
		prefix + "AUTO_FIX_ON_SAVE":         "autoFixOnSave",
		prefix + "DIAGNOSTICS_FILTER":       "diagnostics.filter",
		prefix + "DIAGNOSTICS_MAX_PER_FILE": "diagnostics.maxPerFile",
		prefix + "LOG_LEVEL":                "log.level",
	}
}

// stringPaths are kept verbatim instead of being guessed at.
var stringPaths = map[string]bool{
	"linter.kind":        true,
	"linter.command":     true,
	"linter.script":      true,
	"linter.timeout":     true,
	"linter.source":      true,
	"linter.cwd":         true,
	"run":                true,
	"diagnostics.filter": true,
	"log.level":          true,
}

// Load returns the overrides present in the environment.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			continue
		}
		setByPath(config, path, parseEnvValue(path, value))
	}
	return config, nil
}

func parseEnvValue(path, s string) any {
	if stringPaths[path] {
		return s
	}

	if path == "linter.args" {
		if strings.HasPrefix(s, "[") {
			var args []any
			if err := json.Unmarshal([]byte(s), &args); err == nil {
				return args
			}
		}
		fields := strings.Fields(s)
		args := make([]any, len(fields))
		for i, f := range fields {
			args[i] = f
		}
		return args
	}

	if path == "autoFixOnSave" {
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return s
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
