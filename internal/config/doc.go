// Package config loads and watches lintls settings.
//
// Settings come from four layers, lowest precedence first: built-in
// defaults, a TOML, YAML or JSON file, LINTLS_* environment variables, and
// the settings an editor sends with workspace/didChangeConfiguration.
//
// Example .lintls.toml:
//
//	run = "onType"
//	autoFixOnSave = true
//
//	[linter]
//	kind = "exec"
//	command = "eslint-bridge"
//	args = ["--stdin"]
//	timeout = "5s"
//	source = "eslint"
//
//	[diagnostics]
//	filter = 'severity == "error" || !rule.startsWith("style/")'
//	maxPerFile = 200
//
//	[diagnostics.severity]
//	"no-console" = "off"
//	"eqeqeq" = "error"
//
// Watcher reports edits to the file so the server can reload.
package config
