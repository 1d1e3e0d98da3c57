// Package main is the entry point for the lintls language server.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/lintls/internal/config"
	"github.com/dshills/lintls/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errProblems makes lint exit with status 1 without printing an error.
var errProblems = errors.New("problems found")

// exitError carries an explicit process exit status.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	err := root.Execute()

	var exit *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return exit.code
	case errors.Is(err, errProblems):
		return 1
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "lintls",
		Short: "Language server for command-line linters",
		Long: `lintls runs a linter over open documents and publishes its findings as
LSP diagnostics. Auto-fixes are offered as minimal text edits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (default: .lintls.* in the working directory)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	root.AddCommand(
		newServeCommand(&flags),
		newLintCommand(&flags),
		newFixCommand(&flags),
		newConfigCommand(&flags),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lintls %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}

// loadSettings resolves the config file and applies flag overrides. The
// returned path is empty when no file is in use.
func loadSettings(flags *globalFlags) (*config.Settings, string, error) {
	path := flags.configPath
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Find(wd)
		}
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, "", err
		}
		path = abs
	}

	settings, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if flags.logLevel != "" {
		settings.Log.Level = flags.logLevel
	}
	return settings, path, nil
}

func newLogger(settings *config.Settings) *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = settings.LogLevel()
	cfg.Output = os.Stderr
	return logging.New(cfg)
}
