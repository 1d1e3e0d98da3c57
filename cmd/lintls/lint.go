package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/dshills/lintls/internal/config"
	"github.com/dshills/lintls/internal/diagnostics"
	"github.com/dshills/lintls/internal/linter"
	"github.com/dshills/lintls/internal/lsp"
	"github.com/dshills/lintls/internal/reconcile"
	"github.com/dshills/lintls/internal/server"
)

// cliBackend builds the configured backend for one-shot commands.
func cliBackend(global *globalFlags) (*config.Settings, linter.Linter, func(), error) {
	settings, _, err := loadSettings(global)
	if err != nil {
		return nil, nil, nil, err
	}
	_, backend, closeFn, err := server.NewBackend(settings)
	if err != nil {
		return nil, nil, nil, err
	}
	return settings, backend, closeFn, nil
}

func readSource(path string) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", err
	}
	return abs, string(data), nil
}

func newLintCommand(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lint FILE...",
		Short: "Lint files and print diagnostics",
		Long:  "Lint files the way the server would and print the published diagnostics. Exits 1 when any are reported.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, backend, closeFn, err := cliBackend(global)
			if err != nil {
				return err
			}
			defer closeFn()

			filter, err := diagnostics.NewFilter(settings.Diagnostics.Filter)
			if err != nil {
				return err
			}
			conv := &diagnostics.Converter{
				Source:     settings.Linter.Source,
				Filter:     filter,
				Overrides:  settings.SeverityOverrides(),
				MaxPerFile: settings.Diagnostics.MaxPerFile,
			}

			found := 0
			for _, arg := range args {
				n, err := lintFile(cmd.Context(), cmd.OutOrStdout(), arg, settings, backend, conv)
				if err != nil {
					return err
				}
				found += n
			}
			if found > 0 {
				return errProblems
			}
			return nil
		},
	}
}

func lintFile(ctx context.Context, out io.Writer, arg string, settings *config.Settings, backend linter.Linter, conv *diagnostics.Converter) (int, error) {
	path, source, err := readSource(arg)
	if err != nil {
		return 0, err
	}

	ctx, cancel := lintContext(ctx, settings)
	defer cancel()
	res, err := backend.Lint(ctx, linter.Request{Source: source, Path: path, Settings: settings.Options})
	if err != nil {
		return 0, fmt.Errorf("lint %s: %w", arg, err)
	}
	if res == nil || res.Ignored {
		return 0, nil
	}

	diags := conv.Convert(source, path, res.Diagnostics)
	for _, d := range diags {
		code := ""
		if d.Code != nil {
			code = fmt.Sprintf(" [%v]", d.Code)
		}
		fmt.Fprintf(out, "%s:%d:%d: %s: %s%s\n", arg, d.Range.Start.Line+1, d.Range.Start.Character+1,
			severityName(d.Severity), d.Message, code)
	}
	return len(diags), nil
}

func severityName(s lsp.DiagnosticSeverity) string {
	switch s {
	case lsp.DiagnosticSeverityError:
		return "error"
	case lsp.DiagnosticSeverityInformation:
		return "info"
	case lsp.DiagnosticSeverityHint:
		return "hint"
	default:
		return "warning"
	}
}

func newFixCommand(global *globalFlags) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "fix FILE",
		Short: "Print or apply auto-fix edits",
		Long: `Run the linter in fix mode and reduce its output to minimal text edits.
Without --write the edits are printed as LSP TextEdits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, backend, closeFn, err := cliBackend(global)
			if err != nil {
				return err
			}
			defer closeFn()

			path, source, err := readSource(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := lintContext(cmd.Context(), settings)
			defer cancel()
			edits, err := reconcile.AutoFix(ctx, backend, reconcile.NewDMPDiffer(0), linter.Request{
				Source:   source,
				Path:     path,
				Settings: settings.Options,
			})
			if err != nil {
				return err
			}

			if write {
				if len(edits) == 0 {
					return nil
				}
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				return os.WriteFile(path, []byte(reconcile.Apply(source, edits)), info.Mode().Perm())
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reconcile.ToTextEdits(source, edits))
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write the fixed file in place")
	return cmd
}

func newConfigCommand(global *globalFlags) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, path, err := loadSettings(global)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				path = "(none)"
			}
			fmt.Fprintf(out, "# file: %s\n", path)

			opts := litter.Options{HidePrivateFields: true, StripPackageNames: true}
			fmt.Fprintln(out, opts.Sdump(settings))

			if validate {
				return settings.Validate()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "Fail if the configuration is incomplete or invalid")
	return cmd
}

// lintContext bounds a single lint run by the configured timeout. A zero
// timeout means no limit.
func lintContext(ctx context.Context, settings *config.Settings) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d := settings.Linter.Timeout.Std(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
