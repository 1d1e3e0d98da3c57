package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/lintls/internal/config"
	"github.com/dshills/lintls/internal/lsp"
	"github.com/dshills/lintls/internal/server"
)

type serveFlags struct {
	stdio  bool
	listen string
	watch  bool
}

func newServeCommand(global *globalFlags) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the language server",
		Long: `Run the language server over stdio (the default) or, with --listen, over
websockets at ws://ADDR/lsp.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.stdio && flags.listen != "" {
				return errors.New("--stdio and --listen are mutually exclusive")
			}
			return serve(cmd.Context(), global, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.stdio, "stdio", false, "Serve over stdin/stdout")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "Serve websocket sessions on this address, e.g. 127.0.0.1:7998")
	cmd.Flags().BoolVar(&flags.watch, "watch", true, "Reload the configuration file when it changes")
	return cmd
}

func serve(parent context.Context, global *globalFlags, flags serveFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, path, err := loadSettings(global)
	if err != nil {
		return err
	}
	log := newLogger(settings)
	if path != "" {
		log.Info("using configuration %s", path)
	}

	opts := server.Options{
		Settings:   settings,
		ConfigPath: path,
		Logger:     log,
		Version:    version,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var reload func()
	if flags.listen != "" {
		l := server.NewListener(opts)
		reload = l.ReloadConfig
		g.Go(func() error {
			defer cancel()
			return l.ListenAndServe(gctx, flags.listen)
		})
	} else {
		opts.MirrorLogs = true
		opts.Transport = "stdio"
		srv := server.New(opts)
		reload = srv.ReloadConfig
		g.Go(func() error {
			defer cancel()
			err := srv.Serve(gctx, lsp.NewHeaderStream(os.Stdin, os.Stdout, os.Stdin))
			if err == nil && srv.ExitCode() != 0 {
				return &exitError{code: srv.ExitCode()}
			}
			return err
		})
	}

	if path != "" && flags.watch {
		w, err := config.NewWatcher(path, reload, config.WithErrorHandler(func(err error) {
			log.Warn("config watcher: %v", err)
		}))
		if err != nil {
			log.Warn("not watching %s: %v", path, err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	err = g.Wait()
	log.Debug("server stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
