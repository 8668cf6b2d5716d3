package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/source"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/web"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	listen    string
	token     string
	inMemory  bool
	exportTTL time.Duration
	verbose   bool
	source    sourceFlags
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve [-- exec args]",
		Short: "Run the log worker and the WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := opts.source.build(args)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), ctx, opts, src, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Listen address (overrides web.listen)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Require this token from clients (overrides web.token)")
	cmd.Flags().BoolVar(&opts.inMemory, "in-memory", false, "Keep the log in memory only")
	cmd.Flags().DurationVar(&opts.exportTTL, "export-ttl", 5*time.Minute, "How long a prepared export stays downloadable")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Mirror diagnostic logs to stderr")
	opts.source.register(cmd)
	return cmd
}

func runServe(parent context.Context, cc *commandContext, opts serveOptions, src source.Source, out io.Writer) error {
	loaded, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	cfg := *loaded
	if opts.listen != "" {
		cfg.Web.Listen = opts.listen
	}
	if opts.token != "" {
		cfg.Web.Token = opts.token
	}
	if opts.inMemory {
		cfg.Storage.InMemory = true
	}

	logging.Init(cfg.LoggingConfig(cc.stateDir, opts.verbose))
	defer logging.Shutdown()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go dumpOnSignal(ctx, cc.stateDir)

	st, err := openStack(&cfg, cc.stateDir)
	if err != nil {
		return err
	}
	defer st.close()

	srv := web.NewServer(web.Config{
		ListenAddr: cfg.Web.Listen,
		Token:      cfg.Web.Token,
		ReadLimit:  int64(cfg.Web.ReadLimitKB) * 1024,
		ExportTTL:  opts.exportTTL,
		Recorder:   recorderFor(st),
	}, st.worker)

	storeDesc := "memory"
	if st.sessions != nil {
		storeDesc = st.sessions.Dir()
	}
	fmt.Fprintf(out, "serialmon listening on http://%s (sessions: %s)\n", srv.Addr(), storeDesc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.worker.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if src != nil {
		g.Go(func() error { return runSource(gctx, src, st) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cliLog.Info("serve_stopped")
	return nil
}

// recorderFor avoids handing the server a typed nil catalog.
func recorderFor(st *stack) web.ExportRecorder {
	if st.catalog == nil {
		return nil
	}
	return st.catalog
}

// runSource feeds src into the worker. A source that ends leaves the
// server running.
func runSource(ctx context.Context, src source.Source, st *stack) error {
	cliLog.Info("source_started", slog.String("source", src.Name()))
	if err := src.Run(ctx, st.worker); err != nil && ctx.Err() == nil {
		cliLog.Error("source_failed", slog.String("source", src.Name()), slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", src.Name(), err)
	}
	cliLog.Info("source_finished", slog.String("source", src.Name()))
	return nil
}

// dumpOnSignal writes the diagnostic ring buffer to the state directory on
// SIGUSR1.
func dumpOnSignal(ctx context.Context, stateDir string) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			path := filepath.Join(stateDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
				continue
			}
			cliLog.Info("crash_dump_written", slog.String("path", path))
		}
	}
}
