package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/logging"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/source"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

type ingestOptions struct {
	newSession bool
	tail       int
	verbose    bool
	source     sourceFlags
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var opts ingestOptions
	cmd := &cobra.Command{
		Use:   "ingest [-- exec args]",
		Short: "Record a local source into the current session and exit when it ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := opts.source.build(args)
			if err != nil {
				return err
			}
			if src == nil {
				return errors.New("ingest needs one of --simulate, --exec or --follow")
			}
			return runIngest(cmd.Context(), ctx, opts, src, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&opts.newSession, "new-session", false, "Rotate to a fresh session file first")
	cmd.Flags().IntVar(&opts.tail, "tail", 0, "Print the last N lines when done")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Mirror diagnostic logs to stderr")
	opts.source.register(cmd)
	return cmd
}

func runIngest(parent context.Context, cc *commandContext, opts ingestOptions, src source.Source, out, errOut io.Writer) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	logging.Init(cfg.LoggingConfig(cc.stateDir, opts.verbose))
	defer logging.Shutdown()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStack(cfg, cc.stateDir)
	if err != nil {
		return err
	}
	defer st.close()

	// Rotating before the worker starts means every chunk lands in the new
	// file: recovery adopts the newest session and deletes the others.
	if opts.newSession && st.sessions != nil {
		b, err := st.sessions.Create(ctx)
		if err != nil {
			return err
		}
		if err := b.Close(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := st.worker
	c := newCollector(errOut)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		c.drain(w.Events())
		return nil
	})
	g.Go(func() error {
		defer cancel()
		if err := src.Run(gctx, w); err != nil {
			return fmt.Errorf("%s: %w", src.Name(), err)
		}
		return c.settle(gctx, w, opts.tail)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	for _, line := range c.tail {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%d lines in session %s\n", c.total.Load(), sessionLabel(st))
	return nil
}

// collector drains worker events so the worker never blocks on emit.
type collector struct {
	errOut  io.Writer
	total   atomic.Int64
	windows chan worker.LogWindow
	failed  chan string
	tail    []string
}

func newCollector(errOut io.Writer) *collector {
	return &collector{
		errOut:  errOut,
		windows: make(chan worker.LogWindow, 4),
		failed:  make(chan string, 1),
	}
}

// drain runs until the worker closes the channel. Error events are printed
// as they arrive.
func (c *collector) drain(events <-chan worker.Event) {
	defer close(c.windows)
	for ev := range events {
		switch e := ev.(type) {
		case worker.TotalLines:
			c.total.Store(int64(e.N))
		case worker.LogWindow:
			c.windows <- e
		case worker.Error:
			fmt.Fprintln(c.errOut, "error:", e.Message)
			select {
			case c.failed <- e.Message:
			default:
			}
		}
	}
}

// settle waits until the worker has handled every earlier request, then
// fetches the last tail lines. Requests run in order, so the answer to a
// window request follows every earlier append and count push.
func (c *collector) settle(ctx context.Context, w *worker.Worker, tail int) error {
	// Failures reported while the source ran were already printed.
	select {
	case <-c.failed:
	default:
	}
	// An empty search clears any filter and forces a TotalLines push.
	if err := w.Post(ctx, worker.SearchLogs{}); err != nil {
		return err
	}
	if _, err := c.window(ctx, w, worker.RequestWindow{}); err != nil {
		return err
	}
	if tail <= 0 {
		return nil
	}
	total := int(c.total.Load())
	win, err := c.window(ctx, w, worker.RequestWindow{StartLine: max(total-tail, 0), Count: tail})
	if err != nil {
		return err
	}
	for _, l := range win.Lines {
		c.tail = append(c.tail, l.Text)
	}
	return nil
}

func (c *collector) window(ctx context.Context, w *worker.Worker, req worker.RequestWindow) (worker.LogWindow, error) {
	if err := w.Post(ctx, req); err != nil {
		return worker.LogWindow{}, err
	}
	select {
	case win, ok := <-c.windows:
		if !ok {
			return worker.LogWindow{}, worker.ErrClosed
		}
		return win, nil
	case msg := <-c.failed:
		return worker.LogWindow{}, fmt.Errorf("worker: %s", msg)
	case <-ctx.Done():
		return worker.LogWindow{}, ctx.Err()
	}
}

func sessionLabel(st *stack) string {
	if st.sessions == nil {
		return "(memory)"
	}
	files, err := st.sessions.List()
	if err != nil || len(files) == 0 {
		return "(unknown)"
	}
	return files[0].Name
}
