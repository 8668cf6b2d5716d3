package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/config"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

// sessionView is one listed session, from the catalog or the directory.
type sessionView struct {
	Name    string
	Created time.Time
	Size    int64
	Live    bool
	Exports int
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			views, err := listSessions(cmd.Context(), cfg, all)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if isTerminal(out) {
				fmt.Fprintln(out, renderSessions(views, time.Now()))
				return nil
			}
			writeSessionsTSV(out, views)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include deleted sessions from the catalog")
	cmd.AddCommand(newSessionsPruneCommand(ctx))
	return cmd
}

func newSessionsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Forget deleted sessions older than --older-than from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.CatalogEnabled() {
				return fmt.Errorf("the session catalog is disabled")
			}
			cat, err := openCatalog(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			defer cat.Close()
			n, err := cat.Prune(contextOrBackground(cmd.Context()), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d sessions\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum age of a deleted session")
	return cmd
}

// listSessions reads the catalog when it is enabled and falls back to the
// session directory. The directory listing works while serve holds the lock.
func listSessions(ctx context.Context, cfg *config.Config, includeDeleted bool) ([]sessionView, error) {
	if cfg.Storage.InMemory {
		return nil, fmt.Errorf("storage.in_memory is set; there are no session files")
	}
	if cfg.CatalogEnabled() {
		views, err := catalogSessions(contextOrBackground(ctx), cfg.Catalog.Path, includeDeleted)
		if err == nil {
			return views, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			cliLog.Warn("catalog_list_failed", slog.String("error", err.Error()))
		}
	}
	files, err := storage.ListDir(cfg.Storage.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	views := make([]sessionView, 0, len(files))
	for _, f := range files {
		views = append(views, sessionView{Name: f.Name, Created: f.Created, Size: f.Size, Live: true})
	}
	return views, nil
}

func catalogSessions(ctx context.Context, path string, includeDeleted bool) ([]sessionView, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	cat, err := openCatalog(path)
	if err != nil {
		return nil, err
	}
	defer cat.Close()
	rows, err := cat.Sessions(ctx, includeDeleted)
	if err != nil {
		return nil, err
	}
	views := make([]sessionView, 0, len(rows))
	for _, r := range rows {
		v := sessionView{Name: r.Name, Created: r.CreatedAt, Live: r.Live(), Exports: r.Exports}
		if v.Live {
			if info, err := os.Stat(r.Path); err == nil {
				v.Size = info.Size()
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func renderSessions(views []sessionView, now time.Time) string {
	if len(views) == 0 {
		return "No sessions"
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		status := "live"
		if !v.Live {
			status = "deleted"
		}
		rows = append(rows, []string{
			v.Name,
			humanize.RelTime(v.Created, now, "ago", "from now"),
			humanize.Bytes(uint64(v.Size)),
			status,
			strconv.Itoa(v.Exports),
		})
	}
	return renderTable(
		[]string{"Session", "Created", "Size", "Status", "Exports"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
	)
}

func writeSessionsTSV(w io.Writer, views []sessionView) {
	for _, v := range views {
		status := "live"
		if !v.Live {
			status = "deleted"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n",
			v.Name, v.Created.UTC().Format(time.RFC3339), v.Size, status, v.Exports)
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
