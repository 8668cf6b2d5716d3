package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/config"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/export"
	"github.com/imwoo90/web-serial-monitor-sub000/internal/storage"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var timestamps bool
	var output string
	cmd := &cobra.Command{
		Use:   "export [session]",
		Short: "Write a session log to stdout or a file (default: the newest session)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			path, err := resolveSession(cfg, name)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			var file *os.File
			if output != "" && output != "-" {
				file, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				w = file
			}
			n, err := exportSession(cmd, cfg, path, w, timestamps)
			if file != nil {
				if cerr := file.Close(); err == nil {
					err = cerr
				}
			}
			if err != nil {
				return err
			}
			if file != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s to %s\n", humanize.Bytes(uint64(n)), output)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&timestamps, "timestamps", true, "Keep the timestamp prefix on each line")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func exportSession(cmd *cobra.Command, cfg *config.Config, path string, w io.Writer, timestamps bool) (int64, error) {
	b, err := storage.OpenReadOnly(path)
	if err != nil {
		return 0, err
	}
	defer b.Close()
	size, err := b.Size()
	if err != nil {
		return 0, err
	}
	exp := export.New(export.FromBackend(b), size, export.Options{
		ChunkSize:         cfg.Export.ChunkKB * 1024,
		IncludeTimestamps: timestamps,
	})
	return exp.WriteTo(contextOrBackground(cmd.Context()), w)
}

// resolveSession maps a session name, or a path, to a file. An empty name
// picks the newest session in the storage directory.
func resolveSession(cfg *config.Config, name string) (string, error) {
	if name != "" {
		if _, ok := storage.ParseSessionName(filepath.Base(name)); !ok {
			return "", fmt.Errorf("%q is not a session file name (logs_<ms>.txt)", name)
		}
		if filepath.Base(name) != name {
			return name, nil
		}
		return filepath.Join(cfg.Storage.Dir, name), nil
	}
	files, err := storage.ListDir(cfg.Storage.Dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", errors.New("no sessions recorded yet")
	}
	return files[0].Path, nil
}
