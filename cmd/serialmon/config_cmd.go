package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage config.toml",
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter config.toml unless one exists",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				dir, err := ctx.resolveStateDir()
				if err != nil {
					return err
				}
				target = ctx.configPath(dir)
			}
			if err := config.WriteExample(target); err != nil {
				return err
			}
			abs, _ := filepath.Abs(target)
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration at %s\n", abs)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Where to write the file (default --config or <state dir>/config.toml)")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load config.toml and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration valid")
			fmt.Fprintf(out, "  state dir: %s\n", ctx.stateDir)
			if cfg.Storage.InMemory {
				fmt.Fprintln(out, "  storage:   memory")
			} else {
				fmt.Fprintf(out, "  storage:   %s\n", cfg.Storage.Dir)
			}
			fmt.Fprintf(out, "  listen:    %s\n", cfg.Web.Listen)
			fmt.Fprintf(out, "  catalog:   %s\n", yesNo(cfg.CatalogEnabled()))
			return nil
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
