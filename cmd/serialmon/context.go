package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/config"
)

type commandContext struct {
	configFlag *string
	stateFlag  *string

	configOnce sync.Once
	config     *config.Config
	stateDir   string
	configErr  error
}

func newCommandContext(configFlag, stateFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		stateFlag:  stateFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		dir, err := c.resolveStateDir()
		if err != nil {
			c.configErr = err
			return
		}
		cfg, err := config.Load(c.configPath(dir), dir)
		if err != nil {
			c.configErr = err
			return
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			c.configErr = fmt.Errorf("create state directory: %w", err)
			return
		}
		c.stateDir = dir
		c.config = &cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) resolveStateDir() (string, error) {
	if c.stateFlag != nil {
		if dir := strings.TrimSpace(*c.stateFlag); dir != "" {
			return dir, nil
		}
	}
	return config.StateDir()
}

func (c *commandContext) configPath(stateDir string) string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	return filepath.Join(stateDir, config.FileName)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
