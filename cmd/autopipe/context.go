package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"autopipe/internal/config"
	"autopipe/internal/history"
	"autopipe/internal/logging"
	"autopipe/internal/services"
	"autopipe/internal/workflow"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string

	// executor runs backend CLIs; tests replace it.
	executor services.Executor

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{executor: services.CommandExecutor{}}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", "", err)
			return
		}
		if level := strings.TrimSpace(c.logLevelFlag); level != "" {
			cfg.Logging.Level = level
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "ensure directories", "", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	opts := logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cmd.ErrOrStderr(),
	}
	if cfg.Paths.LogDir != "" {
		opts.FilePath = filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	}
	logger, err := logging.New(opts)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "logging", "", err)
	}
	return logger, nil
}

func (c *commandContext) openHistory(cfg *config.Config) (*history.Store, error) {
	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}

// newRunner wires backends, history, and logging for one command invocation.
// The returned close function releases the history store.
func (c *commandContext) newRunner(cmd *cobra.Command, cfg *config.Config) (*workflow.Runner, *history.Store, func(), error) {
	logger, err := c.logger(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	backends, err := workflow.NewBackends(cfg, c.executor, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := c.openHistory(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return workflow.New(cfg, backends, store, logger), store, func() { _ = store.Close() }, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
