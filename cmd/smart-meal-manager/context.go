package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smart-meal-manager/internal/app"
	"smart-meal-manager/internal/config"
	"smart-meal-manager/internal/logger"
)

type commandContext struct {
	configFlag *string

	once   sync.Once
	logger *zap.Logger
	svc    *app.Services
	app    *app.App
	err    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureApp loads the configuration and wires the services once per run.
func (c *commandContext) ensureApp(cmd *cobra.Command) (*app.App, error) {
	c.once.Do(func() {
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				os.Setenv("CONFIG_FILE", path)
			}
		}
		cfg, err := config.NewFromEnv()
		if err != nil {
			c.err = fmt.Errorf("failed to load configuration: %w", err)
			return
		}
		log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			c.err = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		svc, err := app.NewServices(cfg, log)
		if err != nil {
			log.Sync()
			c.err = err
			return
		}
		c.logger = log
		c.svc = svc
		c.app = app.New(svc, cmd.OutOrStdout(), cmd.InOrStdin())
	})
	return c.app, c.err
}

// withApp runs fn and releases the services afterwards.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app.App) error) (err error) {
	a, err := c.ensureApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func (c *commandContext) close() error {
	if c.svc == nil {
		return nil
	}
	err := c.svc.Close()
	c.logger.Sync()
	c.svc = nil
	return err
}
