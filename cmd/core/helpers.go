package core

import (
	"context"
	"fmt"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/engine/docker"
	"github.com/projecteru2/hatchery/registry"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// InitEngine connects to the container engine.
func InitEngine(conf *config.Config) (engine.Engine, error) {
	eng, err := docker.New(conf.StopTimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return eng, nil
}

// InitRegistry opens the server index and makes sure its directories exist.
func InitRegistry(conf *config.Config) (*registry.Registry, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, err
	}
	return registry.New(conf), nil
}

func FormatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}
