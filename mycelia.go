// Package mycelia is an in-process message bus for a modular
// micro-kernel: cooperating subsystems communicate exclusively by
// sending typed messages along hierarchical URI-style paths, mediated
// by a privileged kernel that authenticates callers, enforces channel
// access, and tracks request/response correlation.
package mycelia

import (
	"context"

	"github.com/lesfleursdelanuitdev/mycelia/internal/config"
	"github.com/lesfleursdelanuitdev/mycelia/internal/kernel"
	"github.com/lesfleursdelanuitdev/mycelia/internal/response"
	"github.com/lesfleursdelanuitdev/mycelia/internal/routing"
	"github.com/lesfleursdelanuitdev/mycelia/internal/subsystem"
)

// Version is the library version.
const Version = "0.1.0"

// MessageSystem is the bus handle hosts hold.
type MessageSystem = kernel.MessageSystem

// Subsystem is a composable unit hosted on the bus.
type Subsystem = subsystem.Subsystem

// SubsystemConfig configures a subsystem.
type SubsystemConfig = subsystem.Config

// New boots a message system from the given configuration. A nil
// config uses defaults.
func New(ctx context.Context, cfg *config.Config) (*MessageSystem, error) {
	var kcfg *kernel.Config
	if cfg != nil {
		kcfg = &kernel.Config{
			Router: &routing.Config{CacheCapacity: cfg.Router.CacheCapacity},
			Response: &response.Config{
				SweepInterval: cfg.Response.SweepInterval,
				DedupWindow:   cfg.Response.DedupWindow,
			},
		}
	}
	return kernel.New(ctx, kcfg)
}

// NewSubsystem creates a subsystem in the CREATED state, ready for
// hooks and registration.
func NewSubsystem(cfg SubsystemConfig) (*Subsystem, error) {
	return subsystem.New(cfg)
}

// LoadConfig reads mycelia.yaml (or the explicit path) with env
// overrides.
func LoadConfig(path string) (config.Config, error) {
	return config.Load(path)
}
