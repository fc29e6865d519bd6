package cli

import (
	"github.com/neboloop/bingus/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	verbose bool
)

// Version is set at build time with -ldflags.
var Version = "dev"

// ServerConfig holds the loaded configuration (set by main)
var ServerConfig *config.Config

// loadConfig returns the embedded config with the --config file, if
// any, layered on top.
func loadConfig() (config.Config, error) {
	c := *ServerConfig
	if cfgFile != "" {
		if err := c.Overlay(cfgFile); err != nil {
			return c, err
		}
	}
	return c, nil
}
