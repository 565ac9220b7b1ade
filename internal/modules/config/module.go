package config

import (
	"go.uber.org/fx"
)

// Module provides the already loaded *Config to the graph.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
