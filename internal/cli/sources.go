package cli

import (
	"github.com/agentx-labs/kiln/internal/config"
	"github.com/agentx-labs/kiln/internal/registry"
	"github.com/agentx-labs/kiln/internal/scaffold"
)

// buildSources returns plugin sources in priority order: configured plugin
// paths, the kiln home and the built-in plugins.
func buildSources(s *config.Settings) []registry.Source {
	var sources []registry.Source
	for _, p := range s.PluginPaths {
		sources = append(sources, registry.DirSource(p, p))
	}
	sources = append(sources,
		registry.DirSource("home", config.PluginsDir()),
		registry.Source{Name: "builtin", FS: scaffold.Plugins()},
	)
	return sources
}

func newRegistry() *registry.Registry {
	return registry.New(logger, buildSources(settings)...)
}
