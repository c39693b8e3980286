package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"sort"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/manifest"
)

// Registry errors.
var (
	// ErrPluginNotFound is returned when no source defines a plugin id.
	ErrPluginNotFound = errors.New("plugin not found")
)

// Registry resolves plugin ids against its sources.
type Registry struct {
	sources []Source
	log     *slog.Logger
}

// New returns a Registry searching sources in slice order (first source =
// highest priority).
func New(log *slog.Logger, sources ...Source) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{sources: sources, log: log}
}

// Sources returns the configured sources in priority order.
func (r *Registry) Sources() []Source {
	return slices.Clone(r.sources)
}

// Lookup returns the plugin id from the first source that defines it.
func (r *Registry) Lookup(id string) (*Declarative, error) {
	for _, src := range r.sources {
		if !hasManifest(src.FS, id) {
			continue
		}
		m, err := manifest.ParseFS(src.FS, id)
		if err != nil {
			return nil, fmt.Errorf("loading plugin %s from %s: %w", id, src.Name, err)
		}
		if m.ID != id {
			return nil, fmt.Errorf("loading plugin %s from %s: manifest declares id %q", id, src.Name, m.ID)
		}
		return &Declarative{Manifest: m, FS: src.FS, Dir: id, Source: src.Name, Logger: r.log}, nil
	}
	return nil, fmt.Errorf("%q: %w", id, ErrPluginNotFound)
}

// Resolve returns the plugins for ids in caller order.
func (r *Registry) Resolve(ids []string) ([]activation.Plugin, error) {
	plugins := make([]activation.Plugin, 0, len(ids))
	for _, id := range ids {
		p, err := r.Lookup(id)
		if err != nil {
			return nil, err
		}
		r.log.Debug("resolved plugin", "plugin", id, "source", p.Source)
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// List walks every source and returns the available plugins sorted by id.
// Plugins whose manifest cannot be parsed are skipped with a warning.
func (r *Registry) List() ([]Entry, error) {
	byID := make(map[string]*Entry)
	for _, src := range r.sources {
		entries, err := fs.ReadDir(src.FS, ".")
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("listing source %s: %w", src.Name, err)
		}
		for _, e := range entries {
			if !e.IsDir() || !hasManifest(src.FS, e.Name()) {
				continue
			}
			if existing, ok := byID[e.Name()]; ok {
				existing.Shadowed = append(existing.Shadowed, src.Name)
				continue
			}
			m, err := manifest.ParseFS(src.FS, e.Name())
			if err != nil {
				r.log.Warn("skipping plugin", "plugin", e.Name(), "source", src.Name, "error", err)
				continue
			}
			byID[e.Name()] = &Entry{
				ID:          m.ID,
				Version:     m.Version,
				Description: m.Description,
				Tags:        m.Tags,
				Source:      src.Name,
			}
		}
	}

	out := make([]Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func hasManifest(fsys fs.FS, dir string) bool {
	if !fs.ValidPath(dir) || dir == "." {
		return false
	}
	info, err := fs.Stat(fsys, path.Join(dir, manifest.FileName))
	return err == nil && !info.IsDir()
}
