package registry

import (
	"io/fs"
	"os"
)

// Source is a location holding plugin directories, one per plugin, each
// with a plugin.yaml at its top.
type Source struct {
	Name string // e.g., "builtin", "home", "./plugins"
	FS   fs.FS
}

// DirSource returns a Source over a directory on disk.
func DirSource(name, dir string) Source {
	return Source{Name: name, FS: os.DirFS(dir)}
}

// Entry describes a discovered plugin.
type Entry struct {
	ID          string
	Version     string
	Description string
	Tags        []string
	Source      string
	// Shadowed lists lower-priority sources that define the same id.
	Shadowed []string
}
