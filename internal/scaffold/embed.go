package scaffold

import (
	"embed"
	"io/fs"
)

//go:embed plugins
var pluginsFS embed.FS

//go:embed skeleton
var skeletonFS embed.FS

// Plugins returns the built-in plugin directories, one per plugin id.
func Plugins() fs.FS {
	sub, err := fs.Sub(pluginsFS, "plugins")
	if err != nil {
		panic(err)
	}
	return sub
}
