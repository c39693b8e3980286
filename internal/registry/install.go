package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentx-labs/kiln/internal/manifest"
)

// excludedNames are files/directories skipped when a plugin is installed.
var excludedNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	".DS_Store":    true,
}

// Install validates the plugin in srcDir and copies it to
// pluginsDir/<id>, replacing any previous copy.
func Install(srcDir, pluginsDir string) (*manifest.Plugin, error) {
	result, err := manifest.ValidateFile(srcDir)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		msgs := make([]string, 0, len(result.Issues))
		for _, issue := range result.Issues {
			msgs = append(msgs, issue.Path+": "+issue.Message)
		}
		return nil, fmt.Errorf("plugin in %s is invalid: %s", srcDir, strings.Join(msgs, "; "))
	}
	p, err := manifest.Parse(srcDir)
	if err != nil {
		return nil, err
	}

	dst := filepath.Join(pluginsDir, p.ID)
	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(dst); err != nil {
			return nil, fmt.Errorf("removing existing plugin at %s: %w", dst, err)
		}
	}
	if err := copyDir(srcDir, dst); err != nil {
		return nil, fmt.Errorf("copying %s to %s: %w", srcDir, dst, err)
	}
	return p, nil
}

// Remove deletes an installed plugin directory.
func Remove(id, pluginsDir string) error {
	if !filepath.IsLocal(id) || strings.ContainsRune(id, filepath.Separator) {
		return fmt.Errorf("invalid plugin id %q", id)
	}
	dir := filepath.Join(pluginsDir, id)

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%q: %w", id, ErrPluginNotFound)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}

// copyDir recursively copies src to dst, excluding entries in excludedNames.
func copyDir(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()|0o700); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if excludedNames[entry.Name()] {
			continue
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		switch {
		case entry.IsDir():
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
		// Symlinks and special files are not copied.
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
