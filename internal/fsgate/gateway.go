package fsgate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a single gateway call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

var (
	// ErrOutsideRoot is returned when a path resolves outside the gateway root.
	ErrOutsideRoot = errors.New("path escapes root directory")

	// ErrTimeout is returned when a gateway call exceeds its per-call timeout.
	ErrTimeout = errors.New("filesystem call timed out")
)

// FaultFunc is called between the temporary write and the rename of an
// atomic write. A non-nil return aborts the write before the rename.
type FaultFunc func(tmpPath, finalPath string) error

// Gateway performs filesystem operations scoped to a root directory.
type Gateway struct {
	root    string
	timeout time.Duration

	// BeforeRename is a test hook for simulating crashes mid-write.
	BeforeRename FaultFunc
}

// New returns a gateway rooted at root. The root is made absolute and
// symlinks in it are resolved so the escape check compares real paths.
func New(root string, timeout time.Duration) (*Gateway, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{root: abs, timeout: timeout}, nil
}

// Root returns the absolute root directory.
func (g *Gateway) Root() string {
	return g.root
}

// Resolve maps a root-relative path to an absolute path under the root.
// Absolute inputs and paths that escape the root (lexically, through a
// symlinked parent directory or through a symlink at the path itself) are
// rejected.
func (g *Gateway) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path: %w", ErrOutsideRoot)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%s: absolute paths are not allowed: %w", rel, ErrOutsideRoot)
	}

	full := filepath.Join(g.root, filepath.FromSlash(rel))
	if !within(g.root, full) {
		return "", fmt.Errorf("%s: %w", rel, ErrOutsideRoot)
	}

	// Walk up to the deepest existing ancestor and make sure its real
	// location is still inside the root.
	dir := filepath.Dir(full)
	for {
		if _, err := os.Lstat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	real, err := filepath.EvalSymlinks(dir)
	if err == nil && !within(g.root, real) {
		return "", fmt.Errorf("%s: parent resolves to %s: %w", rel, real, ErrOutsideRoot)
	}

	if info, err := os.Lstat(full); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		target, err := linkTarget(full)
		if err != nil {
			return "", fmt.Errorf("%s: resolving symlink: %w", rel, err)
		}
		if !within(g.root, target) {
			return "", fmt.Errorf("%s: symlink resolves to %s: %w", rel, target, ErrOutsideRoot)
		}
	}

	return full, nil
}

// linkTarget returns where the symlink at full points. A dangling link is
// resolved lexically against its directory.
func linkTarget(full string) (string, error) {
	if real, err := filepath.EvalSymlinks(full); err == nil {
		return real, nil
	}
	dest, err := os.Readlink(full)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(full), dest)
	}
	return filepath.Clean(dest), nil
}

// within reports whether path equals root or is nested below it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Exists reports whether rel exists under the root.
func (g *Gateway) Exists(ctx context.Context, rel string) (bool, error) {
	full, err := g.Resolve(rel)
	if err != nil {
		return false, err
	}
	var exists bool
	err = g.call(ctx, "stat "+rel, func() error {
		_, statErr := os.Stat(full)
		if statErr == nil {
			exists = true
			return nil
		}
		if errors.Is(statErr, fs.ErrNotExist) {
			return nil
		}
		return statErr
	})
	return exists, err
}

// ReadFile returns the content of rel. A missing file yields fs.ErrNotExist.
func (g *Gateway) ReadFile(ctx context.Context, rel string) ([]byte, error) {
	full, err := g.Resolve(rel)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = g.call(ctx, "read "+rel, func() error {
		var readErr error
		data, readErr = os.ReadFile(full)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return data, nil
}

// ReadFileIfExists returns the content of rel, or nil and false when the
// file does not exist.
func (g *Gateway) ReadFileIfExists(ctx context.Context, rel string) ([]byte, bool, error) {
	data, err := g.ReadFile(ctx, rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// WriteFile atomically replaces rel with data. Parent directories are
// created as needed. A zero perm keeps the existing file's permissions, or
// 0644 for new files.
func (g *Gateway) WriteFile(ctx context.Context, rel string, data []byte, perm os.FileMode) error {
	full, err := g.Resolve(rel)
	if err != nil {
		return err
	}
	return g.call(ctx, "write "+rel, func() error {
		return g.writeAtomic(full, data, perm)
	})
}

// AppendFile appends data to rel through an atomic rewrite of the whole
// file. perm applies only when rel does not exist yet.
func (g *Gateway) AppendFile(ctx context.Context, rel string, data []byte, perm os.FileMode) error {
	current, exists, err := g.ReadFileIfExists(ctx, rel)
	if err != nil {
		return err
	}
	if exists {
		perm = 0
	}
	next := make([]byte, 0, len(current)+len(data))
	next = append(next, current...)
	next = append(next, data...)
	return g.WriteFile(ctx, rel, next, perm)
}

// Remove deletes rel. Removing a missing file is not an error.
func (g *Gateway) Remove(ctx context.Context, rel string) error {
	full, err := g.Resolve(rel)
	if err != nil {
		return err
	}
	return g.call(ctx, "remove "+rel, func() error {
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", rel, err)
		}
		return nil
	})
}

// CheckWritable verifies the root exists, is a directory, and accepts writes.
func (g *Gateway) CheckWritable(ctx context.Context) error {
	return g.call(ctx, "probe root", func() error {
		info, err := os.Stat(g.root)
		if err != nil {
			return fmt.Errorf("stat root %s: %w", g.root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("root %s is not a directory", g.root)
		}
		probe, err := os.CreateTemp(g.root, ".kiln-probe-*")
		if err != nil {
			return fmt.Errorf("root %s is not writable: %w", g.root, err)
		}
		name := probe.Name()
		probe.Close()
		return os.Remove(name)
	})
}

// writeAtomic writes data to a temporary sibling of full and renames it
// into place.
func (g *Gateway) writeAtomic(full string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if perm == 0 {
		perm = 0644
		if info, err := os.Stat(full); err == nil {
			perm = info.Mode().Perm()
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}
	if err := chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", tmpPath, err)
	}

	if g.BeforeRename != nil {
		if err := g.BeforeRename(tmpPath, full); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, full); err != nil {
		return fmt.Errorf("moving %s into place: %w", full, err)
	}
	committed = true
	return nil
}

// call runs fn with the gateway's per-call timeout. When the timeout fires
// first, fn keeps running to completion in the background so a write is
// never interrupted halfway; the caller gets a timeout error.
func (g *Gateway) call(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%s after %s: %w", op, g.timeout, ErrTimeout)
	}
}
