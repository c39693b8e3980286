package activation

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"sync"

	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/fsgate"
	"github.com/agentx-labs/kiln/internal/project"
)

// DefaultConcurrency bounds WriteAll when no limit is configured.
const DefaultConcurrency = 4

// Comparator reports whether the proposed content of a file is equivalent
// to what is already on disk.
type Comparator func(existing, proposed []byte) bool

// ContextOptions configures a Context.
type ContextOptions struct {
	// Concurrency bounds the WriteAll worker pool.
	Concurrency int
	// Comparators override byte equality for Create on specific paths.
	Comparators map[string]Comparator
	// Known maps paths to their state after earlier runs. Create treats a
	// file as applied when the same plugin created it and it still has
	// its recorded digest.
	Known  map[string]project.File
	Logger *slog.Logger
}

// Context is the handle a plugin uses to act on the target directory. It
// lives for one run and holds the write-ahead log of committed operations
// and the dependencies accumulated from successful plugins.
type Context struct {
	fs          *fsgate.Gateway
	concurrency int
	comparators map[string]Comparator
	known       map[string]project.File
	log         *slog.Logger

	mu      sync.Mutex
	plugin  string
	wal     []OpResult
	created map[string]string
	written []string
	pending []deps.Requirement
	dynamic []deps.Requirement
}

// NewContext returns a Context over gw.
func NewContext(gw *fsgate.Gateway, opts ContextOptions) *Context {
	n := opts.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	cmp := make(map[string]Comparator, len(opts.Comparators))
	for p, fn := range opts.Comparators {
		cmp[cleanPath(p)] = fn
	}
	known := make(map[string]project.File, len(opts.Known))
	for p, f := range opts.Known {
		known[cleanPath(p)] = f
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Context{
		fs:          gw,
		concurrency: n,
		comparators: cmp,
		known:       known,
		log:         log,
		created:     make(map[string]string),
	}
}

// Root returns the absolute target directory.
func (c *Context) Root() string { return c.fs.Root() }

// PluginID returns the id of the plugin currently activating.
func (c *Context) PluginID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plugin
}

// Exists reports whether rel exists under the root.
func (c *Context) Exists(ctx context.Context, rel string) (bool, error) {
	return c.fs.Exists(ctx, rel)
}

// ReadFile returns the content of rel.
func (c *Context) ReadFile(ctx context.Context, rel string) ([]byte, error) {
	return c.fs.ReadFile(ctx, rel)
}

// Require adds dependency requirements for the current plugin. They join
// the run's pending set only if the plugin succeeds.
func (c *Context) Require(reqs ...deps.Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range reqs {
		r.Plugin = c.plugin
		c.dynamic = append(c.dynamic, r)
	}
}

// Operations returns a copy of the write-ahead log.
func (c *Context) Operations() []OpResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.wal)
}

// Written returns the paths changed during the run in first-write order.
func (c *Context) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.written)
}

// Pending returns the dependencies accumulated from successful plugins.
func (c *Context) Pending() []deps.Requirement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pending)
}

// begin switches the context to plugin id and returns the current WAL
// length so the caller can slice out the plugin's operations.
func (c *Context) begin(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugin = id
	c.dynamic = nil
	return len(c.wal)
}

// commit moves the plugin's static and dynamic requirements into the
// pending set.
func (c *Context) commit(static []deps.Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range static {
		r.Plugin = c.plugin
		c.pending = append(c.pending, r)
	}
	c.pending = append(c.pending, c.dynamic...)
	c.dynamic = nil
}

// since returns the operations recorded from index i on.
func (c *Context) since(i int) []OpResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.wal) {
		return nil
	}
	return slices.Clone(c.wal[i:])
}

func (c *Context) record(r OpResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wal = append(c.wal, r)
	if r.Changed() && !slices.Contains(c.written, r.Path) {
		c.written = append(c.written, r.Path)
	}
}

// claim marks key as created by the current plugin. It returns the owner
// when a different plugin already created it in this run.
func (c *Context) claim(key string) (owner string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, exists := c.created[key]; exists && prev != c.plugin {
		return prev, false
	}
	c.created[key] = c.plugin
	return "", true
}

func (c *Context) createdBy(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.created[key]
	return owner, ok
}

func (c *Context) comparator(key string) Comparator {
	return c.comparators[key]
}

// creators returns the plugin that created each path this run.
func (c *Context) creators() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.created))
	for p, id := range c.created {
		out[p] = id
	}
	return out
}

// touched returns every path an operation reached, applied or not.
func (c *Context) touched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, op := range c.wal {
		if op.Status != OpSkipped && !slices.Contains(out, op.Path) {
			out = append(out, op.Path)
		}
	}
	return out
}

// resolve validates rel and returns its normalized key.
func (c *Context) resolve(rel string) (string, error) {
	if _, err := c.fs.Resolve(rel); err != nil {
		return "", fmt.Errorf("resolving %s: %w", rel, err)
	}
	return cleanPath(rel), nil
}

func cleanPath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}
