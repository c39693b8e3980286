package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/fsgate"
)

// Supported package managers.
const (
	NPM  = "npm"
	PNPM = "pnpm"
	Yarn = "yarn"
	Bun  = "bun"
)

// ErrUnsupportedManager is returned for a package manager name kiln does
// not know how to drive.
var ErrUnsupportedManager = errors.New("unsupported package manager")

// Managers lists the supported package manager names.
func Managers() []string {
	return []string{NPM, PNPM, Yarn, Bun}
}

// Command installs dependencies with a package manager CLI. It implements
// deps.Installer.
type Command struct {
	// Manager is one of Managers(). Empty means npm.
	Manager string
	// FS is the target project. Install runs in its root and Installed
	// reads node_modules through it.
	FS     *fsgate.Gateway
	Runner Runner
	// Stdout and Stderr, when set, receive the installer output as it is
	// produced in addition to it being captured.
	Stdout io.Writer
	Stderr io.Writer
}

var _ deps.Installer = (*Command)(nil)

// Args returns the program and arguments that install set in one call.
func (c *Command) Args(set deps.ResolvedSet) (string, []string, error) {
	specs := make([]string, 0, len(set))
	for _, r := range set {
		specs = append(specs, r.Spec())
	}
	switch c.manager() {
	case NPM:
		return NPM, append([]string{"install", "--save"}, specs...), nil
	case PNPM:
		return PNPM, append([]string{"add"}, specs...), nil
	case Yarn:
		return Yarn, append([]string{"add"}, specs...), nil
	case Bun:
		return Bun, append([]string{"add"}, specs...), nil
	default:
		return "", nil, fmt.Errorf("%q: %w", c.Manager, ErrUnsupportedManager)
	}
}

// Install runs the package manager once for the whole set. The captured
// output and exit code are returned even when the command fails.
func (c *Command) Install(ctx context.Context, set deps.ResolvedSet) (*deps.InstallResult, error) {
	name, args, err := c.Args(set)
	if err != nil {
		return nil, err
	}
	runner := c.Runner
	if runner == nil {
		runner = CmdRunner{}
	}

	start := time.Now()
	res, runErr := runner.Run(ctx, name, args, RunOptions{
		Dir:    c.FS.Root(),
		Stdout: c.Stdout,
		Stderr: c.Stderr,
	})
	result := &deps.InstallResult{
		Command:  append([]string{name}, args...),
		ExitCode: res.ExitCode,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		Duration: time.Since(start),
	}
	if runErr != nil {
		return result, fmt.Errorf("running %s: %w", strings.Join(result.Command, " "), runErr)
	}
	return result, nil
}

// Installed reads the version of each package from node_modules.
func (c *Command) Installed(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range slices.Compact(slices.Sorted(slices.Values(names))) {
		data, ok, err := c.FS.ReadFileIfExists(ctx, path.Join("node_modules", name, "package.json"))
		if err != nil {
			return nil, fmt.Errorf("reading installed %s: %w", name, err)
		}
		if !ok {
			continue
		}
		if v := gjson.GetBytes(data, "version"); v.Exists() {
			out[name] = v.String()
		}
	}
	return out, nil
}

func (c *Command) manager() string {
	if c.Manager == "" {
		return NPM
	}
	return strings.ToLower(c.Manager)
}
