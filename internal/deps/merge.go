package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// InstallResult is the captured outcome of one installer invocation.
type InstallResult struct {
	Command  []string      `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Installer is the package manager the merged delta is handed to.
type Installer interface {
	// Installed reports the installed version of each requested name.
	// Names that are not installed are absent from the map.
	Installed(ctx context.Context, names []string) (map[string]string, error)
	// Install installs every requirement in a single invocation.
	Install(ctx context.Context, set ResolvedSet) (*InstallResult, error)
}

// Snapshot is the saved state of a project manifest.
type Snapshot struct {
	Data   []byte
	Exists bool
}

// Manifest is the target project's dependency manifest.
type Manifest interface {
	// Declared returns the dependency specs currently declared.
	Declared(ctx context.Context) (map[string]string, error)
	// Snapshot captures the manifest so a failed install can be undone.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Restore puts a snapshot back byte for byte.
	Restore(ctx context.Context, s Snapshot) error
	// Declare records the given requirements in the manifest.
	Declare(ctx context.Context, set ResolvedSet) error
}

// Outcome summarizes a reconcile pass.
type Outcome struct {
	Requested ResolvedSet    `json:"requested"`
	Delta     ResolvedSet    `json:"delta"`
	Result    *InstallResult `json:"result,omitempty"`
}

// Merger merges plugin requirements and installs what the project lacks.
type Merger struct {
	Installer Installer
	Manifest  Manifest
	// Timeout bounds the installer invocation. Zero means no deadline
	// beyond the caller's context.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Merge groups requirements by package name in first-seen order and
// intersects their ranges. The first package whose ranges do not overlap
// is returned as a *ConflictError.
func (m *Merger) Merge(reqs []Requirement) (ResolvedSet, error) {
	type group struct {
		claims []Claim
	}
	var order []string
	groups := make(map[string]*group)
	for _, r := range reqs {
		if r.Name == "" {
			return nil, fmt.Errorf("requirement from %s has no package name: %w", r.Plugin, ErrInvalidRange)
		}
		g, ok := groups[r.Name]
		if !ok {
			g = &group{}
			groups[r.Name] = g
			order = append(order, r.Name)
		}
		g.claims = append(g.claims, Claim{Plugin: r.Plugin, Range: r.Range})
	}

	set := make(ResolvedSet, 0, len(order))
	for _, name := range order {
		g := groups[name]
		ranges := make([]string, 0, len(g.claims))
		for _, c := range g.claims {
			ranges = append(ranges, c.Range)
		}
		rng, ok, err := Intersect(ranges...)
		if err != nil {
			return nil, fmt.Errorf("merging %s: %w", name, err)
		}
		if !ok {
			return nil, &ConflictError{Name: name, Claims: g.claims}
		}
		set = append(set, Resolved{Name: name, Range: rng, Plugins: pluginIDs(g.claims)})
	}
	return set, nil
}

// Delta returns the members of set the project does not already satisfy. A
// member is satisfied when the manifest declares a compatible spec for it and
// the installed version meets its range.
func (m *Merger) Delta(ctx context.Context, set ResolvedSet) (ResolvedSet, error) {
	if len(set) == 0 {
		return nil, nil
	}
	declared, err := m.Manifest.Declared(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading declared dependencies: %w", err)
	}
	installed, err := m.Installer.Installed(ctx, set.Names())
	if err != nil {
		return nil, fmt.Errorf("listing installed dependencies: %w", err)
	}

	var delta ResolvedSet
	for _, r := range set {
		spec, ok := declared[r.Name]
		if ok && Compatible(spec, r.Range) {
			if v, present := installed[r.Name]; present && Satisfies(v, r.Range) {
				continue
			}
		}
		delta = append(delta, r)
	}
	return delta, nil
}

// Reconcile installs the delta between set and the project in one installer
// invocation and declares it in the manifest. When the install fails the
// manifest is restored to its prior bytes. The returned Outcome is populated
// as far as the pass got, including on error.
func (m *Merger) Reconcile(ctx context.Context, set ResolvedSet) (*Outcome, error) {
	log := m.logger()
	out := &Outcome{Requested: set}

	delta, err := m.Delta(ctx, set)
	if err != nil {
		return out, err
	}
	out.Delta = delta
	if len(delta) == 0 {
		log.Debug("dependencies already satisfied", "requested", len(set))
		return out, nil
	}

	snap, err := m.Manifest.Snapshot(ctx)
	if err != nil {
		return out, fmt.Errorf("snapshotting manifest: %w", err)
	}

	ictx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	log.Info("installing dependencies", "count", len(delta), "packages", delta.Names())
	res, ierr := m.Installer.Install(ictx, delta)
	out.Result = res
	if ierr == nil && res != nil && res.ExitCode != 0 {
		ierr = fmt.Errorf("installer exited with status %d", res.ExitCode)
	}
	if ierr != nil {
		if rerr := m.Manifest.Restore(ctx, snap); rerr != nil {
			log.Error("restoring manifest after failed install", "error", rerr)
			ierr = errors.Join(ierr, fmt.Errorf("restoring manifest: %w", rerr))
		}
		if errors.Is(ierr, context.DeadlineExceeded) || errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("installing %d packages after %s: %w", len(delta), m.Timeout, errors.Join(ErrInstallTimeout, ierr))
		}
		return out, &InstallError{Result: res, Err: ierr}
	}

	if err := m.Manifest.Declare(ctx, delta); err != nil {
		return out, fmt.Errorf("declaring installed dependencies: %w", err)
	}
	log.Info("dependencies installed", "count", len(delta))
	return out, nil
}

func (m *Merger) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.Logger
}

func pluginIDs(claims []Claim) []string {
	seen := make(map[string]bool, len(claims))
	ids := make([]string, 0, len(claims))
	for _, c := range claims {
		if c.Plugin == "" || seen[c.Plugin] {
			continue
		}
		seen[c.Plugin] = true
		ids = append(ids, c.Plugin)
	}
	return ids
}
