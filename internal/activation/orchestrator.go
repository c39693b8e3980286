package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/fsgate"
	"github.com/agentx-labs/kiln/internal/project"
)

// Toolchain builds the installer and manifest for a target root.
type Toolchain func(gw *fsgate.Gateway) (deps.Installer, deps.Manifest)

// State persists what runs left on disk.
type State interface {
	// Files returns each recorded file as the last run left it.
	Files(ctx context.Context, gw *fsgate.Gateway) (map[string]project.File, error)
	// Save records the plugins applied by a run and the state of the
	// files it touched.
	Save(ctx context.Context, gw *fsgate.Gateway, applied []string, files map[string]project.File) error
}

// Options configures an Orchestrator.
type Options struct {
	// Concurrency bounds parallel writes inside one WriteAll.
	Concurrency int
	// FSTimeout bounds each filesystem call.
	FSTimeout time.Duration
	// InstallTimeout bounds the single installer invocation.
	InstallTimeout time.Duration
	// Toolchain provides dependency installation. Nil resolves
	// dependencies without installing them.
	Toolchain Toolchain
	// State recognizes files from earlier runs. Nil keeps no state, so a
	// re-run only treats byte-identical files as already applied.
	State State
	// Comparators override Create's equality check per path.
	Comparators map[string]Comparator
	// BeforeRename is passed to the gateway to inject write faults.
	BeforeRename fsgate.FaultFunc
	Logger       *slog.Logger
}

// Orchestrator runs plugin lists.
type Orchestrator struct {
	opts Options
	log  *slog.Logger
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{opts: opts, log: log}
}

// Run activates plugins against rootDir in order. Files committed before a
// failure stay on disk, later plugins are skipped and nothing is installed.
// The report is always returned; err is its first fatal error.
func (o *Orchestrator) Run(ctx context.Context, plugins []Plugin, rootDir string) (*Report, error) {
	report := newReport(rootDir, plugins)
	log := o.log.With("run_id", report.RunID.String())
	log.Info("activation started", "root", rootDir, "plugins", len(plugins))

	gw, err := o.preflight(ctx, plugins, rootDir)
	if err != nil {
		report.fail("", err)
		report.finish(nil)
		log.Error("activation refused", "error", err)
		return report, err
	}
	report.Root = gw.Root()

	var known map[string]project.File
	if o.opts.State != nil {
		known, err = o.opts.State.Files(ctx, gw)
		if err != nil {
			err = &PreconditionError{Reason: "project state is unreadable", Err: err}
			report.fail("", err)
			report.finish(nil)
			return report, err
		}
	}

	ac := NewContext(gw, ContextOptions{
		Concurrency: o.opts.Concurrency,
		Comparators: o.opts.Comparators,
		Known:       known,
		Logger:      log,
	})

	for i, p := range plugins {
		id := p.ID()
		if err := ctx.Err(); err != nil {
			report.fail("", fmt.Errorf("stopped before %s: %w", id, classify(err)))
			break
		}

		mark := ac.begin(id)
		actErr := p.Activate(ctx, ac)
		entry := &report.Plugins[i]
		entry.Operations = ac.since(mark)

		if actErr != nil {
			wrapped := &ActivationError{Plugin: id, Err: classify(actErr)}
			entry.Status = StatusFailed
			entry.Err = wrapped
			entry.Error = wrapped.Error()
			report.fail(id, wrapped)
			log.Error("plugin failed", "plugin", id, "error", actErr)
			break
		}

		ac.commit(p.Dependencies())
		entry.Status = pluginStatus(entry.Operations)
		log.Info("plugin activated", "plugin", id, "status", entry.Status, "operations", len(entry.Operations))
	}

	if report.Err == nil {
		if err := o.install(ctx, gw, ac.Pending(), report, log); err != nil {
			report.fail(conflictPlugin(err), err)
		}
	}

	if err := o.saveState(ctx, gw, ac, report); err != nil {
		if report.Err == nil {
			report.fail("", err)
		} else {
			log.Error("saving project state", "error", err)
		}
	}

	report.finish(ac.Written())
	if report.Err != nil {
		log.Error("activation failed", "plugin", report.FailedPlugin, "error", report.Err, "written", len(report.Written))
		return report, report.Err
	}
	log.Info("activation finished", "written", len(report.Written))
	return report, nil
}

// preflight validates the plugin list and the root before anything runs.
func (o *Orchestrator) preflight(ctx context.Context, plugins []Plugin, rootDir string) (*fsgate.Gateway, error) {
	seen := make(map[string]bool, len(plugins))
	for i, p := range plugins {
		if p == nil {
			return nil, &PreconditionError{Reason: fmt.Sprintf("plugin %d is nil", i)}
		}
		id := p.ID()
		if id == "" {
			return nil, &PreconditionError{Reason: fmt.Sprintf("plugin %d has an empty id", i)}
		}
		if seen[id] {
			return nil, &PreconditionError{Reason: fmt.Sprintf("plugin %s listed more than once", id)}
		}
		seen[id] = true
	}

	gw, err := fsgate.New(rootDir, o.opts.FSTimeout)
	if err != nil {
		return nil, &PreconditionError{Reason: "root " + rootDir + " is not usable", Err: err}
	}
	gw.BeforeRename = o.opts.BeforeRename
	if err := gw.CheckWritable(ctx); err != nil {
		return nil, &PreconditionError{Reason: "root " + rootDir + " is not writable", Err: classify(err)}
	}
	return gw, nil
}

// install merges the pending requirements and reconciles them with the
// project in one pass.
func (o *Orchestrator) install(ctx context.Context, gw *fsgate.Gateway, pending []deps.Requirement, report *Report, log *slog.Logger) error {
	merger := &deps.Merger{Timeout: o.opts.InstallTimeout, Logger: log}
	set, err := merger.Merge(pending)
	if err != nil {
		return err
	}
	summary := &InstallSummary{Requested: set}
	report.Install = summary
	if len(set) == 0 || o.opts.Toolchain == nil {
		return nil
	}

	merger.Installer, merger.Manifest = o.opts.Toolchain(gw)
	outcome, err := merger.Reconcile(ctx, set)
	if outcome != nil {
		summary.Delta = outcome.Delta
		if res := outcome.Result; res != nil {
			summary.Ran = true
			summary.Command = res.Command
			summary.ExitCode = res.ExitCode
			summary.Stdout = res.Stdout
			summary.Stderr = res.Stderr
		}
	}
	if err != nil {
		return classify(err)
	}
	log.Info("dependencies reconciled", "requested", len(set), "installed", len(summary.Delta))
	return nil
}

// saveState records applied plugins, the digests of every file the run
// touched and the creator of each file made by Create. Runs stopped by cancellation still record what they committed.
func (o *Orchestrator) saveState(ctx context.Context, gw *fsgate.Gateway, ac *Context, report *Report) error {
	if o.opts.State == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	var applied []string
	for _, p := range report.Plugins {
		if p.Status == StatusApplied || p.Status == StatusAlreadyApplied {
			applied = append(applied, p.PluginID)
		}
	}
	creators := ac.creators()
	files := make(map[string]project.File)
	for _, rel := range ac.touched() {
		data, ok, err := gw.ReadFileIfExists(ctx, rel)
		if err != nil {
			return fmt.Errorf("digesting %s: %w", rel, err)
		}
		if ok {
			files[rel] = project.File{Digest: project.Digest(data), Plugin: creators[rel]}
		}
	}
	if len(applied) == 0 && len(files) == 0 {
		return nil
	}
	if err := o.opts.State.Save(ctx, gw, applied, files); err != nil {
		return fmt.Errorf("saving project state: %w", err)
	}
	return nil
}

// classify turns deadline errors from any layer into a *TimeoutError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, fsgate.ErrTimeout) || errors.Is(err, deps.ErrInstallTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	return err
}

// conflictPlugin names the last plugin involved in a dependency conflict.
func conflictPlugin(err error) string {
	var ce *deps.ConflictError
	if errors.As(err, &ce) && len(ce.Claims) > 0 {
		return ce.Claims[len(ce.Claims)-1].Plugin
	}
	return ""
}

func pluginStatus(ops []OpResult) Status {
	for _, op := range ops {
		if op.Changed() {
			return StatusApplied
		}
	}
	return StatusAlreadyApplied
}
