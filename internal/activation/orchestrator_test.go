package activation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/fsgate"
	"github.com/agentx-labs/kiln/internal/pkgmgr"
	"github.com/agentx-labs/kiln/internal/project"
)

type recordingInstaller struct {
	calls     []deps.ResolvedSet
	installed map[string]string
	fail      bool
	block     bool
}

func (r *recordingInstaller) Installed(_ context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, n := range names {
		if v, ok := r.installed[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func (r *recordingInstaller) Install(ctx context.Context, set deps.ResolvedSet) (*deps.InstallResult, error) {
	r.calls = append(r.calls, set)
	if r.block {
		<-ctx.Done()
		return &deps.InstallResult{ExitCode: -1}, ctx.Err()
	}
	if r.fail {
		return &deps.InstallResult{ExitCode: 1, Stderr: "boom"}, errors.New("exit status 1")
	}
	if r.installed == nil {
		r.installed = make(map[string]string)
	}
	for _, d := range set {
		r.installed[d.Name] = lowestIn(d.Range)
	}
	return &deps.InstallResult{Command: []string{"npm", "install"}}, nil
}

// lowestIn returns the version a fake install picks for a caret, tilde or
// lower-bound range.
func lowestIn(rng string) string {
	if v := strings.TrimLeft(rng, "^~>=v "); v != "" {
		return v
	}
	return "1.0.0"
}

func toolchain(inst *recordingInstaller) Toolchain {
	return func(gw *fsgate.Gateway) (deps.Installer, deps.Manifest) {
		return inst, &pkgmgr.PackageJSON{FS: gw}
	}
}

func basePlugin() Plugin {
	return &Func{
		Name:     "base",
		Requires: []deps.Requirement{{Name: "express", Range: "^4.18.0"}},
		Run: func(ctx context.Context, ac *Context) error {
			_, err := ac.WriteAll(ctx,
				FileOperation{Path: "package.json", Content: []byte("{\n  \"name\": \"app\"\n}\n")},
				FileOperation{Path: "src/app.js", Content: []byte(appJS)},
			)
			return err
		},
	}
}

func healthPlugin() Plugin {
	return &Func{
		Name: "routes-health",
		Run: func(ctx context.Context, ac *Context) error {
			if _, err := ac.Write(ctx, FileOperation{Path: "src/routes/health.js", Content: []byte("module.exports = {};\n")}); err != nil {
				return err
			}
			_, err := ac.Patch(ctx, PatchOperation{
				Target:    "src/app.js",
				Anchor:    "// routes",
				Insertion: "app.use(require('./routes/health'));",
			})
			return err
		},
	}
}

func newOrchestrator(inst *recordingInstaller) *Orchestrator {
	opts := Options{
		FSTimeout:   time.Second,
		State:       project.Store{},
		Comparators: map[string]Comparator{"package.json": pkgmgr.SameIgnoringDependencies},
	}
	if inst != nil {
		opts.Toolchain = toolchain(inst)
	}
	return New(opts)
}

func statuses(r *Report) []Status {
	out := make([]Status, len(r.Plugins))
	for i, p := range r.Plugins {
		out[i] = p.Status
	}
	return out
}

func TestRun_AppliesInOrderAndInstallsOnce(t *testing.T) {
	root := t.TempDir()
	inst := &recordingInstaller{}
	o := newOrchestrator(inst)

	report, err := o.Run(context.Background(), []Plugin{basePlugin(), healthPlugin()}, root)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !report.Success {
		t.Fatal("Success = false, want true")
	}
	if got := statuses(report); !reflect.DeepEqual(got, []Status{StatusApplied, StatusApplied}) {
		t.Errorf("statuses = %v", got)
	}
	if len(inst.calls) != 1 {
		t.Fatalf("install calls = %d, want 1", len(inst.calls))
	}
	if report.Install == nil || !report.Install.Ran || len(report.Install.Delta) != 1 {
		t.Errorf("Install = %+v, want one-package delta", report.Install)
	}
	data, _ := os.ReadFile(filepath.Join(root, "package.json"))
	if !strings.Contains(string(data), `"express": "^4.18.0"`) {
		t.Errorf("package.json missing declared dependency:\n%s", data)
	}
	want := []string{"package.json", "src/app.js", "src/routes/health.js"}
	for _, w := range want {
		found := false
		for _, p := range report.Written {
			if p == w {
				found = true
			}
		}
		if !found {
			t.Errorf("Written = %v, missing %s", report.Written, w)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	root := t.TempDir()
	inst := &recordingInstaller{}
	o := newOrchestrator(inst)
	plugins := []Plugin{basePlugin(), healthPlugin()}

	if _, err := o.Run(context.Background(), plugins, root); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	before := snapshotDir(t, root)

	report, err := o.Run(context.Background(), plugins, root)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if got := statuses(report); !reflect.DeepEqual(got, []Status{StatusAlreadyApplied, StatusAlreadyApplied}) {
		t.Errorf("statuses = %v, want all already-applied", got)
	}
	if len(inst.calls) != 1 {
		t.Errorf("install calls = %d, want 1 across both runs", len(inst.calls))
	}
	if after := snapshotDir(t, root); !reflect.DeepEqual(before, after) {
		t.Error("second run changed the tree")
	}
	if len(report.Written) != 0 {
		t.Errorf("Written = %v, want empty", report.Written)
	}
}

func creator(id, rel, content string) Plugin {
	return &Func{Name: id, Run: func(ctx context.Context, ac *Context) error {
		_, err := ac.Write(ctx, FileOperation{Path: rel, Content: []byte(content)})
		return err
	}}
}

func TestRun_CreateOverFileFromEarlierRunOfOtherPlugin(t *testing.T) {
	root := t.TempDir()
	o := newOrchestrator(nil)

	if _, err := o.Run(context.Background(), []Plugin{creator("a", "p.txt", "from A\n")}, root); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	report, err := o.Run(context.Background(), []Plugin{creator("b", "p.txt", "from B\n")}, root)
	var ce *CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CollisionError", err)
	}
	if ce.Path != "p.txt" || ce.Plugin != "b" {
		t.Errorf("collision = %+v, want p.txt by b", ce)
	}
	if got := statuses(report); !reflect.DeepEqual(got, []Status{StatusFailed}) {
		t.Errorf("statuses = %v, want [failed]", got)
	}
	data, _ := os.ReadFile(filepath.Join(root, "p.txt"))
	if string(data) != "from A\n" {
		t.Errorf("p.txt = %q, want %q", data, "from A\n")
	}

	// The creator re-running still recognizes its file.
	report, err = o.Run(context.Background(), []Plugin{creator("a", "p.txt", "from A\n")}, root)
	if err != nil {
		t.Fatalf("third Run() error: %v", err)
	}
	if got := statuses(report); !reflect.DeepEqual(got, []Status{StatusAlreadyApplied}) {
		t.Errorf("statuses = %v, want [already-applied]", got)
	}
}

func TestRun_PatchedFileKeepsCreator(t *testing.T) {
	root := t.TempDir()
	o := newOrchestrator(nil)
	if _, err := o.Run(context.Background(), []Plugin{basePlugin(), healthPlugin()}, root); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	rec, err := project.Load(root)
	if err != nil {
		t.Fatalf("project.Load() error: %v", err)
	}
	if got := rec.Files["src/app.js"].Plugin; got != "base" {
		t.Errorf("src/app.js creator = %q, want base", got)
	}

	// app.js was created by base and then patched; another plugin's Create
	// on it must not pass on the recorded digest.
	_, err = o.Run(context.Background(), []Plugin{creator("other", "src/app.js", appJS)}, root)
	var ce *CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CollisionError", err)
	}
}

func TestRun_OrderingMatters(t *testing.T) {
	root := t.TempDir()
	o := newOrchestrator(&recordingInstaller{})

	report, err := o.Run(context.Background(), []Plugin{healthPlugin(), basePlugin()}, root)
	if !errors.Is(err, ErrAnchorNotFound) {
		t.Fatalf("error = %v, want ErrAnchorNotFound", err)
	}
	if !errors.Is(err, ErrActivationFailed) {
		t.Errorf("error = %v, want wrapped in ErrActivationFailed", err)
	}
	if report.FailedPlugin != "routes-health" {
		t.Errorf("FailedPlugin = %q, want routes-health", report.FailedPlugin)
	}
	if got := statuses(report); !reflect.DeepEqual(got, []Status{StatusFailed, StatusSkipped}) {
		t.Errorf("statuses = %v", got)
	}
}

func TestRun_FailFastSkipsRest(t *testing.T) {
	root := t.TempDir()
	inst := &recordingInstaller{}
	o := newOrchestrator(inst)
	var p3Ran bool

	plugins := []Plugin{
		&Func{Name: "p1", Requires: []deps.Requirement{{Name: "a"}}, Run: func(ctx context.Context, ac *Context) error {
			_, err := ac.Write(ctx, FileOperation{Path: "p1.txt", Content: []byte("1")})
			return err
		}},
		&Func{Name: "p2", Run: func(context.Context, *Context) error { return errors.New("broken plugin") }},
		&Func{Name: "p3", Run: func(context.Context, *Context) error { p3Ran = true; return nil }},
	}

	report, err := o.Run(context.Background(), plugins, root)
	var ae *ActivationError
	if !errors.As(err, &ae) || ae.Plugin != "p2" {
		t.Fatalf("error = %v, want *ActivationError for p2", err)
	}
	if got := statuses(report); !reflect.DeepEqual(got, []Status{StatusApplied, StatusFailed, StatusSkipped}) {
		t.Errorf("statuses = %v", got)
	}
	if p3Ran {
		t.Error("p3 ran after p2 failed")
	}
	if len(inst.calls) != 0 {
		t.Errorf("install calls = %d, want 0", len(inst.calls))
	}
	if report.Success {
		t.Error("Success = true after failure")
	}
	if _, err := os.Stat(filepath.Join(root, "p1.txt")); err != nil {
		t.Errorf("committed file removed: %v", err)
	}
	if !reflect.DeepEqual(report.Written, []string{"p1.txt"}) {
		t.Errorf("Written = %v, want [p1.txt]", report.Written)
	}
}

func TestRun_DependencyConflictInstallsNothing(t *testing.T) {
	root := t.TempDir()
	inst := &recordingInstaller{}
	o := newOrchestrator(inst)

	plugins := []Plugin{
		&Func{Name: "p1", Requires: []deps.Requirement{{Name: "lib", Range: ">=2, <3"}}},
		&Func{Name: "p2", Requires: []deps.Requirement{{Name: "lib", Range: ">=3"}}},
	}
	report, err := o.Run(context.Background(), plugins, root)
	if !errors.Is(err, ErrDependencyConflict) {
		t.Fatalf("error = %v, want ErrDependencyConflict", err)
	}
	var ce *deps.ConflictError
	if !errors.As(err, &ce) || !reflect.DeepEqual(ce.Plugins(), []string{"p1", "p2"}) {
		t.Errorf("conflict = %v, want plugins p1 and p2", err)
	}
	if len(inst.calls) != 0 {
		t.Errorf("install calls = %d, want 0", len(inst.calls))
	}
	if report.FailedPlugin != "p2" {
		t.Errorf("FailedPlugin = %q, want p2", report.FailedPlugin)
	}
}

func TestRun_DynamicRequirementsOnlyOnSuccess(t *testing.T) {
	root := t.TempDir()
	inst := &recordingInstaller{}
	o := newOrchestrator(inst)

	plugins := []Plugin{
		&Func{Name: "schema", Run: func(ctx context.Context, ac *Context) error {
			ac.Require(deps.Requirement{Name: "zod", Range: "^3.22.0"})
			return nil
		}},
	}
	report, err := o.Run(context.Background(), plugins, root)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(inst.calls) != 1 || inst.calls[0][0].Name != "zod" {
		t.Fatalf("install calls = %v, want zod", inst.calls)
	}
	if got := report.Install.Requested[0].Plugins; !reflect.DeepEqual(got, []string{"schema"}) {
		t.Errorf("Plugins = %v, want [schema]", got)
	}
}

func TestRun_InstallFailureRestoresManifest(t *testing.T) {
	root := t.TempDir()
	inst := &recordingInstaller{fail: true}
	o := newOrchestrator(inst)

	report, err := o.Run(context.Background(), []Plugin{basePlugin()}, root)
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("error = %v, want ErrInstallFailed", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "package.json"))
	if string(data) != "{\n  \"name\": \"app\"\n}\n" {
		t.Errorf("package.json = %q, want untouched", data)
	}
	if report.Install == nil || report.Install.Stderr != "boom" || report.Install.ExitCode != 1 {
		t.Errorf("Install = %+v, want captured failure", report.Install)
	}
}

func TestRun_InstallTimeout(t *testing.T) {
	root := t.TempDir()
	inst := &recordingInstaller{block: true}
	o := New(Options{Toolchain: toolchain(inst), InstallTimeout: 20 * time.Millisecond})

	_, err := o.Run(context.Background(), []Plugin{&Func{Name: "p", Requires: []deps.Requirement{{Name: "a"}}}}, root)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Errorf("error type = %T, want *TimeoutError", err)
	}
}

func TestRun_Preconditions(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		root    string
		plugins []Plugin
	}{
		{"missing root", missing, []Plugin{&Func{Name: "a"}}},
		{"root is a file", file, []Plugin{&Func{Name: "a"}}},
		{"duplicate ids", t.TempDir(), []Plugin{&Func{Name: "a"}, &Func{Name: "a"}}},
		{"empty id", t.TempDir(), []Plugin{&Func{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := newOrchestrator(nil).Run(context.Background(), tt.plugins, tt.root)
			if !errors.Is(err, ErrPreconditionFailed) {
				t.Fatalf("error = %v, want ErrPreconditionFailed", err)
			}
			for _, p := range report.Plugins {
				if p.Status != StatusSkipped {
					t.Errorf("%s status = %q, want skipped", p.PluginID, p.Status)
				}
			}
		})
	}
}

func TestRun_CanceledBeforeNextPlugin(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plugins := []Plugin{
		&Func{Name: "first", Run: func(context.Context, *Context) error { cancel(); return nil }},
		&Func{Name: "second", Run: func(context.Context, *Context) error { t.Error("second ran"); return nil }},
	}
	report, err := newOrchestrator(nil).Run(ctx, plugins, root)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got := statuses(report); !reflect.DeepEqual(got, []Status{StatusAlreadyApplied, StatusSkipped}) {
		t.Errorf("statuses = %v", got)
	}
}

func snapshotDir(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}
