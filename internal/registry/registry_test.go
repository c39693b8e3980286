package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/fsgate"
	"github.com/agentx-labs/kiln/internal/manifest"
	"github.com/agentx-labs/kiln/internal/pkgmgr"
	"github.com/agentx-labs/kiln/internal/project"
	"github.com/agentx-labs/kiln/internal/scaffold"
)

func pluginYAML(id, version, extra string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte("id: " + id + "\nversion: " + version + "\ndescription: " + id + " plugin\n" + extra)}
}

func TestLookupPriority(t *testing.T) {
	local := fstest.MapFS{"base/plugin.yaml": pluginYAML("base", "2.0.0", "")}
	builtin := fstest.MapFS{
		"base/plugin.yaml":   pluginYAML("base", "1.0.0", ""),
		"extras/plugin.yaml": pluginYAML("extras", "1.0.0", ""),
	}
	r := New(nil, Source{Name: "local", FS: local}, Source{Name: "builtin", FS: builtin})

	p, err := r.Lookup("base")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.Source != "local" {
		t.Errorf("Source = %q, want %q (higher priority)", p.Source, "local")
	}
	if p.Manifest.Version != "2.0.0" {
		t.Errorf("Version = %q, want %q", p.Manifest.Version, "2.0.0")
	}

	p, err = r.Lookup("extras")
	if err != nil {
		t.Fatalf("Lookup extras: %v", err)
	}
	if p.Source != "builtin" {
		t.Errorf("Source = %q, want %q", p.Source, "builtin")
	}
}

func TestLookupErrors(t *testing.T) {
	src := fstest.MapFS{
		"broken/plugin.yaml":    {Data: []byte("id: broken\nversion: 1.0.0\nfiles:\n  - path: a\n    mode: clobber\n    content: x\n")},
		"renamed/plugin.yaml":   pluginYAML("other", "1.0.0", ""),
		"noversion/plugin.yaml": {Data: []byte("id: noversion\n")},
	}
	r := New(nil, Source{Name: "test", FS: src})

	tests := []struct {
		id      string
		wantErr string
	}{
		{"missing", "plugin not found"},
		{"../escape", "plugin not found"},
		{"broken", "invalid manifest"},
		{"renamed", `manifest declares id "other"`},
		{"noversion", "invalid manifest"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := r.Lookup(tt.id)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}

	_, err := r.Lookup("missing")
	if !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("errors.Is(err, ErrPluginNotFound) = false for %v", err)
	}
	_, err = r.Lookup("broken")
	var invalid *manifest.InvalidError
	if !errors.As(err, &invalid) {
		t.Errorf("error %v is not an *InvalidError", err)
	}
}

func TestResolveKeepsCallerOrder(t *testing.T) {
	src := fstest.MapFS{
		"a/plugin.yaml": pluginYAML("a", "1.0.0", ""),
		"b/plugin.yaml": pluginYAML("b", "1.0.0", ""),
		"c/plugin.yaml": pluginYAML("c", "1.0.0", ""),
	}
	r := New(nil, Source{Name: "test", FS: src})

	plugins, err := r.Resolve([]string{"c", "a", "b"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var got []string
	for _, p := range plugins {
		got = append(got, p.ID())
	}
	if want := []string{"c", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	if _, err := r.Resolve([]string{"a", "zzz"}); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Resolve with unknown id: err = %v, want ErrPluginNotFound", err)
	}
}

func TestList(t *testing.T) {
	local := fstest.MapFS{
		"base/plugin.yaml":   pluginYAML("base", "2.0.0", "tags: [local]\n"),
		"broken/plugin.yaml": {Data: []byte("id: broken\n")},
		"notes.txt":          {Data: []byte("not a plugin")},
		"empty/README.md":    {Data: []byte("no manifest")},
	}
	builtin := fstest.MapFS{
		"base/plugin.yaml":   pluginYAML("base", "1.0.0", ""),
		"schema/plugin.yaml": pluginYAML("schema", "1.0.0", ""),
	}
	r := New(nil,
		Source{Name: "local", FS: local},
		DirSource("missing", filepath.Join(t.TempDir(), "nope")),
		Source{Name: "builtin", FS: builtin},
	)

	entries, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries %+v, want 2", len(entries), entries)
	}
	if entries[0].ID != "base" || entries[1].ID != "schema" {
		t.Errorf("ids = %q, %q, want base, schema", entries[0].ID, entries[1].ID)
	}
	if entries[0].Source != "local" || entries[0].Version != "2.0.0" {
		t.Errorf("base = %+v, want local 2.0.0", entries[0])
	}
	if !reflect.DeepEqual(entries[0].Shadowed, []string{"builtin"}) {
		t.Errorf("Shadowed = %v, want [builtin]", entries[0].Shadowed)
	}
	if !reflect.DeepEqual(entries[0].Tags, []string{"local"}) {
		t.Errorf("Tags = %v, want [local]", entries[0].Tags)
	}
}

func TestDeclarativeActivate(t *testing.T) {
	src := fstest.MapFS{
		"web/plugin.yaml": pluginYAML("web", "1.0.0", `dependencies:
  - name: express
    range: ^4.18.0
files:
  - path: src/app.js
    source: templates/app.js
  - path: bin/run
    content: "#!/bin/sh\n"
    perm: "755"
patches:
  - target: src/app.js
    anchor: "// routes"
    insertion: "app.use(health);"
script: activate.lua
`),
		"web/templates/app.js": {Data: []byte("const app = {};\n// routes\nmodule.exports = app;\n")},
		"web/activate.lua":     {Data: []byte("function activate(kiln)\n  kiln.write(\"VERSION\", kiln.plugin .. \"\\n\")\nend\n")},
	}
	r := New(nil, Source{Name: "test", FS: src})
	p, err := r.Lookup("web")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got := p.Dependencies(); !reflect.DeepEqual(got, []deps.Requirement{{Name: "express", Range: "^4.18.0", Plugin: "web"}}) {
		t.Errorf("Dependencies = %+v", got)
	}

	root := t.TempDir()
	report, err := activation.New(activation.Options{FSTimeout: time.Second}).
		Run(context.Background(), []activation.Plugin{p}, root)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Plugins[0].Status != activation.StatusApplied {
		t.Errorf("Status = %q, want %q", report.Plugins[0].Status, activation.StatusApplied)
	}

	app := readFile(t, root, "src/app.js")
	if want := "const app = {};\n// routes\napp.use(health);\nmodule.exports = app;\n"; app != want {
		t.Errorf("src/app.js = %q, want %q", app, want)
	}
	if got := readFile(t, root, "VERSION"); got != "web\n" {
		t.Errorf("VERSION = %q, want %q", got, "web\n")
	}
	info, err := os.Stat(filepath.Join(root, "bin", "run"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("bin/run perm = %o, want 755", info.Mode().Perm())
	}
}

type fakeInstaller struct {
	calls     int
	installed map[string]string
}

func (f *fakeInstaller) Installed(_ context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, n := range names {
		if v, ok := f.installed[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func (f *fakeInstaller) Install(_ context.Context, set deps.ResolvedSet) (*deps.InstallResult, error) {
	f.calls++
	if f.installed == nil {
		f.installed = make(map[string]string)
	}
	for _, d := range set {
		f.installed[d.Name] = lowestIn(d.Range)
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

func TestBuiltinPluginsEndToEnd(t *testing.T) {
	r := New(nil, Source{Name: "builtin", FS: scaffold.Plugins()})
	plugins, err := r.Resolve([]string{"base", "routes-health", "schema", "sdk-config"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	inst := &fakeInstaller{}
	o := activation.New(activation.Options{
		FSTimeout: time.Second,
		State:     project.Store{},
		Toolchain: func(gw *fsgate.Gateway) (deps.Installer, deps.Manifest) {
			return inst, &pkgmgr.PackageJSON{FS: gw}
		},
		Comparators: map[string]activation.Comparator{pkgmgr.DefaultManifest: pkgmgr.SameIgnoringDependencies},
	})

	root := t.TempDir()
	report, err := o.Run(context.Background(), plugins, root)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	for _, p := range report.Plugins {
		if p.Status != activation.StatusApplied {
			t.Errorf("%s status = %q, want %q", p.PluginID, p.Status, activation.StatusApplied)
		}
	}
	if inst.calls != 1 {
		t.Errorf("install calls = %d, want 1", inst.calls)
	}

	app := readFile(t, root, "src/app.js")
	for _, want := range []string{"app.use(require('./routes/health'));", "app.locals.validate = require('./middleware/validate');"} {
		if !strings.Contains(app, want) {
			t.Errorf("src/app.js missing %q:\n%s", want, app)
		}
	}
	server := readFile(t, root, "src/server.js")
	if !strings.HasPrefix(server, "require('dotenv').config();\nconst app = require('./app');") {
		t.Errorf("src/server.js not patched before anchor:\n%s", server)
	}
	if _, err := os.Stat(filepath.Join(root, "src", "schema", "health.js")); err != nil {
		t.Errorf("schema script did not write src/schema/health.js: %v", err)
	}
	pkg := readFile(t, root, "package.json")
	for _, name := range []string{`"express"`, `"zod"`, `"dotenv"`} {
		if !strings.Contains(pkg, name) {
			t.Errorf("package.json missing %s:\n%s", name, pkg)
		}
	}

	report, err = o.Run(context.Background(), plugins, root)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	for _, p := range report.Plugins {
		if p.Status != activation.StatusAlreadyApplied {
			t.Errorf("second run %s status = %q, want %q", p.PluginID, p.Status, activation.StatusAlreadyApplied)
		}
	}
	if inst.calls != 1 {
		t.Errorf("install calls after second run = %d, want 1", inst.calls)
	}
	if len(report.Written) != 0 {
		t.Errorf("second run Written = %v, want empty", report.Written)
	}
}

func TestInstallAndRemove(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "greeter")
	mustWrite(t, filepath.Join(srcDir, manifest.FileName), "id: greeter\nversion: 1.0.0\ndescription: says hello\nfiles:\n  - path: hello.txt\n    source: hello.txt\n")
	mustWrite(t, filepath.Join(srcDir, "hello.txt"), "hello\n")
	mustWrite(t, filepath.Join(srcDir, "node_modules", "dep", "index.js"), "")
	mustWrite(t, filepath.Join(srcDir, ".DS_Store"), "")

	pluginsDir := t.TempDir()
	p, err := Install(srcDir, pluginsDir)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if p.ID != "greeter" {
		t.Errorf("ID = %q, want %q", p.ID, "greeter")
	}
	if got := readFile(t, pluginsDir, "greeter/hello.txt"); got != "hello\n" {
		t.Errorf("hello.txt = %q", got)
	}
	for _, excluded := range []string{"node_modules", ".DS_Store"} {
		if _, err := os.Stat(filepath.Join(pluginsDir, "greeter", excluded)); !os.IsNotExist(err) {
			t.Errorf("%s should be excluded, stat err = %v", excluded, err)
		}
	}

	r := New(nil, DirSource("home", pluginsDir))
	if _, err := r.Lookup("greeter"); err != nil {
		t.Errorf("Lookup after Install: %v", err)
	}

	if err := Remove("greeter", pluginsDir); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := Remove("greeter", pluginsDir); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("second Remove err = %v, want ErrPluginNotFound", err)
	}
	if err := Remove("../x", pluginsDir); err == nil {
		t.Error("Remove(../x) should fail")
	}
}

func TestInstallRejectsInvalid(t *testing.T) {
	srcDir := t.TempDir()
	mustWrite(t, filepath.Join(srcDir, manifest.FileName), "id: bad\nversion: 1.0.0\ndescription: bad asset\nfiles:\n  - path: a.txt\n    source: missing.txt\n")

	if _, err := Install(srcDir, t.TempDir()); err == nil {
		t.Fatal("expected error for plugin with a missing asset")
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
