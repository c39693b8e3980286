package pkgmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/fsgate"
)

// DefaultManifest is the manifest file name of an npm-family project.
const DefaultManifest = "package.json"

// ErrInvalidManifest is returned when package.json is not valid JSON.
var ErrInvalidManifest = errors.New("invalid package.json")

// declaredSections are the objects searched for an existing declaration.
var declaredSections = []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"}

// PackageJSON is a package.json in the target project. It implements
// deps.Manifest. Edits keep key order and are written atomically through
// the gateway.
type PackageJSON struct {
	FS   *fsgate.Gateway
	Path string
}

var _ deps.Manifest = (*PackageJSON)(nil)

// Declared returns every dependency spec in the manifest. A missing
// manifest declares nothing.
func (p *PackageJSON) Declared(ctx context.Context) (map[string]string, error) {
	data, ok, err := p.FS.ReadFileIfExists(ctx, p.path())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if !ok {
		return out, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: %w", p.path(), ErrInvalidManifest)
	}
	doc := gjson.ParseBytes(data)
	for _, section := range declaredSections {
		doc.Get(section).ForEach(func(key, value gjson.Result) bool {
			if _, seen := out[key.String()]; !seen {
				out[key.String()] = value.String()
			}
			return true
		})
	}
	return out, nil
}

// Snapshot captures the manifest bytes.
func (p *PackageJSON) Snapshot(ctx context.Context) (deps.Snapshot, error) {
	data, ok, err := p.FS.ReadFileIfExists(ctx, p.path())
	if err != nil {
		return deps.Snapshot{}, err
	}
	return deps.Snapshot{Data: data, Exists: ok}, nil
}

// Restore writes a snapshot back. A snapshot of a missing manifest removes
// any manifest created since.
func (p *PackageJSON) Restore(ctx context.Context, s deps.Snapshot) error {
	if !s.Exists {
		return p.FS.Remove(ctx, p.path())
	}
	return p.FS.WriteFile(ctx, p.path(), s.Data, 0)
}

// Declare sets each requirement under "dependencies". An empty range keeps
// a spec the package manager already saved, or falls back to "*".
func (p *PackageJSON) Declare(ctx context.Context, set deps.ResolvedSet) error {
	if len(set) == 0 {
		return nil
	}
	data, ok, err := p.FS.ReadFileIfExists(ctx, p.path())
	if err != nil {
		return err
	}
	if !ok || len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}\n")
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%s: %w", p.path(), ErrInvalidManifest)
	}

	current := gjson.GetBytes(data, "dependencies")
	for _, r := range set {
		value := r.Range
		if value == "" {
			existing := current.Get(escapeKey(r.Name))
			if existing.Exists() {
				continue
			}
			value = "*"
		}
		data, err = sjson.SetBytes(data, "dependencies."+escapeKey(r.Name), value)
		if err != nil {
			return fmt.Errorf("declaring %s: %w", r.Name, err)
		}
	}
	return p.FS.WriteFile(ctx, p.path(), format(data), 0)
}

func (p *PackageJSON) path() string {
	if p.Path == "" {
		return DefaultManifest
	}
	return p.Path
}

// SameIgnoringDependencies reports whether two package.json documents are
// equal once their "dependencies" objects and formatting are disregarded.
// Documents that are not valid JSON compare byte for byte.
func SameIgnoringDependencies(a, b []byte) bool {
	if !gjson.ValidBytes(a) || !gjson.ValidBytes(b) {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(stripDependencies(a), stripDependencies(b))
}

func stripDependencies(data []byte) []byte {
	out, err := sjson.DeleteBytes(data, "dependencies")
	if err != nil {
		out = data
	}
	return pretty.Ugly(out)
}

// format pretty-prints the document with two-space indentation.
func format(data []byte) []byte {
	return pretty.PrettyOptions(data, &pretty.Options{Width: 80, Prefix: "", Indent: "  ", SortKeys: false})
}

// escapeKey escapes characters that gjson and sjson treat as path syntax.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
