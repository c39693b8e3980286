package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strconv"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/luaplugin"
	"github.com/agentx-labs/kiln/internal/manifest"
)

// Declarative is a plugin defined by a plugin.yaml. Activation writes the
// declared files in one batch, applies the patches in order and then runs
// the optional script.
type Declarative struct {
	Manifest *manifest.Plugin
	FS       fs.FS
	Dir      string
	Source   string
	Logger   *slog.Logger
}

var _ activation.Plugin = (*Declarative)(nil)

func (d *Declarative) ID() string { return d.Manifest.ID }

func (d *Declarative) Dependencies() []deps.Requirement { return d.Manifest.Requirements() }

// Activate materializes the manifest through ac.
func (d *Declarative) Activate(ctx context.Context, ac *activation.Context) error {
	ops, err := d.FileOperations()
	if err != nil {
		return err
	}
	if _, err := ac.WriteAll(ctx, ops...); err != nil {
		return err
	}
	if _, err := ac.PatchAll(ctx, d.PatchOperations()...); err != nil {
		return err
	}
	if d.Manifest.Script == "" {
		return nil
	}

	src, err := fs.ReadFile(d.FS, path.Join(d.Dir, d.Manifest.Script))
	if err != nil {
		return fmt.Errorf("reading script %s: %w", d.Manifest.Script, err)
	}
	assets, err := fs.Sub(d.FS, d.Dir)
	if err != nil {
		return fmt.Errorf("opening plugin directory %s: %w", d.Dir, err)
	}
	script := &luaplugin.Script{
		Name:   path.Join(d.Dir, d.Manifest.Script),
		Source: src,
		Assets: assets,
		Logger: d.Logger,
	}
	return script.Run(ctx, ac)
}

// FileOperations renders the manifest's files with their asset contents.
func (d *Declarative) FileOperations() ([]activation.FileOperation, error) {
	ops := make([]activation.FileOperation, 0, len(d.Manifest.Files))
	for _, f := range d.Manifest.Files {
		mode, err := activation.ParseMode(f.Mode)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", f.Path, err)
		}
		content := []byte(f.Content)
		if f.Source != "" {
			content, err = fs.ReadFile(d.FS, path.Join(d.Dir, f.Source))
			if err != nil {
				return nil, fmt.Errorf("reading asset %s: %w", f.Source, err)
			}
		}
		var perm os.FileMode
		if f.Perm != "" {
			n, err := strconv.ParseUint(f.Perm, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("file %s: parsing perm %q: %w", f.Path, f.Perm, err)
			}
			perm = os.FileMode(n)
		}
		ops = append(ops, activation.FileOperation{Path: f.Path, Content: content, Mode: mode, Perm: perm})
	}
	return ops, nil
}

// PatchOperations converts the manifest's patches.
func (d *Declarative) PatchOperations() []activation.PatchOperation {
	ops := make([]activation.PatchOperation, 0, len(d.Manifest.Patches))
	for _, p := range d.Manifest.Patches {
		op := activation.PatchOperation{
			Target:    p.Target,
			Anchor:    p.Anchor,
			Regexp:    p.Regexp,
			Insertion: p.Insertion,
			Token:     p.Token,
			Optional:  p.Optional,
		}
		if p.Placement == "before" {
			op.Placement = activation.Before
		}
		ops = append(ops, op)
	}
	return ops
}
