package project

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/agentx-labs/kiln/internal/fsgate"
)

const (
	kilnDir     = ".kiln"
	projectFile = "project.yaml"
)

// RecordPath is the record location relative to the project root.
var RecordPath = path.Join(kilnDir, projectFile)

// Record is the .kiln/project.yaml structure.
type Record struct {
	Plugins []string        `yaml:"plugins"`
	Files   map[string]File `yaml:"files,omitempty"`
}

// File is the recorded state of one touched file. Plugin names the plugin
// that created it and is empty for files kiln only patched or appended to.
type File struct {
	Digest string `yaml:"digest"`
	Plugin string `yaml:"plugin,omitempty"`
}

// Digest returns the hex sha256 of data as stored in Record.Files.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConfigPath returns the full path to .kiln/project.yaml for a project.
func ConfigPath(projectPath string) string {
	return filepath.Join(projectPath, kilnDir, projectFile)
}

// Load reads the record of the project at projectPath. A project that was
// never activated yields an error matching fs.ErrNotExist.
func Load(projectPath string) (*Record, error) {
	data, err := os.ReadFile(ConfigPath(projectPath))
	if err != nil {
		return nil, fmt.Errorf("reading project record: %w", err)
	}
	return parse(data)
}

// LoadFS reads the record through a gateway. ok is false when none exists.
func LoadFS(ctx context.Context, gw *fsgate.Gateway) (*Record, bool, error) {
	data, ok, err := gw.ReadFileIfExists(ctx, RecordPath)
	if err != nil {
		return nil, false, fmt.Errorf("reading project record: %w", err)
	}
	if !ok {
		return &Record{}, false, nil
	}
	rec, err := parse(data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// SaveFS writes the record through a gateway. An unchanged record is not
// rewritten.
func SaveFS(ctx context.Context, gw *fsgate.Gateway, rec *Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling project record: %w", err)
	}
	current, ok, err := gw.ReadFileIfExists(ctx, RecordPath)
	if err != nil {
		return fmt.Errorf("reading project record: %w", err)
	}
	if ok && bytes.Equal(current, data) {
		return nil
	}
	if err := gw.WriteFile(ctx, RecordPath, data, 0o644); err != nil {
		return fmt.Errorf("writing project record: %w", err)
	}
	return nil
}

// Merge adds applied plugins and file states to the record. Plugins keep
// their first-applied order. A file keeps its recorded creator unless the
// new state names one.
func (r *Record) Merge(applied []string, files map[string]File) {
	for _, id := range applied {
		if !slices.Contains(r.Plugins, id) {
			r.Plugins = append(r.Plugins, id)
		}
	}
	if len(files) == 0 {
		return
	}
	if r.Files == nil {
		r.Files = make(map[string]File, len(files))
	}
	for p, f := range files {
		if f.Plugin == "" {
			f.Plugin = r.Files[p].Plugin
		}
		r.Files[p] = f
	}
}

// FileState is the drift of one recorded file.
type FileState struct {
	Path     string `json:"path"`
	Modified bool   `json:"modified,omitempty"`
	Missing  bool   `json:"missing,omitempty"`
}

// Drift compares the recorded digests with the files under projectPath.
func (r *Record) Drift(projectPath string) ([]FileState, error) {
	paths := make([]string, 0, len(r.Files))
	for p := range r.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]FileState, 0, len(paths))
	for _, p := range paths {
		st := FileState{Path: p}
		data, err := os.ReadFile(filepath.Join(projectPath, filepath.FromSlash(p)))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			st.Missing = true
		case err != nil:
			return nil, fmt.Errorf("reading %s: %w", p, err)
		default:
			st.Modified = Digest(data) != r.Files[p].Digest
		}
		out = append(out, st)
	}
	return out, nil
}

func parse(data []byte) (*Record, error) {
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing project record: %w", err)
	}
	return &rec, nil
}
