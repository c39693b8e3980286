package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Parse reads a plugin.yaml file. path may be the manifest itself or the
// plugin directory holding it.
func Parse(path string) (*Plugin, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseBytes(data, path)
	if err != nil {
		return nil, err
	}
	p.Dir = filepath.Dir(path)
	return p, nil
}

// ParseBytes parses manifest YAML. source names the input in errors.
func ParseBytes(data []byte, source string) (*Plugin, error) {
	var p Plugin
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", source, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("parsing manifest %s: missing required 'id' field", source)
	}
	return &p, nil
}

// readFile reads the contents of a file at the given path.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}

// ParseFS reads dir/plugin.yaml from fsys. The manifest is checked against
// the schema and linted; any issue is returned as an *InvalidError.
func ParseFS(fsys fs.FS, dir string) (*Plugin, error) {
	name := path.Join(dir, FileName)
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", name, err)
	}
	result, err := Validate(data)
	if err != nil {
		return nil, fmt.Errorf("validating %s: %w", name, err)
	}
	if !result.Valid {
		return nil, &InvalidError{Source: name, Issues: result.Issues}
	}
	p, err := ParseBytes(data, name)
	if err != nil {
		return nil, err
	}
	if issues := Lint(p); len(issues) > 0 {
		return nil, &InvalidError{Source: name, Issues: issues}
	}
	return p, nil
}

// InvalidError lists the problems found in a manifest.
type InvalidError struct {
	Source string
	Issues []ValidationIssue
}

func (e *InvalidError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msg := issue.Message
		if issue.Path != "" {
			msg = issue.Path + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	return fmt.Sprintf("invalid manifest %s: %s", e.Source, strings.Join(msgs, "; "))
}
