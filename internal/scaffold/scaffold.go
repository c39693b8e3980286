package scaffold

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/agentx-labs/kiln/internal/manifest"
)

// SkeletonData holds all template variables available to skeleton templates.
type SkeletonData struct {
	ID          string // e.g., "routes-metrics"
	Version     string // Semver, e.g., "0.1.0"
	Description string
	Author      string
	Script      bool // generate activate.lua and reference it
}

// Result holds the outcome of a skeleton generation.
type Result struct {
	OutputDir string
	Files     []string
	Warnings  []string
}

// NewSkeletonData creates a SkeletonData with defaults populated.
func NewSkeletonData(id string, script bool) *SkeletonData {
	return &SkeletonData{
		ID:          id,
		Version:     "0.1.0",
		Description: fmt.Sprintf("kiln plugin %s", id),
		Script:      script,
	}
}

// Generate writes a new plugin directory at outputDir from the skeleton
// templates and validates the resulting manifest.
func Generate(data *SkeletonData, outputDir string) (*Result, error) {
	entries, err := fs.ReadDir(skeletonFS, "skeleton")
	if err != nil {
		return nil, fmt.Errorf("reading skeleton: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	// Check for existing files to prevent accidental overwrites.
	existingEntries, err := os.ReadDir(outputDir)
	if err == nil && len(existingEntries) > 0 {
		return nil, fmt.Errorf("output directory %s is not empty; remove existing files first", outputDir)
	}

	result := &Result{OutputDir: outputDir}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		outName := strings.TrimSuffix(entry.Name(), ".tmpl")
		if outName == "activate.lua" && !data.Script {
			continue
		}

		tmplBytes, err := fs.ReadFile(skeletonFS, path.Join("skeleton", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", entry.Name(), err)
		}
		tmpl, err := template.New(entry.Name()).Parse(string(tmplBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", entry.Name(), err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("executing template %s: %w", entry.Name(), err)
		}

		outPath := filepath.Join(outputDir, outName)
		if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", outPath, err)
		}
		result.Files = append(result.Files, outName)
	}

	valResult, valErr := manifest.ValidateFile(filepath.Join(outputDir, manifest.FileName))
	if valErr != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Could not validate manifest: %v", valErr))
	} else if !valResult.Valid {
		for _, issue := range valResult.Issues {
			msg := issue.Message
			if issue.Path != "" {
				msg = issue.Path + ": " + msg
			}
			result.Warnings = append(result.Warnings, msg)
		}
	}

	return result, nil
}
