package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/agentx-labs/kiln/internal/deps"
)

//go:embed schema/plugin.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// ValidationResult contains the outcome of a validation.
type ValidationResult struct {
	Valid  bool
	Issues []ValidationIssue
}

// ValidationIssue represents a single problem found in a manifest.
type ValidationIssue struct {
	Path    string // Instance location (e.g., "/id", "/files/0/mode")
	Message string
	Keyword string // Schema keyword or lint rule that failed
}

// getSchema compiles the embedded JSON schema once and returns it.
func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("plugin.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("plugin.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// Validate validates raw YAML bytes against the plugin JSON schema.
// The error return is for parse or schema compilation failures.
// Validation issues are returned in the ValidationResult.
func Validate(data []byte) (*ValidationResult, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	// Round-trip through JSON so numbers reach the validator as json.Number.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting to JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("preparing JSON for validation: %w", err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return &ValidationResult{Valid: true}, nil
	}

	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, fmt.Errorf("unexpected validation error type: %w", err)
	}
	return &ValidationResult{Issues: extractIssues(validationErr)}, nil
}

// ValidateFile reads a manifest, validates it against the schema and, when
// the schema accepts it, lints it against the plugin directory.
func ValidateFile(path string) (*ValidationResult, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	result, err := Validate(data)
	if err != nil || !result.Valid {
		return result, err
	}

	p, err := ParseBytes(data, path)
	if err != nil {
		return nil, err
	}
	p.Dir = filepath.Dir(path)
	if issues := Lint(p); len(issues) > 0 {
		return &ValidationResult{Issues: issues}, nil
	}
	return result, nil
}

// Lint checks what the schema cannot express: semver syntax, dependency
// ranges, anchor patterns, local paths and, when Dir is set, that referenced
// assets exist.
func Lint(p *Plugin) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, keyword, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Keyword: keyword, Message: printer.Sprintf(format, args...)})
	}

	if _, err := semver.StrictNewVersion(p.Version); err != nil {
		add("/version", "semver", "%q is not a semantic version", p.Version)
	}
	for i, d := range p.Dependencies {
		if err := deps.ValidateRange(d.Range); err != nil {
			add(fmt.Sprintf("/dependencies/%d/range", i), "range", "%q is not a valid version range", d.Range)
		}
	}
	for i, f := range p.Files {
		loc := fmt.Sprintf("/files/%d", i)
		if !filepath.IsLocal(filepath.FromSlash(f.Path)) {
			add(loc+"/path", "local", "%q must be relative and stay inside the project", f.Path)
		}
		if f.Perm != "" {
			if _, err := strconv.ParseUint(f.Perm, 8, 32); err != nil {
				add(loc+"/perm", "perm", "%q is not an octal file mode", f.Perm)
			}
		}
		if f.Source != "" && p.Dir != "" && !assetExists(p.Dir, f.Source) {
			add(loc+"/source", "asset", "asset %q not found in %s", f.Source, p.Dir)
		}
	}
	for i, pt := range p.Patches {
		loc := fmt.Sprintf("/patches/%d", i)
		if !filepath.IsLocal(filepath.FromSlash(pt.Target)) {
			add(loc+"/target", "local", "%q must be relative and stay inside the project", pt.Target)
		}
		if pt.Regexp {
			if _, err := regexp.Compile(pt.Anchor); err != nil {
				add(loc+"/anchor", "regexp", "anchor does not compile: %v", err)
			}
		}
	}
	if p.Script != "" && p.Dir != "" && !assetExists(p.Dir, p.Script) {
		add("/script", "asset", "script %q not found in %s", p.Script, p.Dir)
	}
	return issues
}

func assetExists(dir, rel string) bool {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

// extractIssues walks the ValidationError tree and returns leaf-level issues.
func extractIssues(ve *jsonschema.ValidationError) []ValidationIssue {
	var issues []ValidationIssue
	collectValidationIssues(ve, &issues)

	if len(issues) == 0 {
		return []ValidationIssue{{
			Message: ve.Error(),
		}}
	}
	return deduplicateIssues(issues)
}

// collectValidationIssues recursively walks the error tree to find leaf errors
// with specific property information.
func collectValidationIssues(ve *jsonschema.ValidationError, issues *[]ValidationIssue) {
	if len(ve.Causes) == 0 {
		path := "/" + strings.Join(ve.InstanceLocation, "/")
		if len(ve.InstanceLocation) == 0 {
			path = ""
		}

		keyword := ""
		if ve.ErrorKind != nil {
			kwPath := ve.ErrorKind.KeywordPath()
			if len(kwPath) > 0 {
				keyword = kwPath[len(kwPath)-1]
			}
		}

		msg := ""
		if ve.ErrorKind != nil {
			msg = ve.ErrorKind.LocalizedString(printer)
		}

		// Skip generic container errors that aren't informative.
		if keyword == "oneOf" || keyword == "allOf" || keyword == "$ref" || keyword == "" {
			return
		}

		*issues = append(*issues, ValidationIssue{
			Path:    path,
			Message: msg,
			Keyword: keyword,
		})
		return
	}

	for _, cause := range ve.Causes {
		collectValidationIssues(cause, issues)
	}
}

// deduplicateIssues removes duplicate issues (same path + keyword + message).
func deduplicateIssues(issues []ValidationIssue) []ValidationIssue {
	seen := make(map[string]bool)
	var result []ValidationIssue
	for _, issue := range issues {
		key := issue.Path + "|" + issue.Keyword + "|" + issue.Message
		if !seen[key] {
			seen[key] = true
			result = append(result, issue)
		}
	}
	return result
}
