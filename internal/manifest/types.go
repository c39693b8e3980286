package manifest

import "github.com/agentx-labs/kiln/internal/deps"

// FileName is the manifest file name inside a plugin directory.
const FileName = "plugin.yaml"

// Plugin is the plugin.yaml structure.
type Plugin struct {
	ID           string       `yaml:"id" json:"id"`
	Version      string       `yaml:"version" json:"version"`
	Description  string       `yaml:"description" json:"description"`
	Author       string       `yaml:"author,omitempty" json:"author,omitempty"`
	Tags         []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Files        []File       `yaml:"files,omitempty" json:"files,omitempty"`
	Patches      []Patch      `yaml:"patches,omitempty" json:"patches,omitempty"`
	// Script is a Lua file, relative to the plugin directory, whose
	// activate function runs after the declared files and patches.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// Dir is the directory the manifest was loaded from.
	Dir string `yaml:"-" json:"-"`
}

// Dependency is a package the plugin needs.
type Dependency struct {
	Name  string `yaml:"name" json:"name"`
	Range string `yaml:"range,omitempty" json:"range,omitempty"`
}

// File is a template the plugin materializes. Exactly one of Source (a
// path under the plugin directory) and Content is set.
type File struct {
	Path    string `yaml:"path" json:"path"`
	Mode    string `yaml:"mode,omitempty" json:"mode,omitempty"`
	Source  string `yaml:"source,omitempty" json:"source,omitempty"`
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
	Perm    string `yaml:"perm,omitempty" json:"perm,omitempty"`
}

// Patch is an anchored insertion into an earlier plugin's output.
type Patch struct {
	Target    string `yaml:"target" json:"target"`
	Anchor    string `yaml:"anchor" json:"anchor"`
	Regexp    bool   `yaml:"regexp,omitempty" json:"regexp,omitempty"`
	Insertion string `yaml:"insertion" json:"insertion"`
	Token     string `yaml:"token,omitempty" json:"token,omitempty"`
	Placement string `yaml:"placement,omitempty" json:"placement,omitempty"`
	Optional  bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Requirements returns the declared dependencies attributed to the plugin.
func (p *Plugin) Requirements() []deps.Requirement {
	out := make([]deps.Requirement, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		out = append(out, deps.Requirement{Name: d.Name, Range: d.Range, Plugin: p.ID})
	}
	return out
}
