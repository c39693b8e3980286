package deps

import "strings"

// Requirement is a single package a plugin needs installed.
type Requirement struct {
	Name   string `yaml:"name" json:"name"`
	Range  string `yaml:"range,omitempty" json:"range,omitempty"`
	Plugin string `yaml:"-" json:"plugin,omitempty"`
}

// Spec returns the installer argument for the requirement, e.g. "zod@^3.22.0".
func (r Requirement) Spec() string {
	return spec(r.Name, r.Range)
}

// Resolved is the merged requirement for one package name.
type Resolved struct {
	Name    string   `json:"name"`
	Range   string   `json:"range,omitempty"`
	Plugins []string `json:"plugins"`
}

// Spec returns the installer argument for the resolved requirement.
func (r Resolved) Spec() string {
	return spec(r.Name, r.Range)
}

// ResolvedSet is the merged requirement list in first-declared order.
type ResolvedSet []Resolved

// Names returns the package names in order.
func (s ResolvedSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, r := range s {
		names = append(names, r.Name)
	}
	return names
}

func spec(name, rng string) string {
	rng = strings.TrimSpace(rng)
	if rng == "" || rng == "*" {
		return name
	}
	return name + "@" + rng
}
