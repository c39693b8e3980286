// Package manifest parses and validates plugin.yaml, the declarative form
// of a kiln plugin. Manifests are checked against an embedded JSON Schema
// and then linted for version, range and anchor syntax.
package manifest
