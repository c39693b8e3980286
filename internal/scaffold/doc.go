// Package scaffold ships the built-in plugins and generates new plugin
// directories. The built-ins are declarative plugins embedded in the
// binary; Generate powers "kiln plugin new".
package scaffold
