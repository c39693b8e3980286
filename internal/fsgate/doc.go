// Package fsgate is the root-scoped filesystem gateway used by the activation
// engine. Every path is resolved against a single root directory and rejected
// if it escapes it. Writes go to a temporary file in the destination directory
// and are renamed into place, so readers never observe a truncated file.
package fsgate
