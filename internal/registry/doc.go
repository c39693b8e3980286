// Package registry locates plugins by id. Sources are searched in priority
// order: user plugin directories first, the kiln home next and the
// built-in plugins last, so a local plugin can shadow a built-in one.
package registry
