// Package luaplugin runs plugin activation scripts written in Lua.
//
// A script defines a global activate(kiln) function. The kiln table exposes
// the activation context: write, patch, exists, read, require and asset.
// Scripts run in a sandboxed state with only the base, table, string and
// math libraries; there is no io, os or module loading.
package luaplugin
