// Package pkgmgr drives the project's package manager. Command batches a
// merged dependency set into one npm, pnpm, yarn or bun invocation, and
// PackageJSON reads and edits the dependencies declared in package.json.
package pkgmgr
