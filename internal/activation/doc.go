// Package activation runs plugins against a target directory.
//
// An Orchestrator invokes each plugin's Activate in caller order with a
// shared Context. Plugins write files and patch earlier output only through
// that Context, which enforces idempotency and collision rules and records
// every committed operation. Once every plugin has succeeded the merged
// dependency set is installed in a single pass.
package activation
