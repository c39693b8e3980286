package luaplugin

import "errors"

// Script errors.
var (
	// ErrNoEntryPoint is returned when a script defines no activate function.
	ErrNoEntryPoint = errors.New("script has no activate function")

	// ErrScriptFailed is returned when a script raises a Lua error.
	ErrScriptFailed = errors.New("script failed")
)
