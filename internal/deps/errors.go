package deps

import (
	"errors"
	"fmt"
	"strings"
)

// Dependency errors.
var (
	// ErrDependencyConflict is returned when two requirements for the same
	// package have no version in common.
	ErrDependencyConflict = errors.New("dependency conflict")

	// ErrInvalidRange is returned when a requirement range cannot be parsed.
	ErrInvalidRange = errors.New("invalid version range")

	// ErrInstallFailed is returned when the installer reports a failure.
	ErrInstallFailed = errors.New("dependency install failed")

	// ErrInstallTimeout is returned when the installer exceeds its deadline.
	ErrInstallTimeout = errors.New("dependency install timed out")
)

// Claim is one plugin's range for a package.
type Claim struct {
	Plugin string
	Range  string
}

// ConflictError names the package whose ranges cannot be satisfied together
// and every plugin that asked for it.
type ConflictError struct {
	Name   string
	Claims []Claim
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Claims))
	for _, c := range e.Claims {
		rng := c.Range
		if rng == "" {
			rng = "*"
		}
		parts = append(parts, fmt.Sprintf("%s wants %q", c.Plugin, rng))
	}
	return fmt.Sprintf("dependency conflict on %s: %s", e.Name, strings.Join(parts, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrDependencyConflict }

// Plugins returns the ids of the plugins involved in the conflict.
func (e *ConflictError) Plugins() []string {
	ids := make([]string, 0, len(e.Claims))
	for _, c := range e.Claims {
		ids = append(ids, c.Plugin)
	}
	return ids
}

// InstallError carries the installer's captured output for a failed pass.
type InstallError struct {
	Result *InstallResult
	Err    error
}

func (e *InstallError) Error() string {
	if e.Result != nil && e.Result.ExitCode != 0 {
		return fmt.Sprintf("dependency install failed (exit %d): %v", e.Result.ExitCode, e.Err)
	}
	return fmt.Sprintf("dependency install failed: %v", e.Err)
}

func (e *InstallError) Unwrap() []error { return []error{ErrInstallFailed, e.Err} }
