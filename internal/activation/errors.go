package activation

import (
	"errors"
	"fmt"

	"github.com/agentx-labs/kiln/internal/deps"
)

// Activation errors.
var (
	// ErrPreconditionFailed is returned when the run cannot start, for
	// example because the root is missing or not writable.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrPathCollision is returned when a Create would clobber a file it
	// does not own.
	ErrPathCollision = errors.New("path collision")

	// ErrAnchorNotFound is returned when a patch target or anchor is missing.
	ErrAnchorNotFound = errors.New("anchor not found")

	// ErrEmptyInsertion is returned for a patch with nothing to insert.
	ErrEmptyInsertion = errors.New("empty patch insertion")

	// ErrTimeout is returned when a filesystem or installer call exceeds
	// its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrActivationFailed wraps any error returned by a plugin.
	ErrActivationFailed = errors.New("plugin activation failed")

	// ErrDependencyConflict is returned when merged ranges do not overlap.
	ErrDependencyConflict = deps.ErrDependencyConflict

	// ErrInstallFailed is returned when the consolidated install fails.
	ErrInstallFailed = deps.ErrInstallFailed
)

// PreconditionError describes why a run was refused.
type PreconditionError struct {
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precondition failed: %s: %v", e.Reason, e.Err)
	}
	return "precondition failed: " + e.Reason
}

func (e *PreconditionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPreconditionFailed}
	}
	return []error{ErrPreconditionFailed, e.Err}
}

// CollisionError names the contested path. Owner is the plugin that created
// the path earlier in the run, or empty when the file predates the run.
type CollisionError struct {
	Path   string
	Plugin string
	Owner  string
}

func (e *CollisionError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("path collision: %s already exists with different content", e.Path)
	}
	return fmt.Sprintf("path collision: %s was already created by %s", e.Path, e.Owner)
}

func (e *CollisionError) Unwrap() error { return ErrPathCollision }

// AnchorError names the patch target and anchor that could not be found.
type AnchorError struct {
	Target      string
	Anchor      string
	MissingFile bool
}

func (e *AnchorError) Error() string {
	if e.MissingFile {
		return fmt.Sprintf("anchor not found: patch target %s does not exist", e.Target)
	}
	return fmt.Sprintf("anchor not found: %q in %s", e.Anchor, e.Target)
}

func (e *AnchorError) Unwrap() error { return ErrAnchorNotFound }

// TimeoutError wraps the call that ran out of time.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "timeout: " + e.Err.Error() }

func (e *TimeoutError) Unwrap() []error { return []error{ErrTimeout, e.Err} }

// ActivationError wraps the cause of a failed plugin.
type ActivationError struct {
	Plugin string
	Err    error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *ActivationError) Unwrap() []error { return []error{ErrActivationFailed, e.Err} }
