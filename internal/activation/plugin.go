package activation

import (
	"context"

	"github.com/agentx-labs/kiln/internal/deps"
)

// Plugin contributes files, patches and dependencies to a project.
type Plugin interface {
	// ID uniquely names the plugin within a run.
	ID() string
	// Dependencies lists the packages the plugin always needs.
	Dependencies() []deps.Requirement
	// Activate performs the plugin's operations through ac. Returning an
	// error fails the run.
	Activate(ctx context.Context, ac *Context) error
}

// Func adapts a function to a Plugin.
type Func struct {
	Name     string
	Requires []deps.Requirement
	Run      func(ctx context.Context, ac *Context) error
}

func (f *Func) ID() string { return f.Name }

func (f *Func) Dependencies() []deps.Requirement { return f.Requires }

func (f *Func) Activate(ctx context.Context, ac *Context) error {
	if f.Run == nil {
		return nil
	}
	return f.Run(ctx, ac)
}
