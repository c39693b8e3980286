package project

import (
	"context"

	"github.com/agentx-labs/kiln/internal/fsgate"
)

// Store keeps run state in the project record. It satisfies the state
// interface the activation orchestrator consumes.
type Store struct{}

// Files returns the recorded file states.
func (Store) Files(ctx context.Context, gw *fsgate.Gateway) (map[string]File, error) {
	rec, _, err := LoadFS(ctx, gw)
	if err != nil {
		return nil, err
	}
	return rec.Files, nil
}

// Save merges a run's applied plugins and file states into the record.
func (Store) Save(ctx context.Context, gw *fsgate.Gateway, applied []string, files map[string]File) error {
	rec, _, err := LoadFS(ctx, gw)
	if err != nil {
		return err
	}
	rec.Merge(applied, files)
	return SaveFS(ctx, gw, rec)
}
