package activation

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentx-labs/kiln/internal/deps"
)

// Status is the outcome of one plugin in a run.
type Status string

const (
	StatusPending        Status = "pending"
	StatusApplied        Status = "applied"
	StatusAlreadyApplied Status = "already-applied"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
)

// PluginResult is one plugin's entry in a Report.
type PluginResult struct {
	PluginID   string     `json:"plugin"`
	Status     Status     `json:"status"`
	Operations []OpResult `json:"operations,omitempty"`
	Err        error      `json:"-"`
	Error      string     `json:"error,omitempty"`
}

// InstallSummary describes the consolidated dependency pass.
type InstallSummary struct {
	Requested deps.ResolvedSet `json:"requested"`
	Delta     deps.ResolvedSet `json:"delta"`
	Ran       bool             `json:"ran"`
	Command   []string         `json:"command,omitempty"`
	ExitCode  int              `json:"exit_code"`
	Stdout    string           `json:"stdout,omitempty"`
	Stderr    string           `json:"stderr,omitempty"`
}

// Report is the result of a run.
type Report struct {
	RunID        uuid.UUID       `json:"run_id"`
	Root         string          `json:"root"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Plugins      []PluginResult  `json:"plugins"`
	Success      bool            `json:"success"`
	Err          error           `json:"-"`
	Error        string          `json:"error,omitempty"`
	FailedPlugin string          `json:"failed_plugin,omitempty"`
	Install      *InstallSummary `json:"install,omitempty"`
	Written      []string        `json:"written"`
}

func newReport(root string, plugins []Plugin) *Report {
	r := &Report{
		RunID:     uuid.New(),
		Root:      root,
		StartedAt: time.Now(),
		Plugins:   make([]PluginResult, len(plugins)),
	}
	for i, p := range plugins {
		id := ""
		if p != nil {
			id = p.ID()
		}
		r.Plugins[i] = PluginResult{PluginID: id, Status: StatusPending}
	}
	return r
}

// Result returns the entry for plugin id.
func (r *Report) Result(id string) (PluginResult, bool) {
	for _, p := range r.Plugins {
		if p.PluginID == id {
			return p, true
		}
	}
	return PluginResult{}, false
}

// Counts tallies plugins by status.
func (r *Report) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, p := range r.Plugins {
		out[p.Status]++
	}
	return out
}

// skipFrom marks every still-pending plugin from index i on as skipped.
func (r *Report) skipFrom(i int) {
	for ; i < len(r.Plugins); i++ {
		if r.Plugins[i].Status == StatusPending {
			r.Plugins[i].Status = StatusSkipped
		}
	}
}

func (r *Report) fail(plugin string, err error) {
	r.Err = err
	r.Error = err.Error()
	r.FailedPlugin = plugin
}

func (r *Report) finish(written []string) {
	r.skipFrom(0)
	r.Written = written
	if r.Written == nil {
		r.Written = []string{}
	}
	r.Success = r.Err == nil
	r.FinishedAt = time.Now()
}
