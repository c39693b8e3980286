package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/agentx-labs/kiln/internal/activation"
)

// renderReport prints a human-readable summary of a run.
func renderReport(w io.Writer, r *activation.Report) error {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Activation"), faintStyle.Render(r.RunID.String()))
	fmt.Fprintf(w, "Root: %s\n\n", r.Root)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tSTATUS\tCHANGED")
	for _, p := range r.Plugins {
		changed := 0
		for _, op := range p.Operations {
			if op.Changed() {
				changed++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\n", p.PluginID, statusStyle(p.Status).Render(string(p.Status)), changed, len(p.Operations))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if in := r.Install; in != nil {
		fmt.Fprintln(w)
		switch {
		case len(in.Requested) == 0:
			fmt.Fprintln(w, "Dependencies: none requested")
		case len(in.Delta) == 0 && !in.Ran:
			fmt.Fprintf(w, "Dependencies: %d requested, already satisfied\n", len(in.Requested))
		default:
			specs := make([]string, 0, len(in.Delta))
			for _, d := range in.Delta {
				specs = append(specs, d.Spec())
			}
			fmt.Fprintf(w, "Dependencies: %d requested, installing %s\n", len(in.Requested), strings.Join(specs, " "))
			if len(in.Command) > 0 {
				fmt.Fprintf(w, "  %s %s\n", faintStyle.Render("$"), strings.Join(in.Command, " "))
			}
			if in.Ran && in.ExitCode != 0 {
				fmt.Fprintf(w, "  exit code %d\n", in.ExitCode)
			}
			if in.ExitCode != 0 && in.Stderr != "" {
				fmt.Fprintln(w, faintStyle.Render(indent(strings.TrimRight(in.Stderr, "\n"), "  ")))
			}
		}
	}

	fmt.Fprintln(w)
	if len(r.Written) > 0 {
		fmt.Fprintf(w, "Written (%d):\n", len(r.Written))
		for _, p := range r.Written {
			fmt.Fprintf(w, "  %s\n", p)
		}
	} else {
		fmt.Fprintln(w, "No files changed.")
	}

	if !r.Success {
		msg := r.Error
		if r.FailedPlugin != "" {
			msg = fmt.Sprintf("%s failed: %s", r.FailedPlugin, r.Error)
		}
		fmt.Fprintln(w, errorStyle.Render("\n✗ "+msg))
		return nil
	}
	fmt.Fprintf(w, "\n%s %d applied, %d already applied\n",
		statusStyle(activation.StatusApplied).Render("✓"),
		r.Counts()[activation.StatusApplied], r.Counts()[activation.StatusAlreadyApplied])
	return nil
}

func renderReportJSON(w io.Writer, r *activation.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
