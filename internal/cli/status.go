package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/project"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <dir>",
	Short: "Show the plugins applied to a project and files changed since",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Root    string              `json:"root"`
	Plugins []string            `json:"plugins"`
	Files   []project.FileState `json:"files"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	rec, err := project.Load(root)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has not been activated yet.\n", root)
		return nil
	}
	if err != nil {
		return err
	}
	drift, err := rec.Drift(root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		data, err := json.MarshalIndent(statusOutput{Root: root, Plugins: rec.Plugins, Files: drift}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	if len(rec.Plugins) == 0 {
		fmt.Fprintf(out, "No plugins recorded in %s\n", project.ConfigPath(root))
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Plugins:"), strings.Join(rec.Plugins, ", "))

	var changed int
	for _, f := range drift {
		switch {
		case f.Missing:
			changed++
			fmt.Fprintf(out, "  %s %s\n", statusStyle(activation.StatusFailed).Render("missing "), f.Path)
		case f.Modified:
			changed++
			fmt.Fprintf(out, "  %s %s\n", statusStyle(activation.StatusSkipped).Render("modified"), f.Path)
		}
	}
	if changed == 0 {
		fmt.Fprintf(out, "All %d recorded files match the last run.\n", len(drift))
	}
	return nil
}
