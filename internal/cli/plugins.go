package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/kiln/internal/registry"
)

var (
	pluginsTags []string
	pluginsJSON bool
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect available plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List plugins from every source",
	Long: `List the plugins kiln can activate. Sources are searched in priority order:
configured plugin_paths, ~/.kiln/plugins, then the built-in plugins. A plugin
defined in more than one source is shown once, from its highest-priority source.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPluginsList,
}

func init() {
	pluginsListCmd.Flags().StringSliceVar(&pluginsTags, "tag", nil, "Filter by tag (repeatable, matches any)")
	pluginsListCmd.Flags().BoolVar(&pluginsJSON, "json", false, "Output in JSON format")
	pluginsCmd.AddCommand(pluginsListCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	all, err := newRegistry().List()
	if err != nil {
		return fmt.Errorf("listing plugins: %w", err)
	}
	var entries []registry.Entry
	for _, e := range all {
		if matchesSearch(e, query, pluginsTags) {
			entries = append(entries, e)
		}
	}

	if pluginsJSON {
		if entries == nil {
			entries = []registry.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching plugins.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSOURCE\tDESCRIPTION")
	for _, e := range entries {
		source := e.Source
		if len(e.Shadowed) > 0 {
			source += " (shadows " + strings.Join(e.Shadowed, ", ") + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Version, source, e.Description)
	}
	return w.Flush()
}

// matchesSearch reports whether e matches a case-insensitive substring
// query on id or description and carries any of tags.
func matchesSearch(e registry.Entry, query string, tags []string) bool {
	if len(tags) > 0 && !matchesAnyTag(e.Tags, tags) {
		return false
	}
	if query != "" {
		q := strings.ToLower(query)
		if !strings.Contains(strings.ToLower(e.ID), q) &&
			!strings.Contains(strings.ToLower(e.Description), q) {
			return false
		}
	}
	return true
}

func matchesAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
