package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/config"
	"github.com/agentx-labs/kiln/internal/manifest"
	"github.com/agentx-labs/kiln/internal/registry"
	"github.com/agentx-labs/kiln/internal/scaffold"
)

var (
	newOutputDir string
	newScript    bool
	newAuthor    string
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Author and manage individual plugins",
}

var pluginValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a plugin manifest",
	Long:  `Validate a plugin.yaml (or the plugin directory holding one) against the manifest schema and lint its ranges, paths and assets.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginValidate,
}

var pluginNewCmd = &cobra.Command{
	Use:   "new <id>",
	Short: "Generate a new declarative plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginNew,
}

var pluginAddCmd = &cobra.Command{
	Use:   "add <dir>",
	Short: "Install a local plugin into ~/.kiln/plugins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := registry.Install(args[0], config.PluginsDir())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %s %s into %s\n", p.ID, p.Version, filepath.Join(config.PluginsDir(), p.ID))
		return nil
	},
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a plugin from ~/.kiln/plugins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.Remove(args[0], config.PluginsDir()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

func init() {
	pluginNewCmd.Flags().StringVarP(&newOutputDir, "output", "o", "", "Output directory (default ./<id>)")
	pluginNewCmd.Flags().BoolVar(&newScript, "script", false, "Include an activate.lua script")
	pluginNewCmd.Flags().StringVar(&newAuthor, "author", "", "Author recorded in the manifest")
	pluginCmd.AddCommand(pluginValidateCmd, pluginNewCmd, pluginAddCmd, pluginRemoveCmd)
	rootCmd.AddCommand(pluginCmd)
}

func runPluginValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	result, err := manifest.ValidateFile(args[0])
	if err != nil {
		return err
	}
	if result.Valid {
		fmt.Fprintf(out, "%s %s is valid\n", statusStyle(activation.StatusApplied).Render("✓"), args[0])
		return nil
	}
	fmt.Fprintf(out, "%s %s has %d issue(s):\n", errorStyle.Render("✗"), args[0], len(result.Issues))
	for _, issue := range result.Issues {
		path := issue.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(out, "  %s: %s\n", path, issue.Message)
	}
	return fmt.Errorf("manifest %s is invalid", args[0])
}

func runPluginNew(cmd *cobra.Command, args []string) error {
	id := args[0]
	dir := newOutputDir
	if dir == "" {
		dir = id
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	data := scaffold.NewSkeletonData(id, newScript)
	data.Author = newAuthor
	result, err := scaffold.Generate(data, abs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created plugin %s in %s\n", id, result.OutputDir)
	for _, f := range result.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return nil
}
