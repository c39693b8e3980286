package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the kiln installation and toolchain",
	Long:  `Run diagnostic checks: package manager and node on PATH, the kiln home directory and every plugin source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		failed := 0
		check := func(name string, err error) {
			if err != nil {
				failed++
				fmt.Fprintf(out, "  %s %s: %v\n", errorStyle.Render("✗"), name, err)
				return
			}
			fmt.Fprintf(out, "  %s %s\n", statusStyle(activation.StatusApplied).Render("✓"), name)
		}

		fmt.Fprintln(out, headerStyle.Render("Toolchain"))
		check("node", lookPath("node"))
		check(settings.PackageManager, lookPath(settings.PackageManager))

		fmt.Fprintln(out, headerStyle.Render("Home"))
		check(config.Dir(), dirUsable(config.Dir()))
		check("config "+config.FilePath(), fileReadable(config.FilePath()))

		fmt.Fprintln(out, headerStyle.Render("Plugins"))
		checkPlugins(out, check)

		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func checkPlugins(out io.Writer, check func(string, error)) {
	reg := newRegistry()
	entries, err := reg.List()
	if err != nil {
		check("plugin sources", err)
		return
	}
	for _, e := range entries {
		_, err := reg.Lookup(e.ID)
		check(fmt.Sprintf("%s %s (%s)", e.ID, e.Version, e.Source), err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "  no plugins found")
	}
}

func lookPath(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return errors.New("not found on PATH")
	}
	return nil
}

func dirUsable(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil // created on first config set or plugin add
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}

func fileReadable(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return f.Close()
}
