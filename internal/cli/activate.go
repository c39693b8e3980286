package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/kiln/internal/activation"
	"github.com/agentx-labs/kiln/internal/deps"
	"github.com/agentx-labs/kiln/internal/fsgate"
	"github.com/agentx-labs/kiln/internal/pkgmgr"
	"github.com/agentx-labs/kiln/internal/project"
	"github.com/agentx-labs/kiln/internal/registry"
)

var (
	activateYes            bool
	activateInstallTimeout time.Duration
	activateConcurrency    int
	activatePackageManager string
	activateDryPlan        bool
	activateNoInstall      bool
	activateJSON           bool
)

var activateCmd = &cobra.Command{
	Use:   "activate <dir> <plugin>...",
	Short: "Activate plugins against a project directory",
	Long: `Activate plugins in the given order against <dir>. Each plugin writes its
files and patches, then the dependencies of every plugin are merged and
installed with a single package manager invocation.

Re-running the same plugins against an unchanged project changes nothing.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runActivate,
}

func init() {
	activateCmd.Flags().BoolVarP(&activateYes, "yes", "y", false, "Skip confirmation prompt")
	activateCmd.Flags().DurationVar(&activateInstallTimeout, "install-timeout", 0, "Deadline for the dependency install (default from config)")
	activateCmd.Flags().IntVar(&activateConcurrency, "concurrency", 0, "Parallel file writes per plugin (default from config)")
	activateCmd.Flags().StringVar(&activatePackageManager, "package-manager", "", "Package manager: "+strings.Join(pkgmgr.Managers(), ", ")+" (default from config)")
	activateCmd.Flags().BoolVar(&activateDryPlan, "dry-plan", false, "Print the resolved plugins and merged dependencies, then exit")
	activateCmd.Flags().BoolVar(&activateNoInstall, "no-install", false, "Resolve dependencies but do not run the package manager")
	activateCmd.Flags().BoolVar(&activateJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(activateCmd)
}

func runActivate(cmd *cobra.Command, args []string) error {
	dir, ids := args[0], args[1:]
	out := cmd.OutOrStdout()

	plugins, err := newRegistry().Resolve(ids)
	if err != nil {
		return err
	}

	manager := settings.PackageManager
	if activatePackageManager != "" {
		manager = activatePackageManager
	}
	if !slices.Contains(pkgmgr.Managers(), manager) {
		return fmt.Errorf("%w: %q", pkgmgr.ErrUnsupportedManager, manager)
	}

	if activateDryPlan || !activateYes {
		if err := printPlan(out, dir, plugins); err != nil {
			return err
		}
	}
	if activateDryPlan {
		return nil
	}
	if !activateYes && !confirm(out, cmd.InOrStdin(), fmt.Sprintf("Activate %d plugin(s) in %s?", len(plugins), dir)) {
		fmt.Fprintln(out, "Activation cancelled.")
		return nil
	}

	opts := activation.Options{
		Concurrency:    settings.Concurrency,
		FSTimeout:      settings.FSTimeout,
		InstallTimeout: settings.InstallTimeout,
		State:          project.Store{},
		Comparators:    map[string]activation.Comparator{settings.Manifest: pkgmgr.SameIgnoringDependencies},
		Logger:         logger,
	}
	if activateConcurrency > 0 {
		opts.Concurrency = activateConcurrency
	}
	if activateInstallTimeout > 0 {
		opts.InstallTimeout = activateInstallTimeout
	}
	if !activateNoInstall {
		opts.Toolchain = func(gw *fsgate.Gateway) (deps.Installer, deps.Manifest) {
			inst := &pkgmgr.Command{Manager: manager, FS: gw, Runner: pkgmgr.CmdRunner{}}
			if !activateJSON {
				inst.Stdout, inst.Stderr = cmd.ErrOrStderr(), cmd.ErrOrStderr()
			}
			return inst, &pkgmgr.PackageJSON{FS: gw, Path: settings.Manifest}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	report, runErr := activation.New(opts).Run(ctx, plugins, dir)
	if activateJSON {
		if err := renderReportJSON(out, report); err != nil {
			return err
		}
	} else if err := renderReport(out, report); err != nil {
		return err
	}
	if runErr != nil {
		return &exitError{err: runErr, code: exitCode(runErr)}
	}
	return nil
}

// printPlan lists the plugins in order with their sources and the merged
// dependency set.
func printPlan(w io.Writer, dir string, plugins []activation.Plugin) error {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Plan for"), dir)
	var reqs []deps.Requirement
	for i, p := range plugins {
		source := ""
		if d, ok := p.(*registry.Declarative); ok {
			source = faintStyle.Render("(" + d.Source + ")")
		}
		fmt.Fprintf(w, "  %d. %s %s\n", i+1, p.ID(), source)
		reqs = append(reqs, p.Dependencies()...)
	}

	merged, err := (&deps.Merger{}).Merge(reqs)
	if err != nil {
		var conflict *deps.ConflictError
		if errors.As(err, &conflict) {
			fmt.Fprintln(w, errorStyle.Render("  "+err.Error()))
		}
		return err
	}
	if len(merged) == 0 {
		fmt.Fprintln(w, "Declared dependencies: none")
		return nil
	}
	fmt.Fprintln(w, "Declared dependencies:")
	for _, r := range merged {
		fmt.Fprintf(w, "  %s %s\n", r.Spec(), faintStyle.Render("from "+strings.Join(r.Plugins, ", ")))
	}
	return nil
}

func confirm(w io.Writer, in io.Reader, question string) bool {
	fmt.Fprintf(w, "? %s (Y/n) ", question)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "" || answer == "y" || answer == "yes"
}

// exitError carries a process exit code for main.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// exitCode maps run failures to distinct codes: 2 precondition, 3
// dependency conflict, 4 install failure, 5 timeout, 1 anything else.
func exitCode(err error) int {
	switch {
	case errors.Is(err, activation.ErrPreconditionFailed):
		return 2
	case errors.Is(err, activation.ErrDependencyConflict):
		return 3
	case errors.Is(err, activation.ErrTimeout), errors.Is(err, deps.ErrInstallTimeout):
		return 5
	case errors.Is(err, activation.ErrInstallFailed):
		return 4
	default:
		return 1
	}
}
