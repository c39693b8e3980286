package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/kiln/internal/branding"
	"github.com/agentx-labs/kiln/internal/config"
	"github.com/agentx-labs/kiln/internal/logging"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var (
	logLevel  string
	logFormat string

	// settings and logger are populated before every command runs.
	settings *config.Settings
	logger   = logging.Discard()
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` activates plugins against a project directory. Each plugin
writes files, patches existing sources and declares package dependencies;
dependencies from every plugin are merged and installed in one pass.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

func setup(cmd *cobra.Command, args []string) error {
	config.Load()
	s, err := config.Current()
	if err != nil {
		return err
	}
	if logLevel != "" {
		s.LogLevel = logLevel
	}
	if logFormat != "" {
		s.LogFormat = logFormat
	}
	settings = s

	l, closeFn, err := logging.New(logging.Config{Level: s.LogLevel, Format: s.LogFormat, Output: s.LogOutput})
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	logger = l.With(slog.String("cmd", cmd.CommandPath()))
	closeLog = closeFn
	return nil
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}
