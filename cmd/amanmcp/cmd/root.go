// Package cmd provides the CLI commands for the vaultindex ingestion tool.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vaultindex/vaultindex/internal/logging"
	"github.com/vaultindex/vaultindex/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ingestion CLI: file, dir and
// url subcommands each drive the extract -> chunk -> archive -> index
// pipeline (spec 6's "bundled ingestion tool").
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaultindex",
		Short: "Semantic chunk-and-index ingestion tool",
		Long: `vaultindex turns files, directories, and URLs into semantically
chunked, vector-embedded, queryable archives.

Run 'vaultindex file <path>...', 'vaultindex dir <path>...', or
'vaultindex url <url>...' for one-shot ingestion, or 'vaultindex watch <vault-path>'
to run the indexing daemon that watches a vault directory continuously.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("vaultindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.vaultindex/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newFileCmd())
	cmd.AddCommand(newDirCmd())
	cmd.AddCommand(newURLCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
