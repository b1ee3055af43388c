package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultindex/vaultindex/internal/output"
)

func newFileCmd() *cobra.Command {
	flags := &pipelineFlags{}

	cmd := &cobra.Command{
		Use:   "file <paths...>",
		Short: "Chunk, embed, and index one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(cmd, args, flags)
		},
	}

	addPipelineFlags(cmd, flags)
	return cmd
}

func runFile(cmd *cobra.Command, paths []string, flags *pipelineFlags) error {
	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	p, err := newPipeline(ctx, flags, out)
	if err != nil {
		return err
	}
	defer p.Close()

	failures := 0
	for _, path := range paths {
		result := p.ingestPath(ctx, path, flags.force)
		if !result.Success {
			failures++
			out.Errorf("%s: %s", path, result.ErrorMessage)
			continue
		}
		if result.Metadata["skipped"] == "unchanged" {
			out.Statusf("-", "%s unchanged, skipped (use -f to force)", path)
			continue
		}
		out.Successf("%s: %d chunk(s) -> %s", path, result.ChunkCount, result.OutputPath)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failures, len(paths))
	}
	return nil
}
