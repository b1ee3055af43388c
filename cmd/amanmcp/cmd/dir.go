package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vaultindex/vaultindex/internal/output"
)

// defaultExcludePatterns is the exclude_patterns default from spec 6:
// matches any path segment, case-insensitive.
var defaultExcludePatterns = []string{".git", ".vs", "node_modules", "bin", "obj"}

func newDirCmd() *cobra.Command {
	flags := &pipelineFlags{}
	var recursive bool
	var pattern string

	cmd := &cobra.Command{
		Use:   "dir <paths...>",
		Short: "Chunk, embed, and index every file under one or more directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDir(cmd, args, flags, recursive, pattern)
		},
	}

	addPipelineFlags(cmd, flags)
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Recurse into subdirectories")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "Only ingest files matching this glob")
	return cmd
}

func runDir(cmd *cobra.Command, dirs []string, flags *pipelineFlags, recursive bool, pattern string) error {
	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	p, err := newPipeline(ctx, flags, out)
	if err != nil {
		return err
	}
	defer p.Close()

	var paths []string
	for _, dir := range dirs {
		found, err := collectFiles(dir, recursive, pattern)
		if err != nil {
			return err
		}
		paths = append(paths, found...)
	}

	failures := 0
	for _, path := range paths {
		result := p.ingestPath(ctx, path, flags.force)
		if !result.Success {
			failures++
			out.Errorf("%s: %s", path, result.ErrorMessage)
			continue
		}
		if result.Metadata["skipped"] == "unchanged" {
			if flags.verbose {
				out.Statusf("-", "%s unchanged, skipped (use -f to force)", path)
			}
			continue
		}
		out.Successf("%s: %d chunk(s) -> %s", path, result.ChunkCount, result.OutputPath)
	}

	out.Statusf("", "ingested %d file(s), %d failure(s)", len(paths)-failures, failures)
	if failures > 0 {
		return fmt.Errorf("%d file(s) failed", failures)
	}
	return nil
}

// collectFiles walks dir (recursing only if recursive is set), skipping any
// path segment in defaultExcludePatterns and keeping only files matching
// pattern when pattern is non-empty (spec 6's dir [-r] [-p <glob>]).
func collectFiles(dir string, recursive bool, pattern string) ([]string, error) {
	var out []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && isExcluded(d.Name()) {
				return fs.SkipDir
			}
			if !recursive && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if isExcluded(d.Name()) {
			return nil
		}
		if pattern != "" {
			matched, err := filepath.Match(pattern, d.Name())
			if err != nil {
				return fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			if !matched {
				return nil
			}
		}
		out = append(out, path)
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return out, nil
}

func isExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range defaultExcludePatterns {
		if lower == pattern {
			return true
		}
	}
	return false
}
