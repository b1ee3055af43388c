package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vaultindex/vaultindex/internal/chunk"
	"github.com/vaultindex/vaultindex/internal/embed"
	vaulterrors "github.com/vaultindex/vaultindex/internal/errors"
	"github.com/vaultindex/vaultindex/internal/index"
	"github.com/vaultindex/vaultindex/internal/ingest"
	"github.com/vaultindex/vaultindex/internal/output"
	"github.com/vaultindex/vaultindex/internal/pipeline"
)

// pipelineFlags are the flags common to file/dir/url (spec 6's CLI surface).
type pipelineFlags struct {
	output    string
	force     bool
	verbose   bool
	threshold float32
	minChunk  int
	maxChunk  int
}

func addPipelineFlags(cmd *cobra.Command, f *pipelineFlags) {
	defaults := chunk.DefaultOptions()
	cmd.Flags().StringVarP(&f.output, "output", "o", ".vaultindex", "Directory for the archive and index")
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "Reprocess even if the source is unchanged")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print per-source chunk counts and warnings")
	cmd.Flags().Float32VarP(&f.threshold, "threshold", "t", defaults.SimilarityThreshold, "Chunk-boundary similarity threshold")
	cmd.Flags().IntVar(&f.minChunk, "min-chunk", defaults.MinChunkSize, "Minimum chunk size in characters")
	cmd.Flags().IntVar(&f.maxChunk, "max-chunk", defaults.MaxChunkSize, "Maximum chunk size in characters")
}

func (f *pipelineFlags) chunkOptions() chunk.Options {
	opts := chunk.DefaultOptions()
	opts.SimilarityThreshold = f.threshold
	opts.MinChunkSize = f.minChunk
	opts.MaxChunkSize = f.maxChunk
	return opts
}

// cliPipeline adapts internal/pipeline.Pipeline to the bundled one-shot CLI:
// it runs an inline embedding sync after each source (standing in for C9's
// continuous background pass, since the CLI exits after one invocation)
// and reports progress through an output.Writer.
type cliPipeline struct {
	*pipeline.Pipeline
	store   *index.Store
	out     *output.Writer
	verbose bool
}

func newPipeline(ctx context.Context, f *pipelineFlags, out *output.Writer) (*cliPipeline, error) {
	if err := os.MkdirAll(f.output, 0o755); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "create output directory "+f.output, err)
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, "")
	if err != nil {
		embedder, err = embed.NewDefaultEmbedder(ctx)
		if err != nil {
			return nil, vaulterrors.Wrap(vaulterrors.ErrCodeEmbeddingFailed, err)
		}
		out.Warning("embedding backend unavailable, falling back to the offline static embedder")
	}

	st, err := index.Open(filepath.Join(f.output, "index.db"))
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "open index", err)
	}

	archDir := filepath.Join(f.output, "archives")
	if err := os.MkdirAll(archDir, 0o755); err != nil {
		st.Close()
		return nil, vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "create archive directory", err)
	}

	return &cliPipeline{
		Pipeline: pipeline.New(ingest.NewRegistry(), embedder, f.chunkOptions(), st, archDir),
		store:    st,
		out:      out,
		verbose:  f.verbose,
	}, nil
}

func (p *cliPipeline) Close() error {
	return p.store.Close()
}

func (p *cliPipeline) ingestPath(ctx context.Context, path string, force bool) ingest.Result {
	result, chunks := p.IngestPath(ctx, path, force)
	return p.syncAndReport(ctx, path, result, chunks)
}

func (p *cliPipeline) ingestBytes(ctx context.Context, sourceKey, name string, data []byte, contentType string, force bool) ingest.Result {
	result, chunks := p.IngestBytes(ctx, sourceKey, name, data, contentType, force)
	return p.syncAndReport(ctx, sourceKey, result, chunks)
}

func (p *cliPipeline) syncAndReport(ctx context.Context, sourceKey string, result ingest.Result, chunks []*chunk.Chunk) ingest.Result {
	if !result.Success || result.Metadata["skipped"] == "unchanged" {
		return result
	}
	if p.verbose {
		p.out.Statusf("", "chunked %s: %d chunk(s)", sourceKey, len(chunks))
	}
	if err := p.SyncChunks(ctx, sourceKey, chunks); err != nil && p.verbose {
		p.out.Warningf("embedding sync failed for %s, source left unsynced: %v", sourceKey, err)
	}
	return result
}
