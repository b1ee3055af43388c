// Package pipeline wires C1 (extract) -> C3 (chunk) -> C4 (archive) ->
// C5 (index) into the single ingestion path spec 4.6 describes. Both the
// bundled one-shot CLI (cmd/amanmcp/cmd) and the daemon's processing worker
// (internal/worker, C8) drive a source through this same path; only what
// happens around it (flags and synchronous reporting vs. a queue-driven
// state machine) differs.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vaultindex/vaultindex/internal/archive"
	"github.com/vaultindex/vaultindex/internal/chunk"
	"github.com/vaultindex/vaultindex/internal/embed"
	vaulterrors "github.com/vaultindex/vaultindex/internal/errors"
	"github.com/vaultindex/vaultindex/internal/ingest"
	"github.com/vaultindex/vaultindex/internal/index"
	"github.com/vaultindex/vaultindex/pkg/version"
)

// Pipeline holds the already-open dependencies a single source is run
// through: an extractor registry, an embedding service, a chunker, the
// index, and the directory archive files are written under.
type Pipeline struct {
	Registry   *ingest.Registry
	Embedder   embed.Embedder
	Chunker    *chunk.Chunker
	Store      *index.Store
	ArchiveDir string
}

// New assembles a Pipeline from its already-open dependencies.
func New(registry *ingest.Registry, embedder embed.Embedder, opts chunk.Options, store *index.Store, archiveDir string) *Pipeline {
	if registry == nil {
		registry = ingest.NewRegistry()
	}
	return &Pipeline{
		Registry:   registry,
		Embedder:   embedder,
		Chunker:    chunk.NewChunker(embedder, opts),
		Store:      store,
		ArchiveDir: archiveDir,
	}
}

// IngestPath runs one on-disk source file through extract -> chunk ->
// archive -> index, skipping unchanged sources unless force is set. The
// returned chunks (nil on skip or failure) let the caller drive an
// immediate embedding sync via SyncChunks without re-reading the archive.
func (p *Pipeline) IngestPath(ctx context.Context, path string, force bool) (ingest.Result, []*chunk.Chunk) {
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	hash, err := HashFile(path)
	if err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	if !force {
		if existing, err := p.Store.GetSourceFile(ctx, path); err == nil && existing != nil && existing.Hash == hash {
			return unchangedResult(existing, start), nil
		}
	}

	ext := filepath.Ext(path)
	extractor := p.Registry.For(ext)
	if extractor == nil {
		extractor = ingest.NewPlainTextExtractor()
	}

	extractions, err := extractor.ExtractPath(ctx, path)
	if err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	return p.ingestExtractions(ctx, path, filepath.Base(path), hash, info.Size(), extractions, start)
}

// IngestBytes runs an in-memory byte stream (e.g. a downloaded URL body)
// through the same pipeline, keyed by sourceKey rather than a filesystem
// path.
func (p *Pipeline) IngestBytes(ctx context.Context, sourceKey, name string, data []byte, contentType string, force bool) (ingest.Result, []*chunk.Chunk) {
	start := time.Now()
	hash := chunk.HashContent(string(data))

	if !force {
		if existing, err := p.Store.GetSourceFile(ctx, sourceKey); err == nil && existing != nil && existing.Hash == hash {
			return unchangedResult(existing, start), nil
		}
	}

	extractor := p.Registry.For(contentType)
	if extractor == nil {
		extractor = ingest.NewPlainTextExtractor()
	}
	extractions, err := extractor.ExtractBytes(ctx, data, contentType)
	if err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	return p.ingestExtractions(ctx, sourceKey, name, hash, int64(len(data)), extractions, start)
}

func unchangedResult(existing *index.SourceFile, start time.Time) ingest.Result {
	return ingest.Result{
		Success:    true,
		OutputPath: existing.ArchivePath,
		ChunkCount: existing.ChunkCount,
		Metadata:   map[string]string{"skipped": "unchanged"},
		Duration:   time.Since(start),
	}
}

func (p *Pipeline) ingestExtractions(ctx context.Context, sourceKey, name, hash string, size int64, extractions []ingest.TextExtraction, start time.Time) (ingest.Result, []*chunk.Chunk) {
	sourceID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceKey)).String()
	meta := chunk.SourceMeta{
		SourceID:       sourceID,
		SourceName:     name,
		SourceFileSize: size,
		SourceFileHash: hash,
	}

	var allChunks []*chunk.Chunk
	for _, ex := range extractions {
		m := meta
		m.SourceContentType = ex.ContentType
		chunks, err := p.Chunker.Chunk(ctx, ex.Text, m)
		if err != nil {
			return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
		}
		for _, c := range chunks {
			c.ChunkIndex = len(allChunks)
			c.CreatedAt = time.Now().UTC()
			c.Version = version.Version
			c.PageNumber = ex.PageNumber
			c.SourceLocation = ex.SourceLocation
			allChunks = append(allChunks, c)
		}
	}

	archivePath := filepath.Join(p.ArchiveDir, sourceID+".chunks.parquet")
	if err := archive.Write(archivePath, allChunks); err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	if err := p.Store.DeleteChunksBySourcePath(ctx, sourceKey); err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	rows := make([]index.ChunkRow, len(allChunks))
	for i, c := range allChunks {
		rows[i] = index.ChunkRow{
			ID:             c.ID,
			SourcePath:     sourceKey,
			SourceHash:     hash,
			ChunkIndex:     c.ChunkIndex,
			Text:           c.Text,
			ContentHash:    c.ContentHash,
			PageNumber:     c.PageNumber,
			SourceLocation: c.SourceLocation,
			CreatedAt:      c.CreatedAt,
			UpdatedAt:      c.CreatedAt,
		}
	}
	if err := p.Store.InsertChunks(ctx, rows); err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	if err := p.Store.UpsertSourceFile(ctx, index.SourceFile{
		Path:        sourceKey,
		Hash:        hash,
		FileSize:    size,
		ChunkCount:  len(allChunks),
		ArchivePath: archivePath,
		Status:      index.StatusCompleted,
		ProcessedAt: time.Now().UTC(),
		IsSynced:    false,
	}); err != nil {
		return ingest.Result{ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	return ingest.Result{
		Success:    true,
		OutputPath: archivePath,
		ChunkCount: len(allChunks),
		Metadata:   map[string]string{"source_id": sourceID},
		Duration:   time.Since(start),
	}, allChunks
}

// ProcessDeletion tears down every chunk, embedding, and index row for a
// source whose physical file has been removed, and deletes its archive
// file. Used by the processing worker's deletion path (spec 4.6).
func (p *Pipeline) ProcessDeletion(ctx context.Context, sourceKey string) error {
	existing, err := p.Store.GetSourceFile(ctx, sourceKey)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.ErrCodeIndexFailed, err)
	}
	if existing != nil && existing.ArchivePath != "" {
		if err := os.Remove(existing.ArchivePath); err != nil && !os.IsNotExist(err) {
			return vaulterrors.New(vaulterrors.ErrCodeFilePermission, "remove archive for "+sourceKey, err)
		}
	}
	if err := p.Store.DeleteSourceFile(ctx, sourceKey); err != nil {
		return err
	}
	return nil
}

// SyncChunks embeds each chunk's text and writes the resulting vectors to
// the index, then marks sourceKey synced if the embedder succeeded. The
// bundled CLI calls this once per ingested source as a synchronous stand-in for
// C9's continuous background sync; C9 itself drives the same
// embed-then-save step but pulled from index.GetChunksWithoutEmbedding
// across all sources rather than just the one just ingested.
func (p *Pipeline) SyncChunks(ctx context.Context, sourceKey string, chunks []*chunk.Chunk) error {
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := p.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return vaulterrors.Wrap(vaulterrors.ErrCodeEmbeddingFailed, err)
		}
		pairs := make(map[string][]float32, len(chunks))
		for i, c := range chunks {
			if i < len(vectors) {
				pairs[c.ID] = vectors[i]
			}
		}
		if err := p.Store.SaveEmbeddingsBatch(ctx, pairs); err != nil {
			return err
		}
	}
	return p.Store.MarkSourceFileAsSynced(ctx, sourceKey)
}

// HashFile reads path and returns its content hash (the same algorithm
// spec 3 uses for chunk content hashing, reused here as the file-version
// hash C7's version map and C8's rehash-after-process check compare
// against).
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return chunk.HashContent(string(data)), nil
}
