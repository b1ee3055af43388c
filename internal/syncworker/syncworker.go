// Package syncworker implements the embedding sync worker (spec 4.7, C9): a
// single background loop that pulls chunks lacking an embedding, generates
// vectors for them in batch (falling back per-chunk on batch failure), saves
// the result, and marks fully-embedded source files as synced.
package syncworker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vaultindex/vaultindex/internal/embed"
	"github.com/vaultindex/vaultindex/internal/index"
)

// Options configures a Worker's tick period and batch size (spec 6 defaults).
type Options struct {
	// Interval is how often the worker looks for unembedded chunks.
	Interval time.Duration
	// BatchSize bounds how many chunks are pulled and how many unsynced
	// sources are reconsidered per tick.
	BatchSize int
	// ErrorBackoff is how long the worker sleeps after a tick that errors.
	ErrorBackoff time.Duration
}

// DefaultOptions returns spec 4.7's stated defaults.
func DefaultOptions() Options {
	return Options{
		Interval:     30 * time.Second,
		BatchSize:    50,
		ErrorBackoff: 10 * time.Second,
	}
}

// Worker is C9.
type Worker struct {
	store    *index.Store
	embedder embed.Embedder
	opts     Options
}

// New constructs a Worker over an already-open index and embedder.
func New(store *index.Store, embedder embed.Embedder, opts Options) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultOptions().ErrorBackoff
	}
	return &Worker{store: store, embedder: embedder, opts: opts}
}

// Run drives the tick loop until ctx is cancelled, which it treats as
// cooperative shutdown: no error is logged for a cancellation-triggered
// exit (spec 7's Cancelled classification).
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one pass; on error it sleeps ErrorBackoff before returning, so
// the caller's next ticker fire is effectively pushed back (spec 4.7: "on
// any thrown error, sleep 10s and continue").
func (w *Worker) tick(ctx context.Context) {
	if err := w.syncEmbeddings(ctx); err != nil {
		slog.Warn("embedding sync tick failed", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
		case <-time.After(w.opts.ErrorBackoff):
		}
		return
	}
	if err := w.markFullySyncedSources(ctx); err != nil {
		slog.Warn("source sync-mark pass failed", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
		case <-time.After(w.opts.ErrorBackoff):
		}
	}
}

func (w *Worker) syncEmbeddings(ctx context.Context) error {
	chunks, err := w.store.GetChunksWithoutEmbedding(ctx, w.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	pairs := make(map[string][]float32, len(chunks))
	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Batch failed outright: fall back to one call per chunk,
		// accumulating successes and logging individual failures.
		for _, c := range chunks {
			vec, cerr := w.embedder.Embed(ctx, c.Text)
			if cerr != nil {
				slog.Warn("embedding failed for chunk", slog.String("chunk_id", c.ID), slog.String("error", cerr.Error()))
				continue
			}
			pairs[c.ID] = vec
		}
	} else {
		for i, c := range chunks {
			if i < len(vectors) {
				pairs[c.ID] = vectors[i]
			}
		}
	}

	if len(pairs) == 0 {
		return nil
	}
	return w.store.SaveEmbeddingsBatch(ctx, pairs)
}

func (w *Worker) markFullySyncedSources(ctx context.Context) error {
	sources, err := w.store.GetUnsyncedSourceFiles(ctx, w.opts.BatchSize)
	if err != nil {
		return err
	}
	for _, src := range sources {
		pending, err := w.store.HasUnembeddedChunks(ctx, src.Path)
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		if err := w.store.MarkSourceFileAsSynced(ctx, src.Path); err != nil {
			return err
		}
	}
	return nil
}
