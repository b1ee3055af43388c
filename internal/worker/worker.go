// Package worker implements the processing worker (spec 4.6, C8): the
// per-iteration state machine that dequeues a ProcessingTask from C7's
// queue.Manager, serializes on the task's path via the per-path lock, and
// drives it through pipeline.Pipeline's C1+C3+C4+C5 upsert (or deletion)
// path, handling retries and version-mismatch re-enqueue.
package worker

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/vaultindex/vaultindex/internal/pipeline"
	"github.com/vaultindex/vaultindex/internal/queue"
)

const (
	// MaxRetries is spec 4.6's retry ceiling: a task is dropped, not
	// requeued, once retry_count reaches this.
	MaxRetries = 3

	// idlePoll is how often an empty ready queue is re-checked. The queue
	// itself runs its own 100ms debounce-promotion tick (spec 4.5); polling
	// faster than that buys nothing.
	idlePoll = 100 * time.Millisecond

	// lockContendedBackoff avoids a hot spin when a path's lock is held by
	// another in-flight attempt at the same task.
	lockContendedBackoff = 20 * time.Millisecond
)

// Worker is C8. Multiple Workers may run concurrently over the same queue.Manager
// and Pipeline; the per-path lock in queue.Manager keeps them from racing on
// the same file.
type Worker struct {
	Queue      *queue.Manager
	Pipeline   *pipeline.Pipeline
	MaxRetries int
}

// New constructs a Worker with spec 4.6's default retry ceiling.
func New(q *queue.Manager, p *pipeline.Pipeline) *Worker {
	return &Worker{Queue: q, Pipeline: p, MaxRetries: MaxRetries}
}

// Run drives the dequeue loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for w.runOnce(ctx) {
			}
		}
	}
}

// runOnce dequeues and processes a single task. It returns true if a task
// was found (so the caller should immediately try again without waiting for
// the next tick), false if the ready queue was empty.
func (w *Worker) runOnce(ctx context.Context) bool {
	task, ok := w.Queue.TryDequeue()
	if !ok {
		return false
	}

	if !w.Queue.TryAcquireLock(task.RelativePath) {
		// Another attempt holds the path's lock; give it a moment, then
		// requeue rather than spin (spec 4.6: "fail -> requeue; loop").
		time.Sleep(lockContendedBackoff)
		w.Queue.Requeue(task)
		return true
	}
	defer w.Queue.ReleaseLock(task.RelativePath)

	w.process(ctx, task)
	return true
}

func (w *Worker) process(ctx context.Context, task queue.ProcessingTask) {
	if task.Kind == queue.TaskDelete {
		w.processDeletion(ctx, task)
		return
	}

	if current, known := w.Queue.GetVersion(task.RelativePath); known && current == task.FileHash {
		// Already processed through to this exact hash: Skipped.
		return
	}

	result, _ := w.Pipeline.IngestPath(ctx, task.RelativePath, false)
	if !result.Success {
		w.handleFailure(ctx, task)
		return
	}
	if result.Metadata["skipped"] == "unchanged" {
		return
	}

	w.handleSuccess(task)
}

func (w *Worker) processDeletion(ctx context.Context, task queue.ProcessingTask) {
	if err := w.Pipeline.ProcessDeletion(ctx, task.RelativePath); err != nil {
		slog.Warn("deletion processing failed", slog.String("path", task.RelativePath), slog.String("error", err.Error()))
		w.handleFailure(ctx, task)
		return
	}
	w.Queue.RemoveVersion(task.RelativePath)
}

// handleSuccess implements spec 4.6's post-success rehash check: if the file
// changed again while it was being processed, the work just committed is
// stale and a fresh task is enqueued directly (bypassing debounce) rather
// than the version being recorded.
func (w *Worker) handleSuccess(task queue.ProcessingTask) {
	currentHash, err := pipeline.HashFile(task.RelativePath)
	if err != nil {
		// File vanished between processing and the rehash: treat like any
		// other InputNotFound, nothing further to do.
		return
	}
	if currentHash == task.FileHash {
		w.Queue.SetVersion(task.RelativePath, currentHash)
		return
	}

	w.Queue.EnqueueDirect(queue.ProcessingTask{
		RelativePath: task.RelativePath,
		Kind:         queue.TaskUpsert,
		FileHash:     currentHash,
	})
}

// handleFailure implements spec 4.6's retry policy: InputNotFound (the
// source vanished) ends the task immediately rather than retrying, since
// retrying a missing file can never succeed; every other failure retries up
// to MaxRetries before being dropped and logged.
func (w *Worker) handleFailure(ctx context.Context, task queue.ProcessingTask) {
	if _, err := os.Stat(task.RelativePath); os.IsNotExist(err) {
		slog.Info("source vanished before processing completed, dropping task", slog.String("path", task.RelativePath))
		return
	}

	if task.RetryCount+1 >= w.MaxRetries {
		slog.Warn("processing task exhausted retries, dropping",
			slog.String("path", task.RelativePath), slog.Int("retry_count", task.RetryCount))
		return
	}
	w.Queue.Requeue(task)
}
