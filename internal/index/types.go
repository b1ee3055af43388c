// Package index implements the relational source/chunk/embedding store (C5):
// three tables with upsert, cascading delete, and the "chunks without
// embedding" / "unsynced source files" queries the embedding-sync worker and
// processing worker drive off of.
package index

import "time"

// SourceStatus is the lifecycle state of a SourceFile row.
type SourceStatus string

const (
	StatusPending    SourceStatus = "Pending"
	StatusProcessing SourceStatus = "Processing"
	StatusCompleted  SourceStatus = "Completed"
	StatusFailed     SourceStatus = "Failed"
)

// SourceFile is the persisted index row for one path under the vault root.
type SourceFile struct {
	Path        string
	Hash        string
	FileSize    int64
	ChunkCount  int
	ArchivePath string
	Status      SourceStatus
	ProcessedAt time.Time
	IsSynced    bool
}

// ChunkRow is a chunk as the index stores it: page and location travel
// with it so callers needn't reopen the archive to learn, e.g., which chunks
// still need embeddings; start/end offsets are kept only in the archive.
type ChunkRow struct {
	ID             string
	SourcePath     string
	SourceHash     string
	ChunkIndex     int
	Text           string
	ContentHash    string
	PageNumber     *int
	SourceLocation *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
