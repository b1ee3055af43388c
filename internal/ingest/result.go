package ingest

import "time"

// Result is the structured per-file outcome spec 7 ("User-visible
// behavior") requires: directory ingestion yields one of these per file.
type Result struct {
	Success      bool
	OutputPath   string
	ChunkCount   int
	Metadata     map[string]string
	ErrorMessage string
	Duration     time.Duration
}
