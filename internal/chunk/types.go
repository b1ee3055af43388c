// Package chunk holds the data model shared by the semantic chunker, the
// columnar archive, and the relational index: a Chunk is the unit that
// flows from text extraction through to a persisted, embeddable row.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Options configures the semantic chunker (spec C3).
type Options struct {
	// SimilarityThreshold (tau) is the cosine-similarity floor below which
	// adjacent sentences are considered a candidate chunk boundary.
	SimilarityThreshold float32
	// MinChunkSize is the minimum accumulated character length before a
	// candidate break is honored.
	MinChunkSize int
	// MaxChunkSize is the character length at which a chunk is forced to
	// close even without a candidate break.
	MaxChunkSize int
	// Delimiters are checked in order at each scan position; the first
	// match wins.
	Delimiters []string
}

// DefaultOptions returns the chunker defaults from spec 4.1.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.5,
		MinChunkSize:        100,
		MaxChunkSize:        1000,
		Delimiters:          []string{".", "!", "?", "。", "！", "？", "\n\n"},
	}
}

// SourceMeta is the source-level metadata denormalized into every Chunk row
// so an archive file is self-describing without the index (spec 3, 4.2).
type SourceMeta struct {
	SourceID          string
	SourceName        string
	SourceContentType string
	SourceFileSize    int64
	SourceFileHash    string
}

// Chunk is a persisted unit of retrieval (spec 3).
type Chunk struct {
	ID             string
	ContentHash    string
	ChunkIndex     int
	Text           string
	StartIndex     *int
	EndIndex       *int
	PageNumber     *int
	SourceLocation *string
	CreatedAt      time.Time
	Version        string

	SourceMeta
}

// HashContent returns the lower-hex SHA-256 of the UTF-8 text, which spec 3
// mandates as the chunk's content_hash.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DeriveID computes the deterministic chunk id spec 3 defines: the first 16
// bytes of SHA-256(source_id + ":" + content_hash), formatted as a canonical
// 128-bit identifier (8-4-4-4-12 hex groups — the spec calls for
// "UUIDv5-style", not a strict UUIDv5, so no version/variant bits are
// forced).
func DeriveID(sourceID, contentHash string) string {
	sum := sha256.Sum256([]byte(sourceID + ":" + contentHash))
	return formatUUID(sum[:16])
}

func formatUUID(b []byte) string {
	hexStr := hex.EncodeToString(b)
	var sb strings.Builder
	sb.WriteString(hexStr[0:8])
	sb.WriteByte('-')
	sb.WriteString(hexStr[8:12])
	sb.WriteByte('-')
	sb.WriteString(hexStr[12:16])
	sb.WriteByte('-')
	sb.WriteString(hexStr[16:20])
	sb.WriteByte('-')
	sb.WriteString(hexStr[20:32])
	return sb.String()
}

// TrimSpan trims leading/trailing whitespace from s and reports the
// [start,end) byte offsets of the trimmed text relative to s, so callers can
// translate back to absolute offsets in the original source.
func TrimSpan(s string) (text string, start, end int) {
	trimmed := strings.TrimFunc(s, isSpace)
	if trimmed == "" {
		return "", 0, 0
	}
	idx := strings.Index(s, trimmed)
	return trimmed, idx, idx + len(trimmed)
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
