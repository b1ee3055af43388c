package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultindex/vaultindex/internal/chunk"
)

func TestWriteRead_RoundTripsAllFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.chunks.parquet")

	start, end, page := 0, 11, 1
	loc := "section-1"
	now := time.Now().UTC().Truncate(time.Microsecond)

	chunks := []*chunk.Chunk{
		{
			ID:          "id-1",
			ContentHash: "hash-1",
			ChunkIndex:  0,
			Text:        "hello world",
			StartIndex:  &start,
			EndIndex:    &end,
			PageNumber:  &page,
			SourceLocation: &loc,
			CreatedAt:   now,
			Version:     "v1",
			SourceMeta: chunk.SourceMeta{
				SourceID:          "src-1",
				SourceName:        "source.txt",
				SourceContentType: "text/plain",
				SourceFileSize:    1024,
				SourceFileHash:    "filehash",
			},
		},
		{
			ID:          "id-2",
			ContentHash: "hash-2",
			ChunkIndex:  1,
			Text:        "no offsets here",
			CreatedAt:   now,
			Version:     "v1",
			SourceMeta: chunk.SourceMeta{
				SourceID:   "src-1",
				SourceName: "source.txt",
			},
		},
	}

	require.NoError(t, Write(path, chunks))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, chunks[0].ID, got[0].ID)
	assert.Equal(t, chunks[0].Text, got[0].Text)
	require.NotNil(t, got[0].StartIndex)
	assert.Equal(t, start, *got[0].StartIndex)
	require.NotNil(t, got[0].EndIndex)
	assert.Equal(t, end, *got[0].EndIndex)
	require.NotNil(t, got[0].PageNumber)
	assert.Equal(t, page, *got[0].PageNumber)
	require.NotNil(t, got[0].SourceLocation)
	assert.Equal(t, loc, *got[0].SourceLocation)
	assert.Equal(t, "filehash", got[0].SourceFileHash)

	// Second chunk has no optional offsets: null, not zero.
	assert.Nil(t, got[1].StartIndex)
	assert.Nil(t, got[1].EndIndex)
	assert.Nil(t, got[1].PageNumber)
	assert.Nil(t, got[1].SourceLocation)
}

func TestWrite_IsAtomic_NoPartialFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a.chunks.parquet")

	require.NoError(t, Write(path, []*chunk.Chunk{
		{ID: "id-1", ContentHash: "h", Text: "x", CreatedAt: time.Now().UTC(),
			SourceMeta: chunk.SourceMeta{SourceID: "s", SourceName: "s.txt"}},
	}))

	entries, err := filepath.Glob(filepath.Join(dir, "nested", "*"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after a successful write")
}
