package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_UpsertAndGetSourceFile_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := SourceFile{
		Path:       "docs/a.md",
		Hash:       "abc123",
		FileSize:   42,
		ChunkCount: 3,
		Status:     StatusCompleted,
		IsSynced:   false,
	}
	require.NoError(t, s.UpsertSourceFile(ctx, rec))

	got, err := s.GetSourceFile(ctx, "docs/a.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Hash, got.Hash)
	assert.Equal(t, rec.ChunkCount, got.ChunkCount)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, got.IsSynced)
}

func TestStore_GetSourceFile_UnknownPath_ReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSourceFile(context.Background(), "missing.md")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_UpsertSourceFile_UpdatesMutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "a.md", Hash: "h1", Status: StatusPending}))
	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "a.md", Hash: "h2", Status: StatusCompleted, IsSynced: true}))

	got, err := s.GetSourceFile(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.Hash)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.IsSynced)
}

func TestStore_InsertChunks_ThenGetChunksWithoutEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "a.md", Hash: "h1", Status: StatusCompleted}))

	now := time.Now().UTC()
	rows := []ChunkRow{
		{ID: "c1", SourcePath: "a.md", SourceHash: "h1", ChunkIndex: 0, Text: "one", ContentHash: "ch1", CreatedAt: now, UpdatedAt: now},
		{ID: "c2", SourcePath: "a.md", SourceHash: "h1", ChunkIndex: 1, Text: "two", ContentHash: "ch2", CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, s.InsertChunks(ctx, rows))

	unembedded, err := s.GetChunksWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unembedded, 2)

	require.NoError(t, s.SaveEmbedding(ctx, "c1", []float32{0.1, 0.2, 0.3}))

	unembedded, err = s.GetChunksWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unembedded, 1)
	assert.Equal(t, "c2", unembedded[0].ID)
}

func TestStore_SaveEmbeddingsBatch_RoundTripsVectorBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "a.md", Hash: "h1", Status: StatusCompleted}))
	now := time.Now().UTC()
	require.NoError(t, s.InsertChunks(ctx, []ChunkRow{
		{ID: "c1", SourcePath: "a.md", SourceHash: "h1", ChunkIndex: 0, Text: "one", ContentHash: "ch1", CreatedAt: now, UpdatedAt: now},
	}))

	vec := []float32{0.5, -0.25, 1.0, 0.0}
	require.NoError(t, s.SaveEmbeddingsBatch(ctx, map[string][]float32{"c1": vec}))

	unembedded, err := s.GetChunksWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unembedded)
}

func TestStore_DeleteChunksBySourcePath_CascadesEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "a.md", Hash: "h1", Status: StatusCompleted}))
	now := time.Now().UTC()
	require.NoError(t, s.InsertChunks(ctx, []ChunkRow{
		{ID: "c1", SourcePath: "a.md", SourceHash: "h1", ChunkIndex: 0, Text: "one", ContentHash: "ch1", CreatedAt: now, UpdatedAt: now},
	}))
	require.NoError(t, s.SaveEmbedding(ctx, "c1", []float32{1, 2, 3}))

	require.NoError(t, s.DeleteChunksBySourcePath(ctx, "a.md"))

	unembedded, err := s.GetChunksWithoutEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unembedded)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestStore_GetUnsyncedSourceFiles_OnlyCompletedAndUnsynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "pending.md", Status: StatusPending}))
	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "done-synced.md", Status: StatusCompleted, IsSynced: true}))
	require.NoError(t, s.UpsertSourceFile(ctx, SourceFile{Path: "done-unsynced.md", Status: StatusCompleted, IsSynced: false}))

	unsynced, err := s.GetUnsyncedSourceFiles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "done-unsynced.md", unsynced[0].Path)

	require.NoError(t, s.MarkSourceFileAsSynced(ctx, "done-unsynced.md"))
	unsynced, err = s.GetUnsyncedSourceFiles(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestEncodeDecodeVector_RoundTrips(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.333, 0, 1}
	decoded, err := DecodeVector(EncodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestDecodeVector_RejectsShortPayload(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
