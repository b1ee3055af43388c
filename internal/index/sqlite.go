package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	vaulterrors "github.com/vaultindex/vaultindex/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS source_files (
	path         TEXT PRIMARY KEY,
	hash         TEXT NOT NULL,
	file_size    INTEGER NOT NULL,
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	archive_path TEXT,
	status       TEXT NOT NULL,
	processed_at TIMESTAMP,
	is_synced    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chunks (
	id              TEXT PRIMARY KEY,
	source_path     TEXT NOT NULL REFERENCES source_files(path) ON DELETE CASCADE,
	source_hash     TEXT NOT NULL,
	chunk_index     INTEGER NOT NULL,
	text            TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	page_number     INTEGER,
	source_location TEXT,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id  TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_source_path ON chunks(source_path);
CREATE INDEX IF NOT EXISTS idx_chunks_source_hash ON chunks(source_hash);
CREATE INDEX IF NOT EXISTS idx_source_files_status ON source_files(status);
CREATE INDEX IF NOT EXISTS idx_source_files_is_synced ON source_files(is_synced);
`

// Store is the SQLite-backed C5 implementation. One *Store owns one
// database file; it pins the connection pool to a single connection in WAL
// mode, and mu additionally serializes writers while letting readers share.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open creates or opens the index database at path ("" for an in-memory
// store, used by tests) and ensures the schema exists.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create index dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// UpsertSourceFile inserts or updates the mutable fields of a source row.
func (s *Store) UpsertSourceFile(ctx context.Context, rec SourceFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_files (path, hash, file_size, chunk_count, archive_path, status, processed_at, is_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			file_size = excluded.file_size,
			chunk_count = excluded.chunk_count,
			archive_path = excluded.archive_path,
			status = excluded.status,
			processed_at = excluded.processed_at,
			is_synced = excluded.is_synced
	`, rec.Path, rec.Hash, rec.FileSize, rec.ChunkCount, rec.ArchivePath, string(rec.Status), rec.ProcessedAt, boolToInt(rec.IsSynced))
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "upsert source file", err)
	}
	return nil
}

// GetSourceFile returns the row for path, or (nil, nil) if absent.
func (s *Store) GetSourceFile(ctx context.Context, path string) (*SourceFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT path, hash, file_size, chunk_count, archive_path, status, processed_at, is_synced
		FROM source_files WHERE path = ?`, path)

	var rec SourceFile
	var status string
	var synced int
	var archivePath sql.NullString
	var processedAt sql.NullTime
	if err := row.Scan(&rec.Path, &rec.Hash, &rec.FileSize, &rec.ChunkCount, &archivePath, &status, &processedAt, &synced); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "get source file", err)
	}
	rec.ArchivePath = archivePath.String
	rec.ProcessedAt = processedAt.Time
	rec.Status = SourceStatus(status)
	rec.IsSynced = synced != 0
	return &rec, nil
}

// InsertChunks upserts a batch of chunk rows transactionally, keyed on id.
func (s *Store) InsertChunks(ctx context.Context, rows []ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "begin insert_chunks tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_path, source_hash, chunk_index, text, content_hash, page_number, source_location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "prepare insert_chunks", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ID, r.SourcePath, r.SourceHash, r.ChunkIndex, r.Text, r.ContentHash,
			nullableInt(r.PageNumber), nullableString(r.SourceLocation), r.CreatedAt, r.UpdatedAt); err != nil {
			return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "insert chunk "+r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "commit insert_chunks", err)
	}
	return nil
}

// SaveEmbedding upserts a single chunk's embedding.
func (s *Store) SaveEmbedding(ctx context.Context, chunkID string, vec []float32) error {
	return s.SaveEmbeddingsBatch(ctx, map[string][]float32{chunkID: vec})
}

// SaveEmbeddingsBatch upserts many (chunk_id -> vector) pairs transactionally.
// Vectors are stored as their raw little-endian float32 byte payload.
func (s *Store) SaveEmbeddingsBatch(ctx context.Context, pairs map[string][]float32) error {
	if len(pairs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "begin save_embeddings tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, embedding) VALUES (?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET embedding = excluded.embedding
	`)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "prepare save_embeddings", err)
	}
	defer stmt.Close()

	for chunkID, vec := range pairs {
		if _, err := stmt.ExecContext(ctx, chunkID, EncodeVector(vec)); err != nil {
			return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "save embedding "+chunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "commit save_embeddings", err)
	}
	return nil
}

// DeleteChunksBySourcePath removes every chunk (and, via cascade, every
// embedding) belonging to path.
func (s *Store) DeleteChunksBySourcePath(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "begin delete tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE source_path = ?)
	`, path); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "delete embeddings for "+path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_path = ?`, path); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "delete chunks for "+path, err)
	}

	if err := tx.Commit(); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "commit delete", err)
	}
	return nil
}

// DeleteSourceFile removes path's source_files row (and, via cascade, every
// chunk and embedding under it). Used by the processing worker's deletion
// path (spec 4.6): the physical file is gone, so nothing should remain.
func (s *Store) DeleteSourceFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM source_files WHERE path = ?`, path); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "delete source file "+path, err)
	}
	return nil
}

// GetChunksWithoutEmbedding returns up to limit chunks that have no
// corresponding embeddings row, the feed for the embedding sync worker (C9).
func (s *Store) GetChunksWithoutEmbedding(ctx context.Context, limit int) ([]ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rowsSQL, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.source_path, c.source_hash, c.chunk_index, c.text, c.content_hash,
		       c.page_number, c.source_location, c.created_at, c.updated_at
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.chunk_id IS NULL
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "get_chunks_without_embedding", err)
	}
	defer rowsSQL.Close()

	var out []ChunkRow
	for rowsSQL.Next() {
		var r ChunkRow
		var page sql.NullInt64
		var loc sql.NullString
		if err := rowsSQL.Scan(&r.ID, &r.SourcePath, &r.SourceHash, &r.ChunkIndex, &r.Text, &r.ContentHash,
			&page, &loc, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "scan unembedded chunk", err)
		}
		if page.Valid {
			v := int(page.Int64)
			r.PageNumber = &v
		}
		if loc.Valid {
			v := loc.String
			r.SourceLocation = &v
		}
		out = append(out, r)
	}
	return out, rowsSQL.Err()
}

// GetUnsyncedSourceFiles returns up to limit Completed-but-unsynced sources.
func (s *Store) GetUnsyncedSourceFiles(ctx context.Context, limit int) ([]SourceFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rowsSQL, err := s.db.QueryContext(ctx, `
		SELECT path, hash, file_size, chunk_count, archive_path, status, processed_at, is_synced
		FROM source_files
		WHERE status = ? AND is_synced = 0
		LIMIT ?
	`, string(StatusCompleted), limit)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "get_unsynced_source_files", err)
	}
	defer rowsSQL.Close()

	var out []SourceFile
	for rowsSQL.Next() {
		var rec SourceFile
		var status string
		var synced int
		var archivePath sql.NullString
		var processedAt sql.NullTime
		if err := rowsSQL.Scan(&rec.Path, &rec.Hash, &rec.FileSize, &rec.ChunkCount, &archivePath, &status, &processedAt, &synced); err != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "scan unsynced source", err)
		}
		rec.ArchivePath = archivePath.String
		rec.ProcessedAt = processedAt.Time
		rec.Status = SourceStatus(status)
		rec.IsSynced = synced != 0
		out = append(out, rec)
	}
	return out, rowsSQL.Err()
}

// HasUnembeddedChunks reports whether path still has at least one chunk
// lacking an embeddings row, the per-source check the embedding sync worker
// (C9) runs before marking a source synced.
func (s *Store) HasUnembeddedChunks(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chunks c
			LEFT JOIN embeddings e ON e.chunk_id = c.id
			WHERE c.source_path = ? AND e.chunk_id IS NULL
		)
	`, path).Scan(&exists)
	if err != nil {
		return false, vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "has_unembedded_chunks "+path, err)
	}
	return exists != 0, nil
}

// MarkSourceFileAsSynced sets is_synced = true for path.
func (s *Store) MarkSourceFileAsSynced(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE source_files SET is_synced = 1 WHERE path = ?`, path)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "mark_source_file_as_synced", err)
	}
	return nil
}

// EncodeVector serializes a float32 vector as its raw little-endian byte
// payload (spec 4.3: "the raw little-endian float32 payload of length 4*D").
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector parses the raw little-endian float32 payload EncodeVector
// produces, returning an error if the byte length isn't a multiple of 4.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding payload length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
