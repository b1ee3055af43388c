// Package archive implements the chunk archive (C4): a self-describing,
// Zstandard-compressed, Parquet-shaped single file per source. Every row
// carries the source's own metadata, so an archive file is interpretable
// without the index.
package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/vaultindex/vaultindex/internal/chunk"
	vaulterrors "github.com/vaultindex/vaultindex/internal/errors"
)

// row is the on-disk column layout spec 4.2 fixes, in order. Struct tags
// drive parquet-go's schema inference; "optional" fields map to the chunk
// model's nullable pointer fields.
type row struct {
	ID          string `parquet:"id"`
	ContentHash string `parquet:"content_hash"`

	SourceID   string    `parquet:"source_id"`
	SourceName string    `parquet:"source_name"`
	Version    string    `parquet:"version"`
	CreatedAt  time.Time `parquet:"created_at,timestamp"`

	SourceContentType *string `parquet:"source_content_type,optional"`
	SourceFileSize    *int64  `parquet:"source_file_size,optional"`
	SourceFileHash    *string `parquet:"source_file_hash,optional"`

	Text       string `parquet:"text"`
	ChunkIndex int32  `parquet:"chunk_index"`

	StartIndex     *int32  `parquet:"start_index,optional"`
	EndIndex       *int32  `parquet:"end_index,optional"`
	PageNumber     *int32  `parquet:"page_number,optional"`
	SourceLocation *string `parquet:"source_location,optional"`
}

// Write serializes chunks to path as a Zstandard-compressed Parquet-shaped
// file. Per the write contract in spec 4.2, the file is built in memory and
// installed atomically (temp file + rename via renameio) so a reader never
// observes a half-written archive; on crash mid-write the caller is left
// with either the old file or nothing, never a torn one, and the index
// (not the archive) remains the recovery authority.
func Write(path string, chunks []*chunk.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "create archive directory", err)
	}

	rows := make([]row, len(chunks))
	for i, c := range chunks {
		rows[i] = toRow(c)
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[row](&buf, parquet.Compression(&zstd.Codec{}))
	if _, err := writer.Write(rows); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "write archive rows", err)
	}
	if err := writer.Close(); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeIndexFailed, "close archive writer", err)
	}

	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "atomically install archive "+path, err)
	}
	return nil
}

// Read loads every chunk from the archive at path, in original order,
// preserving null-versus-zero distinctions on the optional offset fields.
func Read(path string) ([]*chunk.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "open archive "+path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeFileNotFound, "stat archive "+path, err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeFileCorrupt, "open archive schema "+path, err)
	}

	reader := parquet.NewGenericReader[row](f, pf.Schema())
	defer reader.Close()

	out := make([]*chunk.Chunk, 0, reader.NumRows())
	buf := make([]row, 256)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			out = append(out, fromRow(buf[i]))
		}
		if err != nil {
			if n == 0 {
				break
			}
		}
		if n < len(buf) {
			break
		}
	}
	return out, nil
}

func toRow(c *chunk.Chunk) row {
	r := row{
		ID:          c.ID,
		ContentHash: c.ContentHash,
		SourceID:    c.SourceID,
		SourceName:  c.SourceName,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		Text:        c.Text,
		ChunkIndex:  int32(c.ChunkIndex),
	}
	if c.SourceContentType != "" {
		r.SourceContentType = &c.SourceContentType
	}
	if c.SourceFileSize != 0 {
		v := c.SourceFileSize
		r.SourceFileSize = &v
	}
	if c.SourceFileHash != "" {
		r.SourceFileHash = &c.SourceFileHash
	}
	if c.StartIndex != nil {
		v := int32(*c.StartIndex)
		r.StartIndex = &v
	}
	if c.EndIndex != nil {
		v := int32(*c.EndIndex)
		r.EndIndex = &v
	}
	if c.PageNumber != nil {
		v := int32(*c.PageNumber)
		r.PageNumber = &v
	}
	r.SourceLocation = c.SourceLocation
	return r
}

func fromRow(r row) *chunk.Chunk {
	c := &chunk.Chunk{
		ID:          r.ID,
		ContentHash: r.ContentHash,
		ChunkIndex:  int(r.ChunkIndex),
		Text:        r.Text,
		CreatedAt:   r.CreatedAt,
		Version:     r.Version,
		SourceMeta: chunk.SourceMeta{
			SourceID:   r.SourceID,
			SourceName: r.SourceName,
		},
	}
	if r.SourceContentType != nil {
		c.SourceContentType = *r.SourceContentType
	}
	if r.SourceFileSize != nil {
		c.SourceFileSize = *r.SourceFileSize
	}
	if r.SourceFileHash != nil {
		c.SourceFileHash = *r.SourceFileHash
	}
	if r.StartIndex != nil {
		v := int(*r.StartIndex)
		c.StartIndex = &v
	}
	if r.EndIndex != nil {
		v := int(*r.EndIndex)
		c.EndIndex = &v
	}
	if r.PageNumber != nil {
		v := int(*r.PageNumber)
		c.PageNumber = &v
	}
	c.SourceLocation = r.SourceLocation
	return c
}
