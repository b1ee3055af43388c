// Package ingest implements the text-extraction capability (spec C1) and the
// structured per-file result reporting spec 7 describes for the bundled
// ingestion tool.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// TextExtraction is one record C1 yields: text plus its content type and
// optional page/location metadata (spec 4.8).
type TextExtraction struct {
	Text           string
	ContentType    string
	PageNumber     *int
	SourceLocation *string
}

// Extractor turns an input into a slice of TextExtraction records.
type Extractor interface {
	// Supports reports whether this extractor handles the given (lowercase,
	// no leading dot) file extension.
	Supports(ext string) bool

	// ExtractPath extracts from a file on disk.
	ExtractPath(ctx context.Context, path string) ([]TextExtraction, error)

	// ExtractBytes extracts from an in-memory byte stream tagged with a
	// content type.
	ExtractBytes(ctx context.Context, data []byte, contentType string) ([]TextExtraction, error)
}

// plainTextExtensions is the required default extractor's coverage (spec 4.8).
var plainTextExtensions = map[string]bool{
	"txt": true, "md": true, "markdown": true, "csv": true, "json": true,
	"xml": true, "html": true, "htm": true, "log": true, "ini": true,
	"cfg": true, "yaml": true, "yml": true,
}

// PlainTextExtractor is the required default C1 implementation: every
// extension in plainTextExtensions yields exactly one extraction containing
// the whole file body decoded as UTF-8.
type PlainTextExtractor struct{}

// NewPlainTextExtractor constructs the default plain-text extractor.
func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

// Supports implements Extractor.
func (PlainTextExtractor) Supports(ext string) bool {
	return plainTextExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// ExtractPath implements Extractor.
func (p PlainTextExtractor) ExtractPath(ctx context.Context, path string) ([]TextExtraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := readAllCtx(ctx, f)
	if err != nil {
		return nil, err
	}

	ext := strings.TrimPrefix(strings.ToLower(extOf(path)), ".")
	return p.ExtractBytes(ctx, data, ext)
}

// ExtractBytes implements Extractor.
func (PlainTextExtractor) ExtractBytes(_ context.Context, data []byte, contentType string) ([]TextExtraction, error) {
	text := data
	if !utf8.Valid(text) {
		// Decode best-effort: drop invalid sequences rather than failing
		// the whole extraction, matching the extractor's "decoded as
		// UTF-8" contract loosely (spec 4.8 does not define replacement
		// behavior for invalid bytes).
		text = bytes.ToValidUTF8(text, nil)
	}
	return []TextExtraction{{
		Text:        string(text),
		ContentType: contentType,
	}}, nil
}

func readAllCtx(ctx context.Context, r io.Reader) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return io.ReadAll(r)
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return path[idx:]
}

// Registry dispatches ExtractPath/ExtractBytes to the first registered
// extractor whose Supports matches.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry, with the plain-text extractor first so it
// is the default for every extension spec 4.8 names.
func NewRegistry(extras ...Extractor) *Registry {
	return &Registry{extractors: append([]Extractor{NewPlainTextExtractor()}, extras...)}
}

// For returns the extractor that supports ext, or nil.
func (r *Registry) For(ext string) Extractor {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range r.extractors {
		if e.Supports(ext) {
			return e
		}
	}
	return nil
}
