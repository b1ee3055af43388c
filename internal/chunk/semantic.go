package chunk

import (
	"context"
	"fmt"
	"strings"

	vaulterrors "github.com/vaultindex/vaultindex/internal/errors"
)

// Embedder is the capability C3 consumes from C2: map text to an
// L2-normalized vector. Satisfied by internal/embed.Embedder.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// sentence is the transient, internal-to-chunking unit spec 3 names.
type sentence struct {
	text       string
	startIndex int
	endIndex   int
}

// splitSentences performs the left-to-right delimiter scan spec 4.1 step 1
// describes: at every position, the first matching delimiter (in the order
// listed) ends a sentence; the trimmed span is kept if nonempty, and empty
// spans still advance the scan.
func splitSentences(t string, delimiters []string) []sentence {
	var out []sentence
	currentStart := 0
	i := 0
	for i < len(t) {
		matched := false
		for _, d := range delimiters {
			if d == "" {
				continue
			}
			if strings.HasPrefix(t[i:], d) {
				end := i + len(d)
				raw := t[currentStart:end]
				if text, relStart, relEnd := TrimSpan(raw); text != "" {
					out = append(out, sentence{
						text:       text,
						startIndex: currentStart + relStart,
						endIndex:   currentStart + relEnd,
					})
				}
				currentStart = end
				i = end
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}

	if currentStart < len(t) {
		raw := t[currentStart:]
		if text, relStart, relEnd := TrimSpan(raw); text != "" {
			out = append(out, sentence{
				text:       text,
				startIndex: currentStart + relStart,
				endIndex:   currentStart + relEnd,
			})
		}
	}

	return out
}

// cosineSimilarity computes Σ a_i b_i / (‖a‖·‖b‖) in 32-bit float, per spec
// 4.1 — callers must not assume inputs are pre-normalized.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrtf32(normA) * sqrtf32(normB))
}

func sqrtf32(v float32) float32 {
	// Fixed 20 Newton-Raphson iterations on the float64 promotion, starting
	// from z = x, instead of importing math for a single call site.
	x := float64(v)
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return float32(z)
}

// Chunker splits text into semantically coherent chunks using an embedding
// model as a boundary oracle (spec 4.1).
type Chunker struct {
	embedder Embedder
	opts     Options
}

// NewChunker constructs a Chunker bound to an embedding service and options.
func NewChunker(embedder Embedder, opts Options) *Chunker {
	return &Chunker{embedder: embedder, opts: opts}
}

// Chunk runs the full sentence-split → embed → break-point → assembly
// pipeline spec 4.1 describes, against source text T attributed to meta.
func (c *Chunker) Chunk(ctx context.Context, text string, meta SourceMeta) ([]*Chunk, error) {
	sentences := splitSentences(text, c.opts.Delimiters)
	if len(sentences) == 0 {
		return nil, nil
	}

	if len(sentences) == 1 {
		trimmed, _, _ := TrimSpan(text)
		return []*Chunk{c.newChunk(meta, 0, trimmed, 0, len(text))}, nil
	}

	texts := make([]string, len(sentences))
	for i, s := range sentences {
		texts[i] = s.text
	}

	embeddings, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.ErrCodeEmbeddingFailed, err)
	}
	if len(embeddings) != len(sentences) {
		return nil, fmt.Errorf("embedding count %d does not match sentence count %d", len(embeddings), len(sentences))
	}

	isBreak := make([]bool, len(sentences))
	for i := 0; i < len(sentences)-1; i++ {
		sim := cosineSimilarity(embeddings[i], embeddings[i+1])
		if sim < c.opts.SimilarityThreshold {
			isBreak[i+1] = true
		}
	}

	var chunks []*Chunk
	chunkStartSentence := 0
	accumulatedLen := 0
	chunkIndex := 0

	for i, s := range sentences {
		accumulatedLen += len(s.text)
		last := i == len(sentences)-1

		emit := accumulatedLen >= c.opts.MaxChunkSize ||
			(!last && isBreak[i+1] && accumulatedLen >= c.opts.MinChunkSize) ||
			last

		if emit {
			first := sentences[chunkStartSentence]
			spanText := text[first.startIndex:s.endIndex]
			trimmed, trimStart, trimEnd := TrimSpan(spanText)
			chunks = append(chunks, c.newChunk(meta, chunkIndex, trimmed,
				first.startIndex+trimStart, first.startIndex+trimEnd))
			chunkIndex++
			chunkStartSentence = i + 1
			accumulatedLen = 0
		}
	}

	return chunks, nil
}

func (c *Chunker) newChunk(meta SourceMeta, index int, text string, start, end int) *Chunk {
	contentHash := HashContent(text)
	s, e := start, end
	return &Chunk{
		ID:          DeriveID(meta.SourceID, contentHash),
		ContentHash: contentHash,
		ChunkIndex:  index,
		Text:        text,
		StartIndex:  &s,
		EndIndex:    &e,
		SourceMeta:  meta,
	}
}
