package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultWarmTimeout is the timeout for subsequent requests once the
	// backend is already warmed up.
	DefaultWarmTimeout = 30 * time.Second

	// DefaultColdTimeout is the timeout for the first request, when the
	// backend may still need to load a model.
	DefaultColdTimeout = 120 * time.Second

	// ModelUnloadThreshold is the duration after which a backend is assumed
	// to have unloaded its model and gone "cold" again.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3
)

// DefaultDimensions is the embedding dimension the bundled reference
// backend (internal/embed.OllamaEmbedder) auto-detects towards when a
// vault does not pin one explicitly. It must match the fixed dimension D
// an index was created with; embeddings of any other width are rejected
// at the store boundary.
const DefaultDimensions = 768

// StaticDimensions is the embedding dimension NewStaticEmbedder produces.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
