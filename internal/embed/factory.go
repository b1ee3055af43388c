package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses Ollama's HTTP API for embeddings (default).
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (offline fallback).
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder based on provider type.
// VAULTINDEX_EMBEDDER overrides the provider ("ollama" or "static");
// VAULTINDEX_EMBED_CACHE=false disables the query-result cache that wraps
// whichever backend is selected (saves 50-200ms per repeated chunk/query).
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	var embedder Embedder
	var err error

	envProvider := os.Getenv("VAULTINDEX_EMBEDDER")
	if envProvider != "" {
		switch strings.ToLower(envProvider) {
		case "ollama":
			embedder, err = newOllamaFromEnv(ctx, model)
		case "static":
			embedder, err = NewStaticEmbedder(), nil
		default:
			return nil, fmt.Errorf("unknown VAULTINDEX_EMBEDDER %q (want ollama or static)", envProvider)
		}
	}

	if embedder == nil && err == nil {
		switch provider {
		case ProviderOllama:
			embedder, err = newOllamaFromEnv(ctx, model)
		case ProviderStatic:
			embedder, err = NewStaticEmbedder(), nil
		default:
			embedder, err = newOllamaFromEnv(ctx, model)
		}
	}

	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}

	return embedder, nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("VAULTINDEX_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newOllamaFromEnv builds an OllamaEmbedder, applying host/model/timeout
// overrides from the environment on top of DefaultOllamaConfig.
func newOllamaFromEnv(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" && isOllamaModelName(model) {
		cfg.Model = model
	}
	if host := os.Getenv("VAULTINDEX_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if modelOverride := os.Getenv("VAULTINDEX_OLLAMA_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}
	if dimStr := os.Getenv("VAULTINDEX_EMBEDDING_DIMENSION"); dimStr != "" {
		if dim, err := parseInt(dimStr); err == nil && dim > 0 {
			cfg.Dimensions = dim
		}
	}

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding backend unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or set VAULTINDEX_EMBEDDER=static for the offline fallback", err)
	}
	return embedder, nil
}

// NewDefaultEmbedder creates an embedder with the static provider as the
// requested backend, useful for tests and for bootstrapping a vault before
// any backend has been configured. VAULTINDEX_EMBEDDER, when set, still
// takes precedence over that choice.
func NewDefaultEmbedder(ctx context.Context) (Embedder, error) {
	return NewEmbedder(ctx, ProviderStatic, "")
}

// ParseProvider converts a string to ProviderType.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "static":
		return ProviderStatic
	default:
		return ProviderOllama
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// isOllamaModelName reports whether model looks like an Ollama model
// reference (has a ":" tag) rather than a bare GGUF filename.
func isOllamaModelName(model string) bool {
	if strings.Contains(model, ":") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(model), ".gguf") {
		return false
	}
	if strings.Contains(model, "-v") && (strings.Contains(model, ".") || strings.HasSuffix(model, "-v1") || strings.HasSuffix(model, "-v2")) {
		return false
	}
	return false
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	return n, err
}
