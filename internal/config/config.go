// Package config loads the daemon's configuration (spec 6): a single Config
// struct populated through defaults, then the user config, then the
// project/vault config, then environment overrides, each layer merging only
// its non-zero fields, following the teacher's precedence-chain convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChunkingConfig mirrors chunk.Options' tunables (spec 6's "chunking.*").
type ChunkingConfig struct {
	SimilarityThreshold float32  `yaml:"similarity_threshold" json:"similarity_threshold"`
	MinChunkSize        int      `yaml:"min_chunk_size" json:"min_chunk_size"`
	MaxChunkSize        int      `yaml:"max_chunk_size" json:"max_chunk_size"`
	Delimiters          []string `yaml:"delimiters,omitempty" json:"delimiters,omitempty"`
}

// Config is the complete daemon configuration, enumerating every knob
// spec 6 lists.
type Config struct {
	// DataPath is the directory holding the version map, index, and
	// archives.
	DataPath string `yaml:"data_path" json:"data_path"`

	// EmbeddingDimension is the embedding vector width D (e.g. 1024).
	EmbeddingDimension int `yaml:"embedding_dimension" json:"embedding_dimension"`

	// DebounceDelayMS is how long a changed path sits pending before C7
	// promotes it to the ready queue. Default 1000.
	DebounceDelayMS int `yaml:"debounce_delay_ms" json:"debounce_delay_ms"`

	// LockTimeoutSeconds bounds how long a per-path lock may be held.
	// Default 300.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds" json:"lock_timeout_seconds"`

	// MaxRetries is C8's retry ceiling before a task is dropped. Default 3.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// AllowedExtensions restricts ingestion to these extensions; nil (the
	// zero value) means all extensions are allowed.
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty" json:"allowed_extensions,omitempty"`

	// ExcludePatterns matches any path segment, case-insensitively.
	// Default {.git, .vs, node_modules, bin, obj}.
	ExcludePatterns []string `yaml:"exclude_patterns" json:"exclude_patterns"`

	// EmbeddingSyncIntervalSeconds is C9's tick period. Default 30.
	EmbeddingSyncIntervalSeconds int `yaml:"embedding_sync_interval_seconds" json:"embedding_sync_interval_seconds"`

	// EmbeddingBatchSize bounds how many chunks C9 pulls per tick.
	// Default 50.
	EmbeddingBatchSize int `yaml:"embedding_batch_size" json:"embedding_batch_size"`

	// Chunking configures the semantic chunker (C3).
	Chunking ChunkingConfig `yaml:"chunking" json:"chunking"`
}

// NewConfig returns spec 6's stated defaults.
func NewConfig() *Config {
	return &Config{
		DataPath:                     defaultDataPath(),
		EmbeddingDimension:           1024,
		DebounceDelayMS:              1000,
		LockTimeoutSeconds:           300,
		MaxRetries:                   3,
		AllowedExtensions:            nil,
		ExcludePatterns:              []string{".git", ".vs", "node_modules", "bin", "obj"},
		EmbeddingSyncIntervalSeconds: 30,
		EmbeddingBatchSize:           50,
		Chunking: ChunkingConfig{
			SimilarityThreshold: 0.5,
			MinChunkSize:        100,
			MaxChunkSize:        1000,
		},
	}
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vaultindex", "data")
	}
	return filepath.Join(home, ".vaultindex", "data")
}

// DebounceDelay returns DebounceDelayMS as a time.Duration.
func (c *Config) DebounceDelay() time.Duration {
	return time.Duration(c.DebounceDelayMS) * time.Millisecond
}

// LockTimeout returns LockTimeoutSeconds as a time.Duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// EmbeddingSyncInterval returns EmbeddingSyncIntervalSeconds as a
// time.Duration.
func (c *Config) EmbeddingSyncInterval() time.Duration {
	return time.Duration(c.EmbeddingSyncIntervalSeconds) * time.Second
}

// GetUserConfigPath returns the XDG user configuration path:
// $XDG_CONFIG_HOME/vaultindex/config.yaml, or ~/.config/vaultindex/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vaultindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "vaultindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "vaultindex", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// ProjectConfigPath returns the vault-level config path for a given
// data_path: <data_path>/vaultindex.yaml.
func ProjectConfigPath(dataPath string) string {
	return filepath.Join(dataPath, "vaultindex.yaml")
}

// Load builds a Config by applying, in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config (GetUserConfigPath)
//  3. Project/vault config (ProjectConfigPath(dataPath))
//  4. VAULTINDEX_* environment variables
//
// A non-empty dataPath overrides the user config's data_path and locates the
// project config file; a project config's own data_path (if set) does not
// relocate where that same file was read from.
func Load(dataPath string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.mergeFile(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}

	if dataPath != "" {
		cfg.DataPath = dataPath
	}

	if err := cfg.mergeFile(ProjectConfigPath(cfg.DataPath)); err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays other's non-zero fields onto c.
func (c *Config) mergeWith(other *Config) {
	if other.DataPath != "" {
		c.DataPath = other.DataPath
	}
	if other.EmbeddingDimension != 0 {
		c.EmbeddingDimension = other.EmbeddingDimension
	}
	if other.DebounceDelayMS != 0 {
		c.DebounceDelayMS = other.DebounceDelayMS
	}
	if other.LockTimeoutSeconds != 0 {
		c.LockTimeoutSeconds = other.LockTimeoutSeconds
	}
	if other.MaxRetries != 0 {
		c.MaxRetries = other.MaxRetries
	}
	if len(other.AllowedExtensions) > 0 {
		c.AllowedExtensions = other.AllowedExtensions
	}
	if len(other.ExcludePatterns) > 0 {
		c.ExcludePatterns = other.ExcludePatterns
	}
	if other.EmbeddingSyncIntervalSeconds != 0 {
		c.EmbeddingSyncIntervalSeconds = other.EmbeddingSyncIntervalSeconds
	}
	if other.EmbeddingBatchSize != 0 {
		c.EmbeddingBatchSize = other.EmbeddingBatchSize
	}
	if other.Chunking.SimilarityThreshold != 0 {
		c.Chunking.SimilarityThreshold = other.Chunking.SimilarityThreshold
	}
	if other.Chunking.MinChunkSize != 0 {
		c.Chunking.MinChunkSize = other.Chunking.MinChunkSize
	}
	if other.Chunking.MaxChunkSize != 0 {
		c.Chunking.MaxChunkSize = other.Chunking.MaxChunkSize
	}
	if len(other.Chunking.Delimiters) > 0 {
		c.Chunking.Delimiters = other.Chunking.Delimiters
	}
}

// applyEnvOverrides applies VAULTINDEX_* environment variable overrides,
// the final and highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VAULTINDEX_DATA_PATH"); v != "" {
		c.DataPath = v
	}
	if v := os.Getenv("VAULTINDEX_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingDimension = n
		}
	}
	if v := os.Getenv("VAULTINDEX_DEBOUNCE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DebounceDelayMS = n
		}
	}
	if v := os.Getenv("VAULTINDEX_LOCK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LockTimeoutSeconds = n
		}
	}
	if v := os.Getenv("VAULTINDEX_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("VAULTINDEX_ALLOWED_EXTENSIONS"); v != "" {
		c.AllowedExtensions = splitCommaList(v)
	}
	if v := os.Getenv("VAULTINDEX_EXCLUDE_PATTERNS"); v != "" {
		c.ExcludePatterns = splitCommaList(v)
	}
	if v := os.Getenv("VAULTINDEX_EMBEDDING_SYNC_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingSyncIntervalSeconds = n
		}
	}
	if v := os.Getenv("VAULTINDEX_EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EmbeddingBatchSize = n
		}
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path must not be empty")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive, got %d", c.EmbeddingDimension)
	}
	if c.DebounceDelayMS <= 0 {
		return fmt.Errorf("debounce_delay_ms must be positive, got %d", c.DebounceDelayMS)
	}
	if c.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("lock_timeout_seconds must be positive, got %d", c.LockTimeoutSeconds)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.EmbeddingSyncIntervalSeconds <= 0 {
		return fmt.Errorf("embedding_sync_interval_seconds must be positive, got %d", c.EmbeddingSyncIntervalSeconds)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("embedding_batch_size must be positive, got %d", c.EmbeddingBatchSize)
	}
	if c.Chunking.MinChunkSize <= 0 || c.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("chunking.min_chunk_size and max_chunk_size must be positive")
	}
	if c.Chunking.MinChunkSize > c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunking.min_chunk_size (%d) must not exceed max_chunk_size (%d)", c.Chunking.MinChunkSize, c.Chunking.MaxChunkSize)
	}
	if c.Chunking.SimilarityThreshold < 0 || c.Chunking.SimilarityThreshold > 1 {
		return fmt.Errorf("chunking.similarity_threshold must be between 0 and 1, got %f", c.Chunking.SimilarityThreshold)
	}
	return nil
}

// WriteYAML serializes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// MatchesExcludePattern reports whether segment (a single path component)
// matches one of ExcludePatterns, case-insensitively (spec 6).
func (c *Config) MatchesExcludePattern(segment string) bool {
	lower := strings.ToLower(segment)
	for _, p := range c.ExcludePatterns {
		if strings.ToLower(p) == lower {
			return true
		}
	}
	return false
}
