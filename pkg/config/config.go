// Package config defines the runtime configuration surface: storage
// backend selection, session lifetimes, memory decay parameters,
// recall fusion weights, and extraction batching knobs.
//
// Every section follows the same contract: yaml tags for declarative
// files, SetDefaults for zero-value filling, Validate for fail-fast
// startup errors.
package config

import (
	"fmt"
	"time"

	"github.com/agentdock/agentdock-core/pkg/memory"
	"github.com/agentdock/agentdock-core/pkg/vector"
)

// Config is the root configuration.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging,omitempty" json:"logging,omitempty"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Session       SessionConfig       `yaml:"session,omitempty" json:"session,omitempty"`
	Orchestration OrchestrationConfig `yaml:"orchestration,omitempty" json:"orchestration,omitempty"`
	Memory        MemoryConfig        `yaml:"memory,omitempty" json:"memory,omitempty"`
	Recall        RecallConfig        `yaml:"recall,omitempty" json:"recall,omitempty"`
	Extraction    ExtractionConfig    `yaml:"extraction,omitempty" json:"extraction,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Storage.SetDefaults()
	c.Session.SetDefaults()
	c.Orchestration.SetDefaults()
	c.Memory.SetDefaults()
	c.Recall.SetDefaults()
	c.Extraction.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Orchestration.Validate(); err != nil {
		return fmt.Errorf("orchestration: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Recall.Validate(); err != nil {
		return fmt.Errorf("recall: %w", err)
	}
	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction: %w", err)
	}
	return nil
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// Format is "simple" or "verbose".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// StorageType selects the storage backend.
type StorageType string

const (
	StorageMemory   StorageType = "memory"
	StorageSQLite   StorageType = "sqlite"
	StoragePostgres StorageType = "postgres"
	StorageMySQL    StorageType = "mysql"
)

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type is the backend: memory, sqlite, postgres, mysql.
	Type StorageType `yaml:"type" json:"type"`

	// Namespace prefixes every key the provider writes.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Database configures SQL backends (required for sqlite/postgres/mysql).
	Database *DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`

	// Vector attaches a vector index to the backend (optional).
	Vector *vector.ProviderConfig `yaml:"vector,omitempty" json:"vector,omitempty"`

	// EmbedderDimension sizes the built-in hashing embedder used when no
	// external embedding provider is wired in (default 256).
	EmbedderDimension int `yaml:"embedder_dimension,omitempty" json:"embedder_dimension,omitempty"`
}

// SetDefaults applies default values.
func (c *StorageConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = StorageMemory
	}
	if c.EmbedderDimension == 0 {
		c.EmbedderDimension = 256
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
	if c.Vector != nil {
		c.Vector.SetDefaults()
	}
}

// Validate checks the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Type {
	case StorageMemory:
		// no required fields
	case StorageSQLite, StoragePostgres, StorageMySQL:
		if c.Database == nil {
			return fmt.Errorf("database configuration is required for %s storage", c.Type)
		}
		if err := c.Database.Validate(); err != nil {
			return err
		}
		if dialect := c.Database.Dialect(); dialect != string(c.Type) {
			return fmt.Errorf("storage type %q does not match database driver %q", c.Type, c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown storage type: %q", c.Type)
	}

	if c.Vector != nil {
		if err := c.Vector.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SessionConfig controls session lifetime and sweeping.
type SessionConfig struct {
	// TTL is the idle lifetime of a session.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// SweepInterval is the cadence of the expiry sweeper.
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty"`
}

// SetDefaults applies default values.
func (c *SessionConfig) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = 30 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// Validate checks the session configuration.
func (c *SessionConfig) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("ttl must be non-negative")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must be non-negative")
	}
	return nil
}

// OrchestrationConfig holds runtime knobs for the orchestration engine.
// The step machine itself is caller-supplied per turn, not configured here.
type OrchestrationConfig struct {
	// RecentToolsCap bounds the recently-used-tools list per session.
	RecentToolsCap int `yaml:"recent_tools_cap,omitempty" json:"recent_tools_cap,omitempty"`
}

// SetDefaults applies default values.
func (c *OrchestrationConfig) SetDefaults() {
	if c.RecentToolsCap == 0 {
		c.RecentToolsCap = 20
	}
}

// Validate checks the orchestration configuration.
func (c *OrchestrationConfig) Validate() error {
	if c.RecentToolsCap < 1 {
		return fmt.Errorf("recent_tools_cap must be >= 1")
	}
	return nil
}

// MemoryConfig holds memory subsystem parameters.
type MemoryConfig struct {
	// Decay parameterizes the resonance decay sweep.
	Decay memory.DecayRules `yaml:"decay,omitempty" json:"decay,omitempty"`
}

// SetDefaults applies default values.
func (c *MemoryConfig) SetDefaults() {
	if c.Decay.Rate == 0 {
		c.Decay.Rate = 0.05
	}
	if c.Decay.ImportanceWeight == 0 {
		c.Decay.ImportanceWeight = 0.01
	}
	c.Decay.SetDefaults()
}

// Validate checks the memory configuration.
func (c *MemoryConfig) Validate() error {
	return c.Decay.Validate()
}

// HybridWeights are the cross-tier recall fusion weights.
type HybridWeights struct {
	Vector     float64 `yaml:"vector" json:"vector"`
	Text       float64 `yaml:"text" json:"text"`
	Temporal   float64 `yaml:"temporal" json:"temporal"`
	Procedural float64 `yaml:"procedural" json:"procedural"`
}

// RecallConfig tunes the cross-tier recall service.
type RecallConfig struct {
	// HybridWeights blend vector, text, temporal, and procedural signals.
	HybridWeights HybridWeights `yaml:"hybrid_weights,omitempty" json:"hybrid_weights,omitempty"`

	// Limit is the default result cap.
	Limit int `yaml:"limit,omitempty" json:"limit,omitempty"`

	// MinRelevance drops results below this fused score.
	MinRelevance float64 `yaml:"min_relevance,omitempty" json:"min_relevance,omitempty"`

	// MaxRelatedDepth bounds connection-graph expansion of top results.
	MaxRelatedDepth int `yaml:"max_related_depth,omitempty" json:"max_related_depth,omitempty"`

	// CacheTTL enables the per-query result cache when > 0.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty" json:"cache_ttl,omitempty"`
}

// SetDefaults applies default values.
func (c *RecallConfig) SetDefaults() {
	w := &c.HybridWeights
	if w.Vector == 0 && w.Text == 0 && w.Temporal == 0 && w.Procedural == 0 {
		w.Vector = 0.4
		w.Text = 0.3
		w.Temporal = 0.2
		w.Procedural = 0.1
	}
	if c.Limit == 0 {
		c.Limit = 20
	}
	if c.MaxRelatedDepth == 0 {
		c.MaxRelatedDepth = 2
	}
}

// Validate checks the recall configuration.
func (c *RecallConfig) Validate() error {
	w := c.HybridWeights
	for name, v := range map[string]float64{
		"vector": w.Vector, "text": w.Text, "temporal": w.Temporal, "procedural": w.Procedural,
	} {
		if v < 0 {
			return fmt.Errorf("hybrid weight %s must be non-negative", name)
		}
	}
	if c.Limit < 1 {
		return fmt.Errorf("limit must be >= 1")
	}
	if c.MinRelevance < 0 {
		return fmt.Errorf("min_relevance must be non-negative")
	}
	if c.MaxRelatedDepth < 0 {
		return fmt.Errorf("max_related_depth must be non-negative")
	}
	return nil
}

// ExtractionConfig tunes message batching and sampling.
type ExtractionConfig struct {
	// MaxBatchSize fires a batch when the buffer reaches this size.
	MaxBatchSize int `yaml:"max_batch_size,omitempty" json:"max_batch_size,omitempty"`

	// MinBatchSize is the smallest buffer a timeout flush will process.
	MinBatchSize int `yaml:"min_batch_size,omitempty" json:"min_batch_size,omitempty"`

	// Timeout flushes a buffer that has been idle this long.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// ExtractionRate is the sampling probability per batch (0..1).
	ExtractionRate float64 `yaml:"extraction_rate,omitempty" json:"extraction_rate,omitempty"`

	// MinMessageLength drops shorter messages before batching.
	MinMessageLength int `yaml:"min_message_length,omitempty" json:"min_message_length,omitempty"`
}

// SetDefaults applies default values.
func (c *ExtractionConfig) SetDefaults() {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 20
	}
	if c.MinBatchSize == 0 {
		c.MinBatchSize = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.ExtractionRate == 0 {
		c.ExtractionRate = 0.2
	}
	if c.MinMessageLength == 0 {
		c.MinMessageLength = 10
	}
}

// Validate checks the extraction configuration.
func (c *ExtractionConfig) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be >= 1")
	}
	if c.MinBatchSize < 1 || c.MinBatchSize > c.MaxBatchSize {
		return fmt.Errorf("min_batch_size must be in [1, max_batch_size]")
	}
	if c.ExtractionRate < 0 || c.ExtractionRate > 1 {
		return fmt.Errorf("extraction_rate must be in [0,1]")
	}
	if c.MinMessageLength < 0 {
		return fmt.Errorf("min_message_length must be non-negative")
	}
	return nil
}
