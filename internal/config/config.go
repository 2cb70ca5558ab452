// Package config holds all enmap configuration, loaded from YAML with
// environment-variable overrides. Every tuning knob of the engine (thresholds,
// batch sizes, quality weights and buckets, retry policy) lives here rather
// than as hidden constants.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all enmap configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Engine/orchestration settings
	Engine EngineConfig `yaml:"engine"`

	// External inference service
	Inference InferenceConfig `yaml:"inference"`

	// Retry/backoff/circuit-breaker policy around inference
	Resilience ResilienceConfig `yaml:"resilience"`

	// Pattern memory and its persistence
	Memory MemoryConfig `yaml:"memory"`

	// Quality assessment weights and level buckets
	Quality QualityConfig `yaml:"quality"`

	// Post-batch reflection
	Reflection ReflectionConfig `yaml:"reflection"`

	// Device-group result cache
	Cache CacheConfig `yaml:"cache"`

	// Target schema reference
	Schema SchemaConfig `yaml:"schema"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the task orchestrator and strategy pipeline.
type EngineConfig struct {
	// AcceptanceThreshold is the minimum candidate confidence a strategy
	// must clear for the pipeline to stop iterating.
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`

	// BatchSize is the number of points per batch (20-50 sensible).
	BatchSize int `yaml:"batch_size"`

	// MaxConcurrentBatches bounds batches in flight.
	MaxConcurrentBatches int `yaml:"max_concurrent_batches"`

	// WorkerPoolSize bounds concurrent point workers across all batches.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// MaxPointsPerTask rejects oversized tasks at acceptance time.
	MaxPointsPerTask int `yaml:"max_points_per_task"`

	// PerPointBudget is the time budget for one point end to end.
	PerPointBudget string `yaml:"per_point_budget"`

	// TaskTimeoutCeiling caps the derived whole-task deadline.
	TaskTimeoutCeiling string `yaml:"task_timeout_ceiling"`

	// TaskDatabasePath persists task snapshots across restarts.
	// Empty keeps task state in process memory only.
	TaskDatabasePath string `yaml:"task_database_path"`
}

// InferenceConfig configures the external inference service client.
type InferenceConfig struct {
	Provider      string `yaml:"provider"` // http, gemini, none
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	Timeout       string `yaml:"timeout"`
	MaxVocabulary int    `yaml:"max_vocabulary"`
}

// ResilienceConfig configures retry, backoff, and the circuit breaker.
type ResilienceConfig struct {
	MaxRetries        int     `yaml:"max_retries"`
	InitialBackoff    string  `yaml:"initial_backoff"`
	MaxBackoff        string  `yaml:"max_backoff"`
	JitterFraction    float64 `yaml:"jitter_fraction"`
	BreakerThreshold  int     `yaml:"breaker_threshold"`
	BreakerCooldown   string  `yaml:"breaker_cooldown"`
}

// MemoryConfig configures pattern memory.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`

	// Bayesian smoothing priors for the stored success rate:
	// confidence = (success + alpha) / (usage + alpha + beta)
	PriorAlpha float64 `yaml:"prior_alpha"`
	PriorBeta  float64 `yaml:"prior_beta"`

	// DecayFactor is applied on contradicting feedback.
	DecayFactor float64 `yaml:"decay_factor"`

	// MinConfidence is the floor decayed patterns never drop below.
	MinConfidence float64 `yaml:"min_confidence"`

	// UsagePivot controls the usage-count discount for direct pattern
	// matches: factor = usage / (usage + pivot).
	UsagePivot float64 `yaml:"usage_pivot"`

	// RecencyHalfLife halves a pattern's recency factor per elapsed period.
	RecencyHalfLife string `yaml:"recency_half_life"`
}

// QualityConfig configures the quality assessor.
// Weights need not sum to one; scores are normalized by the weight total.
type QualityConfig struct {
	Weights QualityWeights `yaml:"weights"`
	Buckets QualityBuckets `yaml:"buckets"`
}

// QualityWeights weighs the independent assessment dimensions.
// Schema completeness is weighted highest: an invalid target path
// invalidates the rest.
type QualityWeights struct {
	Semantic      float64 `yaml:"semantic_correctness"`
	Convention    float64 `yaml:"convention_adherence"`
	Consistency   float64 `yaml:"consistency"`
	DeviceContext float64 `yaml:"device_context"`
	Schema        float64 `yaml:"schema_completeness"`
}

// QualityBuckets maps the overall score to discrete quality levels.
type QualityBuckets struct {
	Excellent float64 `yaml:"excellent"`
	Good      float64 `yaml:"good"`
	Fair      float64 `yaml:"fair"`
	Poor      float64 `yaml:"poor"`
}

// ReflectionConfig configures the post-batch reflection analyzer.
type ReflectionConfig struct {
	// MinFrequency is how often a source-fragment -> target-suffix
	// correspondence must recur within a batch to become a pattern.
	MinFrequency int `yaml:"min_frequency"`

	// Async runs analysis on a background worker instead of inline.
	Async bool `yaml:"async"`

	// QueueSize bounds the async worker's batch queue.
	QueueSize int `yaml:"queue_size"`
}

// CacheConfig configures the device-group result cache.
type CacheConfig struct {
	MaxEntries int    `yaml:"max_entries"`
	TTL        string `yaml:"ttl"`
}

// SchemaConfig configures the target schema reference.
type SchemaConfig struct {
	// Path to a YAML catalogue; empty uses the built-in catalogue.
	Path string `yaml:"path"`

	// Watch reloads the catalogue when the file changes.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "enmap",
		Version: "0.3.0",

		Engine: EngineConfig{
			AcceptanceThreshold:  0.4,
			BatchSize:            25,
			MaxConcurrentBatches: 4,
			WorkerPoolSize:       8,
			MaxPointsPerTask:     10000,
			PerPointBudget:       "6s",
			TaskTimeoutCeiling:   "10m",
			TaskDatabasePath:     ".enmap/tasks.db",
		},

		Inference: InferenceConfig{
			Provider:      "http",
			BaseURL:       "http://localhost:8090",
			Model:         "default",
			Timeout:       "5s",
			MaxVocabulary: 40,
		},

		Resilience: ResilienceConfig{
			MaxRetries:       2,
			InitialBackoff:   "200ms",
			MaxBackoff:       "2s",
			JitterFraction:   0.2,
			BreakerThreshold: 5,
			BreakerCooldown:  "30s",
		},

		Memory: MemoryConfig{
			DatabasePath:    ".enmap/patterns.db",
			PriorAlpha:      1.0,
			PriorBeta:       1.0,
			DecayFactor:     0.8,
			MinConfidence:   0.05,
			UsagePivot:      2.0,
			RecencyHalfLife: "720h", // 30 days
		},

		Quality: QualityConfig{
			Weights: QualityWeights{
				Semantic:      0.20,
				Convention:    0.15,
				Consistency:   0.15,
				DeviceContext: 0.15,
				Schema:        0.35,
			},
			Buckets: QualityBuckets{
				Excellent: 0.85,
				Good:      0.65,
				Fair:      0.45,
				Poor:      0.25,
			},
		},

		Reflection: ReflectionConfig{
			MinFrequency: 2,
			Async:        true,
			QueueSize:    16,
		},

		Cache: CacheConfig{
			MaxEntries: 1024,
			TTL:        "10m",
		},

		Schema: SchemaConfig{
			Path:  "",
			Watch: false,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the conventional config location in a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".enmap", "config.yaml")
}

// Load loads configuration from a YAML file.
// Missing file falls back to defaults; environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ENMAP_API_KEY"); key != "" {
		c.Inference.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Inference.APIKey = key
		c.Inference.Provider = "gemini"
	}
	if url := os.Getenv("ENMAP_INFERENCE_URL"); url != "" {
		c.Inference.BaseURL = url
	}
	if provider := os.Getenv("ENMAP_PROVIDER"); provider != "" {
		c.Inference.Provider = provider
	}
	if path := os.Getenv("ENMAP_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if path := os.Getenv("ENMAP_SCHEMA"); path != "" {
		c.Schema.Path = path
	}
	if v := os.Getenv("ENMAP_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.BatchSize = n
		}
	}
	if v := os.Getenv("ENMAP_ACCEPTANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Engine.AcceptanceThreshold = f
		}
	}
}

// Validate checks cross-field constraints that YAML decoding cannot.
func (c *Config) Validate() error {
	if c.Engine.AcceptanceThreshold < 0 || c.Engine.AcceptanceThreshold > 1 {
		return fmt.Errorf("engine.acceptance_threshold must be in [0,1], got %v", c.Engine.AcceptanceThreshold)
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Engine.WorkerPoolSize <= 0 {
		return fmt.Errorf("engine.worker_pool_size must be positive, got %d", c.Engine.WorkerPoolSize)
	}
	if c.Quality.Weights.Total() <= 0 {
		return fmt.Errorf("quality.weights must have a positive total")
	}
	b := c.Quality.Buckets
	if !(b.Excellent > b.Good && b.Good > b.Fair && b.Fair > b.Poor && b.Poor > 0) {
		return fmt.Errorf("quality.buckets must be strictly decreasing and positive")
	}
	switch c.Inference.Provider {
	case "http", "gemini", "none":
	default:
		return fmt.Errorf("inference.provider must be http, gemini, or none, got %q", c.Inference.Provider)
	}
	return nil
}

// Total returns the sum of all dimension weights.
func (w QualityWeights) Total() float64 {
	return w.Semantic + w.Convention + w.Consistency + w.DeviceContext + w.Schema
}

// Duration helpers. Each falls back to the documented default when the
// configured string fails to parse.

// PerPointBudgetDuration returns the per-point time budget.
func (c EngineConfig) PerPointBudgetDuration() time.Duration {
	return parseDuration(c.PerPointBudget, 6*time.Second)
}

// TaskTimeoutCeilingDuration returns the cap on the derived task deadline.
func (c EngineConfig) TaskTimeoutCeilingDuration() time.Duration {
	return parseDuration(c.TaskTimeoutCeiling, 10*time.Minute)
}

// TimeoutDuration returns the per-call inference timeout.
func (c InferenceConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 5*time.Second)
}

// InitialBackoffDuration returns the first retry delay.
func (c ResilienceConfig) InitialBackoffDuration() time.Duration {
	return parseDuration(c.InitialBackoff, 200*time.Millisecond)
}

// MaxBackoffDuration returns the retry delay ceiling.
func (c ResilienceConfig) MaxBackoffDuration() time.Duration {
	return parseDuration(c.MaxBackoff, 2*time.Second)
}

// BreakerCooldownDuration returns the open-state cooldown.
func (c ResilienceConfig) BreakerCooldownDuration() time.Duration {
	return parseDuration(c.BreakerCooldown, 30*time.Second)
}

// RecencyHalfLifeDuration returns the pattern recency half-life.
func (c MemoryConfig) RecencyHalfLifeDuration() time.Duration {
	return parseDuration(c.RecencyHalfLife, 720*time.Hour)
}

// TTLDuration returns the cache entry TTL.
func (c CacheConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, 10*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
