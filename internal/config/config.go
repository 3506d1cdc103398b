// Package config provides configuration management for tachyon engines,
// coordinators and workers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration of a tachyon process
type Config struct {
	// Local Execution Configuration
	ParallelThreshold int `json:"parallel_threshold" yaml:"parallel_threshold"` // Minimum rows to trigger parallel processing
	WorkerPoolSize    int `json:"worker_pool_size" yaml:"worker_pool_size"`     // Number of worker goroutines (0 = auto-detect)
	ChunkSize         int `json:"chunk_size" yaml:"chunk_size"`                 // Rows per chunk (0 = auto-calculate)

	Distributed DistributedConfig    `json:"distributed" yaml:"distributed"`
	Logging     logging.Config       `json:"logging" yaml:"logging"`
	Metrics     MetricsConfig        `json:"metrics" yaml:"metrics"`
	ObjectStore io.ObjectStoreConfig `json:"object_store" yaml:"object_store"`
}

// DistributedConfig configures the coordinator and worker services.
type DistributedConfig struct {
	Partitions     int      `json:"partitions" yaml:"partitions"`           // Ranges per run (0 = one per worker)
	Concurrency    int      `json:"concurrency" yaml:"concurrency"`         // Tasks a worker runs at once (0 = CPU count)
	MemoryLimit    int64    `json:"memory_limit" yaml:"memory_limit"`       // Bytes of range data a worker accepts at once (0 = unlimited)
	Workers        []string `json:"workers" yaml:"workers"`                 // Worker base URLs for the HTTP transport
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"` // Per task request timeout
	Compression    bool     `json:"compression" yaml:"compression"`         // zstd request bodies and inline data
	CacheSize      int      `json:"cache_size" yaml:"cache_size"`           // Datasets a worker keeps open
}

// MetricsConfig configures metrics collection and the monitoring server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

// Global configuration instance
var (
	globalConfig Config
	configMutex  sync.RWMutex
)

// Default configuration values
const (
	DefaultParallelThreshold = 1000
	DefaultTimeoutSeconds    = 60
	DefaultCacheSize         = 8
	DefaultMetricsAddress    = ":9464"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Initialize global configuration with defaults
func init() {
	globalConfig = NewConfig()
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		ParallelThreshold: DefaultParallelThreshold,
		WorkerPoolSize:    0, // Auto-detect
		ChunkSize:         0, // Auto-calculate

		Distributed: DistributedConfig{
			TimeoutSeconds: DefaultTimeoutSeconds,
			Compression:    true,
			CacheSize:      DefaultCacheSize,
		},
		Logging: logging.Config{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
		},
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.ParallelThreshold <= 0 {
		return fmt.Errorf("ParallelThreshold must be positive, got %d", c.ParallelThreshold)
	}

	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("WorkerPoolSize must be non-negative, got %d", c.WorkerPoolSize)
	}

	if c.ChunkSize < 0 {
		return fmt.Errorf("ChunkSize must be non-negative, got %d", c.ChunkSize)
	}

	d := c.Distributed
	if d.Partitions < 0 {
		return fmt.Errorf("Partitions must be non-negative, got %d", d.Partitions)
	}

	if d.Concurrency < 0 {
		return fmt.Errorf("Concurrency must be non-negative, got %d", d.Concurrency)
	}

	if d.MemoryLimit < 0 {
		return fmt.Errorf("MemoryLimit must be non-negative, got %d", d.MemoryLimit)
	}

	if d.TimeoutSeconds <= 0 {
		return fmt.Errorf("TimeoutSeconds must be positive, got %d", d.TimeoutSeconds)
	}

	if d.CacheSize <= 0 {
		return fmt.Errorf("CacheSize must be positive, got %d", d.CacheSize)
	}

	for _, w := range d.Workers {
		if !strings.HasPrefix(w, "http://") && !strings.HasPrefix(w, "https://") {
			return fmt.Errorf("worker address %q must be an http(s) URL", w)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// Warnings returns advice about settings that are valid but unlikely to
// perform well on this machine.
func (c *Config) Warnings() []string {
	var warnings []string
	cpus := runtime.NumCPU()

	if c.WorkerPoolSize > cpus*2 {
		warnings = append(warnings,
			fmt.Sprintf("Worker pool size (%d) exceeds 2x CPU count (%d), may cause contention",
				c.WorkerPoolSize, cpus))
	}

	if n := len(c.Distributed.Workers); n > 0 && c.Distributed.Partitions > 0 && c.Distributed.Partitions < n {
		warnings = append(warnings,
			fmt.Sprintf("Partitions (%d) is lower than the number of workers (%d), some workers stay idle",
				c.Distributed.Partitions, n))
	}

	return warnings
}

// Timeout returns the per task request timeout.
func (d DistributedConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.ParallelThreshold == 0 {
		c.ParallelThreshold = defaults.ParallelThreshold
	}
	if c.Distributed.TimeoutSeconds == 0 {
		c.Distributed.TimeoutSeconds = defaults.Distributed.TimeoutSeconds
	}
	if c.Distributed.CacheSize == 0 {
		c.Distributed.CacheSize = defaults.Distributed.CacheSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = defaults.Metrics.Address
	}

	// Note: Boolean fields are intentionally not set to defaults here
	// This allows distinguishing between explicitly set false and unset values
	// Use NewConfig() directly if you need boolean defaults

	return c
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = config
}

// GetGlobalConfig returns the current global configuration
func GetGlobalConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// LoadFromJSON loads configuration from JSON data
func LoadFromJSON(data []byte) (Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing JSON configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadFromFile loads configuration from a JSON or YAML file
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	return config.WithDefaults(), nil
}

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "TACHYON_"

// LoadFromEnv loads configuration from TACHYON_* environment variables on
// top of the defaults. Unparseable values are ignored.
func LoadFromEnv() Config {
	config := NewConfig()

	envInt("PARALLEL_THRESHOLD", &config.ParallelThreshold)
	envInt("WORKER_POOL_SIZE", &config.WorkerPoolSize)
	envInt("CHUNK_SIZE", &config.ChunkSize)

	envInt("PARTITIONS", &config.Distributed.Partitions)
	envInt("CONCURRENCY", &config.Distributed.Concurrency)
	envInt64("MEMORY_LIMIT", &config.Distributed.MemoryLimit)
	envInt("TIMEOUT_SECONDS", &config.Distributed.TimeoutSeconds)
	envBool("COMPRESSION", &config.Distributed.Compression)
	envInt("CACHE_SIZE", &config.Distributed.CacheSize)
	if val := os.Getenv(EnvPrefix + "WORKERS"); val != "" {
		config.Distributed.Workers = splitList(val)
	}

	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_ADDRESS", &config.Metrics.Address)

	envString("S3_ENDPOINT", &config.ObjectStore.Endpoint)
	envString("S3_ACCESS_KEY", &config.ObjectStore.AccessKeyID)
	envString("S3_SECRET_KEY", &config.ObjectStore.SecretAccessKey)
	envBool("S3_USE_SSL", &config.ObjectStore.UseSSL)

	return config
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
