// Package config provides configuration file support for diffsets.
// It handles loading, validation, and environment variable interpolation
// for diffsets.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full diffsets configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Generation GenerationConfig `mapstructure:"generation"`
	Clustering ClusteringConfig `mapstructure:"clustering"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Match      MatchConfig      `mapstructure:"match"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GenerationConfig holds the set generation parameters.
type GenerationConfig struct {
	Sizes      []int  `mapstructure:"sizes"`
	NumSets    int    `mapstructure:"num_sets"`
	Disjoint   bool   `mapstructure:"disjoint"`
	Seed       int64  `mapstructure:"seed"`
	Strategy   string `mapstructure:"strategy"`
	ScoreScope string `mapstructure:"score_scope"`
}

// ClusteringConfig holds settings for the cluster-seeded strategy.
type ClusteringConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Linkage       string `mapstructure:"linkage"`
	MaxIterations int    `mapstructure:"max_iterations"`
}

// EmbeddingsConfig selects where object embeddings come from.
type EmbeddingsConfig struct {
	Source     string `mapstructure:"source"`
	Path       string `mapstructure:"path"`
	Workers    int    `mapstructure:"workers"`
	APIKey     string `mapstructure:"api_key"`
	Index      string `mapstructure:"index"`
	Host       string `mapstructure:"host"`
	Namespace  string `mapstructure:"namespace"`
	Collection string `mapstructure:"collection"`
	PayloadKey string `mapstructure:"payload_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// CacheConfig holds similarity matrix cache settings.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	URL      string        `mapstructure:"url"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxSize  int           `mapstructure:"max_size"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// MatchConfig holds trial matching settings.
type MatchConfig struct {
	SimThreshold float64 `mapstructure:"sim_threshold"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Generation: GenerationConfig{
			Sizes:      []int{2, 4, 6, 8, 10, 12},
			NumSets:    2,
			Disjoint:   true,
			Seed:       0,
			Strategy:   "clustered",
			ScoreScope: "size",
		},
		Clustering: ClusteringConfig{
			Enabled:       true,
			Linkage:       "average",
			MaxIterations: 10,
		},
		Embeddings: EmbeddingsConfig{
			Source:     "json",
			Workers:    8,
			APIKey:     "${PINECONE_API_KEY:-}",
			PayloadKey: "object_id",
		},
		Cache: CacheConfig{
			Backend:  "memory",
			URL:      "redis://localhost:6379/0",
			TTL:      24 * time.Hour,
			MaxSize:  1000,
			MaxBytes: 256 * 1024 * 1024,
		},
		Match: MatchConfig{
			SimThreshold: 0.8,
		},
		Auth: AuthConfig{
			APIKeys: []string{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Interpolate environment variables in string fields
	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}

	// Generation validation
	if len(cfg.Generation.Sizes) == 0 {
		errs = append(errs, "generation.sizes: at least one size is required")
	}
	for _, k := range cfg.Generation.Sizes {
		if k < 2 {
			errs = append(errs, fmt.Sprintf("generation.sizes: sizes must be at least 2, got %d", k))
		}
	}
	if cfg.Generation.NumSets < 1 {
		errs = append(errs, fmt.Sprintf("generation.num_sets: must be at least 1, got %d", cfg.Generation.NumSets))
	}
	validStrategies := map[string]bool{"clustered": true, "greedy": true, "": true}
	if !validStrategies[cfg.Generation.Strategy] {
		errs = append(errs, fmt.Sprintf("generation.strategy: unsupported strategy %q (supported: clustered, greedy)", cfg.Generation.Strategy))
	}
	validScopes := map[string]bool{"size": true, "pool": true, "": true}
	if !validScopes[cfg.Generation.ScoreScope] {
		errs = append(errs, fmt.Sprintf("generation.score_scope: unsupported scope %q (supported: size, pool)", cfg.Generation.ScoreScope))
	}

	// Clustering validation
	validLinkages := map[string]bool{"single": true, "complete": true, "average": true, "": true}
	if !validLinkages[cfg.Clustering.Linkage] {
		errs = append(errs, fmt.Sprintf("clustering.linkage: unsupported linkage %q (supported: single, complete, average)", cfg.Clustering.Linkage))
	}
	if cfg.Clustering.MaxIterations < 0 {
		errs = append(errs, "clustering.max_iterations: must be non-negative")
	}

	// Embeddings validation
	validSources := map[string]bool{"json": true, "jsonl": true, "dir": true, "pinecone": true, "qdrant": true, "": true}
	if !validSources[cfg.Embeddings.Source] {
		errs = append(errs, fmt.Sprintf("embeddings.source: unsupported source %q (supported: json, jsonl, dir, pinecone, qdrant)", cfg.Embeddings.Source))
	}
	if cfg.Embeddings.Workers < 0 {
		errs = append(errs, "embeddings.workers: must be non-negative")
	}
	if cfg.Embeddings.Source == "qdrant" && cfg.Embeddings.Host == "" {
		errs = append(errs, "embeddings.host: required for qdrant")
	}

	// Cache validation
	validCaches := map[string]bool{"none": true, "memory": true, "redis": true, "": true}
	if !validCaches[cfg.Cache.Backend] {
		errs = append(errs, fmt.Sprintf("cache.backend: unsupported backend %q (supported: none, memory, redis)", cfg.Cache.Backend))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, "cache.ttl: must be non-negative")
	}
	if cfg.Cache.MaxSize < 0 || cfg.Cache.MaxBytes < 0 {
		errs = append(errs, "cache.max_size/max_bytes: must be non-negative")
	}

	// Match validation
	if cfg.Match.SimThreshold < -1 || cfg.Match.SimThreshold > 1 {
		errs = append(errs, fmt.Sprintf("match.sim_threshold: must be between -1 and 1, got %f", cfg.Match.SimThreshold))
	}

	// Log validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true, "": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level: unsupported level %q", cfg.Log.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true, "": true}
	if !validFormats[cfg.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format: unsupported format %q (supported: text, json)", cfg.Log.Format))
	}

	// Telemetry validation
	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values. An unset variable
// with an explicit (possibly empty) default yields the default.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if val, ok := os.LookupEnv(parts[1]); ok {
			return val
		}
		if strings.Contains(match, ":-") {
			return parts[2]
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)
	cfg.Embeddings.Path = InterpolateEnv(cfg.Embeddings.Path)
	cfg.Embeddings.APIKey = InterpolateEnv(cfg.Embeddings.APIKey)
	cfg.Embeddings.Index = InterpolateEnv(cfg.Embeddings.Index)
	cfg.Embeddings.Host = InterpolateEnv(cfg.Embeddings.Host)
	cfg.Embeddings.Namespace = InterpolateEnv(cfg.Embeddings.Namespace)
	cfg.Embeddings.Collection = InterpolateEnv(cfg.Embeddings.Collection)
	cfg.Cache.URL = InterpolateEnv(cfg.Cache.URL)

	for i, key := range cfg.Auth.APIKeys {
		cfg.Auth.APIKeys[i] = InterpolateEnv(key)
	}

	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a diffsets.yaml file.
func GenerateTemplate() string {
	return `# diffsets configuration
# See: https://github.com/Siddhant-K-code/diffsets

server:
  port: 8080
  host: 0.0.0.0
  read_timeout: 30s
  write_timeout: 5m

generation:
  sizes: [2, 4, 6, 8, 10, 12]
  num_sets: 2            # per (pool, size, difficulty)
  disjoint: true         # no shared members within one (pool, size)
  seed: 0
  strategy: clustered    # clustered or greedy
  score_scope: size      # size or pool

clustering:
  enabled: true
  linkage: average       # single, complete, or average
  max_iterations: 10     # k-means

embeddings:
  source: json           # json, jsonl, dir, pinecone, or qdrant
  path: ""               # file or directory for json/jsonl/dir
  workers: 8             # parallel readers for dir
  api_key: ${PINECONE_API_KEY:-}
  index: ""              # pinecone index
  host: ""               # pinecone index host or qdrant host
  namespace: ""
  collection: ""         # qdrant collection
  payload_key: object_id
  use_tls: false

cache:
  backend: memory        # none, memory, or redis
  url: redis://localhost:6379/0
  ttl: 24h
  max_size: 1000
  max_bytes: 268435456

match:
  sim_threshold: 0.8

auth:
  api_keys:
    # - ${DIFFSETS_API_KEY}

log:
  level: info
  format: text           # text or json

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
