package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Siddhant-K-code/diffsets/pkg/cache"
	"github.com/Siddhant-K-code/diffsets/pkg/config"
	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/embedding/qdrant"
	"github.com/Siddhant-K-code/diffsets/pkg/generator"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	pc "github.com/Siddhant-K-code/diffsets/pkg/pinecone"
	"github.com/Siddhant-K-code/diffsets/pkg/telemetry"
)

// bindFlags binds flags to config keys. It runs at PreRun time so that
// commands sharing a key do not overwrite each other's bindings.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// openSource opens the configured embedding source.
func openSource(ctx context.Context, cfg config.EmbeddingsConfig) (embedding.Source, error) {
	switch cfg.Source {
	case embedding.FormatJSON, embedding.FormatJSONL:
		return embedding.OpenFile(cfg.Path, cfg.Source)

	case embedding.FormatDir:
		return embedding.OpenDir(cfg.Path, cfg.Workers)

	case "pinecone":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("PINECONE_API_KEY")
		}
		client, err := pc.NewClient(ctx, pc.Config{
			APIKey:    apiKey,
			IndexName: cfg.Index,
			IndexHost: cfg.Host,
			Namespace: cfg.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to Pinecone: %w", err)
		}
		return client, nil

	case "qdrant":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("QDRANT_API_KEY")
		}
		src, err := qdrant.NewSource(ctx, qdrant.Config{
			Host:       cfg.Host,
			APIKey:     apiKey,
			Collection: cfg.Collection,
			PayloadKey: cfg.PayloadKey,
			UseTLS:     cfg.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to Qdrant: %w", err)
		}
		return src, nil

	default:
		return nil, fmt.Errorf("unsupported embedding source: %s (use json, jsonl, dir, pinecone or qdrant)", cfg.Source)
	}
}

// loadStore fetches ids from the configured source into memory.
func loadStore(ctx context.Context, cfg config.EmbeddingsConfig, tracer *telemetry.Provider, ids []string) (*embedding.MapStore, error) {
	src, err := openSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	ctx, span := tracer.StartLoad(ctx, cfg.Source, len(ids))
	defer span.End()

	store, stats, err := embedding.Load(ctx, src, ids)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logging.Logger().WithFields(logrus.Fields{
		"source":  cfg.Source,
		"loaded":  stats.Loaded,
		"skipped": stats.Skipped,
		"missing": stats.Missing,
	}).Info("loaded embeddings")
	return store, nil
}

// openMatrixCache returns the configured matrix cache, or nil when caching
// is disabled. The returned close function is never nil.
func openMatrixCache(ctx context.Context, cfg config.CacheConfig) (*cache.MatrixCache, func(), error) {
	var backend cache.Cache

	switch cfg.Backend {
	case "", "none":
		return nil, func() {}, nil

	case "memory":
		cc := cache.DefaultConfig()
		cc.MaxEntries = int64(cfg.MaxSize)
		cc.MaxBytes = cfg.MaxBytes
		if cfg.TTL > 0 {
			cc.TTL = cfg.TTL
		}
		backend = cache.NewMemoryCache(cc)

	case "redis":
		rc := cache.DefaultRedisConfig()
		rc.URL = cfg.URL
		if cfg.TTL > 0 {
			rc.DefaultTTL = cfg.TTL
		}
		rcache, err := cache.NewRedisCache(ctx, rc)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to Redis: %w", err)
		}
		backend = rcache

	default:
		return nil, nil, fmt.Errorf("unsupported cache backend: %s (use none, memory or redis)", cfg.Backend)
	}

	return cache.NewMatrixCache(backend, cfg.TTL), func() { _ = backend.Close() }, nil
}

// generatorConfig maps the file configuration onto engine parameters.
func generatorConfig(cfg *config.Config) (generator.Config, generator.Capabilities) {
	gc := generator.Config{
		Sizes:         cfg.Generation.Sizes,
		NumSets:       cfg.Generation.NumSets,
		Disjoint:      cfg.Generation.Disjoint,
		Seed:          cfg.Generation.Seed,
		Strategy:      generator.Strategy(cfg.Generation.Strategy),
		ScoreScope:    generator.ScoreScope(cfg.Generation.ScoreScope),
		Linkage:       cfg.Clustering.Linkage,
		MaxIterations: cfg.Clustering.MaxIterations,
	}
	return gc, generator.Capabilities{Clustering: cfg.Clustering.Enabled}
}

// initTelemetry starts tracing as configured. Tracing failures are logged
// and fall back to a no-op provider.
func initTelemetry(ctx context.Context, cfg config.TracingConfig) *telemetry.Provider {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Enabled
	tc.Exporter = cfg.Exporter
	tc.Endpoint = cfg.Endpoint
	tc.SampleRate = cfg.SampleRate
	tc.Insecure = cfg.Insecure

	p, err := telemetry.Init(ctx, tc)
	if err != nil {
		logging.Logger().WithError(err).Warn("tracing disabled")
		p, _ = telemetry.Init(ctx, telemetry.Config{})
	}
	return p
}
