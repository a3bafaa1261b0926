// Package pinecone stores and fetches object embeddings in a Pinecone index.
package pinecone

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// Config holds Pinecone client configuration.
type Config struct {
	APIKey    string
	IndexName string
	// IndexHost skips the DescribeIndex lookup when set.
	IndexHost string
	Namespace string

	// FetchBatchSize bounds the ids per fetch request.
	FetchBatchSize int

	// Retry settings
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FetchBatchSize: 100,
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Client wraps the Pinecone index connection for embedding reads and writes.
// It satisfies embedding.Source.
type Client struct {
	cfg     Config
	pc      *pinecone.Client
	idxConn *pinecone.IndexConnection
	stats   *Stats
}

// Stats tracks client operation metrics.
type Stats struct {
	UpsertedVectors int64
	FetchedVectors  int64
	FailedVectors   int64
	RetryCount      int64
	BatchCount      int64
}

// NewClient creates a new Pinecone client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.IndexName == "" && cfg.IndexHost == "" {
		return nil, fmt.Errorf("index name or host is required")
	}

	// Apply defaults
	def := DefaultConfig()
	if cfg.FetchBatchSize <= 0 {
		cfg.FetchBatchSize = def.FetchBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}

	pc, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	host := cfg.IndexHost
	if host == "" {
		idx, err := pc.DescribeIndex(ctx, cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %q: %w", cfg.IndexName, err)
		}
		host = idx.Host
	}

	idxConn, err := pc.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	return &Client{
		cfg:     cfg,
		pc:      pc,
		idxConn: idxConn,
		stats:   &Stats{},
	}, nil
}

// UpsertBatch upserts a batch of vectors with retry logic.
func (c *Client) UpsertBatch(ctx context.Context, vectors []types.Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	pcVectors := make([]*pinecone.Vector, len(vectors))
	for i, v := range vectors {
		values := v.Values
		pcVectors[i] = &pinecone.Vector{
			Id:       v.ID,
			Values:   &values,
			Metadata: convertMetadata(v.Metadata),
		}
	}

	err := c.retry(ctx, func() error {
		_, err := c.idxConn.UpsertVectors(ctx, pcVectors)
		return err
	})
	if err != nil {
		atomic.AddInt64(&c.stats.FailedVectors, int64(len(vectors)))
		return fmt.Errorf("upsert failed after %d retries: %w", c.cfg.MaxRetries, err)
	}

	atomic.AddInt64(&c.stats.UpsertedVectors, int64(len(vectors)))
	atomic.AddInt64(&c.stats.BatchCount, 1)
	return nil
}

// Fetch retrieves the stored values for ids in batches. Ids absent from the
// index, or stored without dense values, are absent from the result.
func (c *Client) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	if ids == nil {
		return nil, fmt.Errorf("pinecone fetch requires explicit ids")
	}

	out := make(map[string][]float32, len(ids))
	for start := 0; start < len(ids); start += c.cfg.FetchBatchSize {
		end := start + c.cfg.FetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		var resp *pinecone.FetchVectorsResponse
		err := c.retry(ctx, func() error {
			var err error
			resp, err = c.idxConn.FetchVectors(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch vectors: %w", err)
		}

		for id, v := range resp.Vectors {
			if v == nil || v.Values == nil {
				continue
			}
			out[id] = *v.Values
		}
		atomic.AddInt64(&c.stats.BatchCount, 1)
	}

	atomic.AddInt64(&c.stats.FetchedVectors, int64(len(out)))
	return out, nil
}

// retry runs op with exponential backoff while it fails with a retryable error.
func (c *Client) retry(ctx context.Context, op func() error) error {
	var lastErr error
	backoff := c.cfg.InitialBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			atomic.AddInt64(&c.stats.RetryCount, 1)
			time.Sleep(backoff)
			backoff = time.Duration(math.Min(float64(backoff*2), float64(c.cfg.MaxBackoff)))
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}
	return lastErr
}

// GetStats returns current operation statistics.
func (c *Client) GetStats() Stats {
	return Stats{
		UpsertedVectors: atomic.LoadInt64(&c.stats.UpsertedVectors),
		FetchedVectors:  atomic.LoadInt64(&c.stats.FetchedVectors),
		FailedVectors:   atomic.LoadInt64(&c.stats.FailedVectors),
		RetryCount:      atomic.LoadInt64(&c.stats.RetryCount),
		BatchCount:      atomic.LoadInt64(&c.stats.BatchCount),
	}
}

// DescribeIndexStats returns index statistics.
func (c *Client) DescribeIndexStats(ctx context.Context) (*pinecone.DescribeIndexStatsResponse, error) {
	return c.idxConn.DescribeIndexStats(ctx)
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.idxConn != nil {
		return c.idxConn.Close()
	}
	return nil
}

// convertMetadata converts object metadata (category, pool) to a Pinecone Struct.
func convertMetadata(m map[string]interface{}) *structpb.Struct {
	if len(m) == 0 {
		return nil
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil
	}
	return s
}

// isRetryableError checks if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	// Rate limiting (429) or service unavailable (503)
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "unavailable") ||
		strings.Contains(errStr, "temporarily")
}
