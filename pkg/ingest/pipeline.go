// Package ingest uploads object embeddings to a vector index so that
// later generation runs can read them back by object id.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Siddhant-K-code/diffsets/pkg/logging"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

// Metadata keys attached to uploaded vectors.
const (
	MetaCategory = "category"
	MetaPools    = "pools"
)

// Uploader writes a batch of vectors to an index.
type Uploader interface {
	UpsertBatch(ctx context.Context, vectors []types.Vector) error
}

// Config holds ingestion pipeline configuration.
type Config struct {
	// BatchSize is the number of vectors per batch. Pinecone optimal: 100
	BatchSize int

	// Workers is the number of concurrent upload workers.
	Workers int

	// ChannelBuffer is the buffer size for internal channels.
	ChannelBuffer int
}

// DefaultConfig returns sensible defaults for ingestion.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		Workers:       runtime.NumCPU() * 2,
		ChannelBuffer: 1000,
	}
}

// Pipeline batches vectors and uploads them with a pool of workers.
type Pipeline struct {
	cfg   Config
	up    Uploader
	stats *Stats
	log   *logrus.Entry
}

// Stats tracks ingestion progress.
type Stats struct {
	TotalVectors     int64
	UploadedVectors  int64
	FailedVectors    int64
	SkippedLines     int64
	BatchesProcessed int64
	StartTime        time.Time
	EndTime          time.Time
}

// Duration returns the total processing duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// VectorsPerSecond returns the throughput.
func (s *Stats) VectorsPerSecond() float64 {
	d := s.Duration().Seconds()
	if d == 0 {
		return 0
	}
	return float64(s.UploadedVectors) / d
}

// NewPipeline creates an ingestion pipeline writing to up.
func NewPipeline(up Uploader, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 2
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 1000
	}

	return &Pipeline{
		cfg:   cfg,
		up:    up,
		stats: &Stats{},
		log:   logging.Logger().WithField("component", "ingest"),
	}
}

// ProgressCallback is called periodically with current stats.
type ProgressCallback func(stats Stats)

// IngestFile reads vectors from a JSONL file and uploads them.
func (p *Pipeline) IngestFile(ctx context.Context, filePath string, progress ProgressCallback) (*Stats, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.IngestReader(ctx, file, progress)
}

// IngestReader reads {"id", "values", "metadata"} lines from r and uploads
// them. Malformed lines are counted and skipped.
func (p *Pipeline) IngestReader(ctx context.Context, r io.Reader, progress ProgressCallback) (*Stats, error) {
	p.stats = &Stats{StartTime: time.Now()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectorCh := make(chan types.Vector, p.cfg.ChannelBuffer)
	batchCh := make(chan []types.Vector, p.cfg.Workers*2)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(vectorCh)

		if err := p.readVectors(ctx, r, vectorCh); err != nil {
			select {
			case errCh <- err:
			default:
			}
			cancel()
		}
	}()

	// Batcher
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(batchCh)

		p.batchVectors(ctx, vectorCh, batchCh)
	}()

	stop := p.report(ctx, progress)
	p.runWorkers(ctx, batchCh)
	wg.Wait()
	stop()

	p.stats.EndTime = time.Now()

	select {
	case err := <-errCh:
		return p.GetStatsPtr(), err
	default:
	}

	return p.GetStatsPtr(), p.failure()
}

// IngestVectors uploads pre-loaded vectors.
func (p *Pipeline) IngestVectors(ctx context.Context, vectors []types.Vector, progress ProgressCallback) (*Stats, error) {
	p.stats = &Stats{
		StartTime:    time.Now(),
		TotalVectors: int64(len(vectors)),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batchCh := make(chan []types.Vector, p.cfg.Workers*2)

	go func() {
		defer close(batchCh)

		for start := 0; start < len(vectors); start += p.cfg.BatchSize {
			end := start + p.cfg.BatchSize
			if end > len(vectors) {
				end = len(vectors)
			}
			batch := make([]types.Vector, end-start)
			copy(batch, vectors[start:end])

			select {
			case batchCh <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := p.report(ctx, progress)
	p.runWorkers(ctx, batchCh)
	stop()

	p.stats.EndTime = time.Now()
	if err := ctx.Err(); err != nil {
		return p.GetStatsPtr(), err
	}
	return p.GetStatsPtr(), p.failure()
}

// report starts the periodic progress reporter and returns a function that
// stops it.
func (p *Pipeline) report(ctx context.Context, progress ProgressCallback) func() {
	if progress == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				progress(p.GetStats())
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		progress(p.GetStats())
	}
}

func (p *Pipeline) runWorkers(ctx context.Context, batches <-chan []types.Vector) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.uploadWorker(ctx, batches)
		}()
	}
	wg.Wait()
}

func (p *Pipeline) failure() error {
	if failed := atomic.LoadInt64(&p.stats.FailedVectors); failed > 0 {
		return fmt.Errorf("%d of %d vectors failed to upload", failed, atomic.LoadInt64(&p.stats.TotalVectors))
	}
	return nil
}

func (p *Pipeline) readVectors(ctx context.Context, r io.Reader, out chan<- types.Vector) error {
	scanner := bufio.NewScanner(r)

	// Increase buffer for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var v jsonVector
		if err := json.Unmarshal(line, &v); err != nil || v.ID == "" || len(v.Values) == 0 {
			atomic.AddInt64(&p.stats.SkippedLines, 1)
			continue
		}

		atomic.AddInt64(&p.stats.TotalVectors, 1)

		select {
		case out <- types.Vector{ID: v.ID, Values: v.Values, Metadata: v.Metadata}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}

// jsonVector is the expected JSONL format.
type jsonVector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (p *Pipeline) batchVectors(ctx context.Context, in <-chan types.Vector, out chan<- []types.Vector) {
	batch := make([]types.Vector, 0, p.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return

		case v, ok := <-in:
			if !ok {
				if len(batch) > 0 {
					out <- batch
				}
				return
			}

			batch = append(batch, v)
			if len(batch) >= p.cfg.BatchSize {
				out <- batch
				batch = make([]types.Vector, 0, p.cfg.BatchSize)
			}
		}
	}
}

func (p *Pipeline) uploadWorker(ctx context.Context, batches <-chan []types.Vector) {
	for batch := range batches {
		if ctx.Err() != nil {
			atomic.AddInt64(&p.stats.FailedVectors, int64(len(batch)))
			continue
		}

		if err := p.up.UpsertBatch(ctx, batch); err != nil {
			p.log.WithError(err).WithField("vectors", len(batch)).Warn("batch upload failed")
			atomic.AddInt64(&p.stats.FailedVectors, int64(len(batch)))
		} else {
			atomic.AddInt64(&p.stats.UploadedVectors, int64(len(batch)))
		}
		atomic.AddInt64(&p.stats.BatchesProcessed, 1)
	}
}

// GetStats returns current statistics.
func (p *Pipeline) GetStats() Stats {
	return Stats{
		TotalVectors:     atomic.LoadInt64(&p.stats.TotalVectors),
		UploadedVectors:  atomic.LoadInt64(&p.stats.UploadedVectors),
		FailedVectors:    atomic.LoadInt64(&p.stats.FailedVectors),
		SkippedLines:     atomic.LoadInt64(&p.stats.SkippedLines),
		BatchesProcessed: atomic.LoadInt64(&p.stats.BatchesProcessed),
		StartTime:        p.stats.StartTime,
		EndTime:          p.stats.EndTime,
	}
}

// GetStatsPtr returns a pointer to current statistics.
func (p *Pipeline) GetStatsPtr() *Stats {
	s := p.GetStats()
	return &s
}

// Tag attaches category and pool metadata to vectors using the pools they
// belong to. An object in several pools lists every pool id, sorted.
// Existing metadata keys other than these two are kept.
func Tag(vectors []types.Vector, pools []types.Pool) []types.Vector {
	category := make(map[string]string)
	membership := make(map[string]map[string]bool)
	for _, p := range pools {
		for _, id := range p.Members {
			if _, ok := category[id]; !ok {
				category[id] = p.Category
			}
			if membership[id] == nil {
				membership[id] = make(map[string]bool)
			}
			membership[id][p.ID] = true
		}
	}

	out := make([]types.Vector, len(vectors))
	for i, v := range vectors {
		meta := make(map[string]interface{}, len(v.Metadata)+2)
		for k, val := range v.Metadata {
			meta[k] = val
		}
		if c, ok := category[v.ID]; ok {
			meta[MetaCategory] = c
			ids := make([]string, 0, len(membership[v.ID]))
			for id := range membership[v.ID] {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			// structpb only accepts []interface{} lists.
			list := make([]interface{}, len(ids))
			for j, id := range ids {
				list[j] = id
			}
			meta[MetaPools] = list
		}
		out[i] = types.Vector{ID: v.ID, Values: v.Values, Metadata: meta}
	}
	return out
}
