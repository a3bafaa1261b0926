package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/ingest"
	"github.com/Siddhant-K-code/diffsets/pkg/manifest"
	pc "github.com/Siddhant-K-code/diffsets/pkg/pinecone"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload object embeddings to Pinecone",
	Long: `Reads embeddings from a local file or directory and uploads them to a
Pinecone index using parallel workers, so that 'generate --source pinecone'
can read them back by object id.

With --export, only objects in the manifest are uploaded and each vector is
tagged with its category and pool ids.

Example:
  diffsets sync --embeddings embeddings/ --source dir --export export.json --index objects

Environment Variables:
  PINECONE_API_KEY    Your Pinecone API key (required)`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"embeddings": "embeddings.path",
			"source":     "embeddings.source",
			"index":      "embeddings.index",
			"namespace":  "embeddings.namespace",
			"api-key":    "embeddings.api_key",
		})
	},
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	// Input
	syncCmd.Flags().String("embeddings", "", "embedding file or directory (required)")
	syncCmd.Flags().String("source", "json", "local embedding format (json, jsonl, dir)")
	syncCmd.Flags().StringP("export", "e", "", "export manifest used to select and tag objects")
	_ = syncCmd.MarkFlagRequired("embeddings")

	// Pinecone settings
	syncCmd.Flags().StringP("index", "i", "", "Pinecone index name (required)")
	syncCmd.Flags().StringP("namespace", "n", "", "Pinecone namespace (optional)")
	syncCmd.Flags().String("api-key", "", "Pinecone API key (or use PINECONE_API_KEY env)")

	// Performance settings
	syncCmd.Flags().IntP("workers", "w", 0, "number of upload workers (0 = NumCPU*2)")
	syncCmd.Flags().IntP("batch-size", "b", 100, "vectors per batch (Pinecone optimal: 100)")
}

func runSync(cmd *cobra.Command, args []string) error {
	exportPath, _ := cmd.Flags().GetString("export")
	workers, _ := cmd.Flags().GetInt("workers")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	verbose := viper.GetBool("verbose")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ec := cfg.Embeddings

	switch ec.Source {
	case embedding.FormatJSON, embedding.FormatJSONL, embedding.FormatDir:
	default:
		return fmt.Errorf("sync reads local embeddings only (json, jsonl, dir), got %q", ec.Source)
	}

	apiKey := ec.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("PINECONE_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("pinecone API key is required: set PINECONE_API_KEY or use --api-key")
	}
	if ec.Index == "" {
		return fmt.Errorf("pinecone index name is required: use --index flag")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		ids   []string
		pools []types.Pool
	)
	if exportPath != "" {
		records, err := manifest.Load(exportPath)
		if err != nil {
			return err
		}
		ids = manifest.ObjectIDs(records)
		pools, _ = manifest.Pools(records)
	}

	fmt.Fprintf(os.Stderr, "Loading embeddings from %s...\n", ec.Path)
	loadStart := time.Now()
	src, err := openSource(ctx, ec)
	if err != nil {
		return err
	}
	store, stats, err := embedding.Load(ctx, src, ids)
	_ = src.Close()
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	vectors := store.Vectors()
	if len(vectors) == 0 {
		fmt.Println("No embeddings found.")
		return nil
	}
	if pools != nil {
		vectors = ingest.Tag(vectors, pools)
	}
	fmt.Fprintf(os.Stderr, "Loaded %d embeddings in %v (%d skipped, %d missing)\n",
		len(vectors), time.Since(loadStart).Round(time.Millisecond), stats.Skipped, stats.Missing)

	fmt.Fprintf(os.Stderr, "Connecting to Pinecone index %q...\n", ec.Index)
	client, err := pc.NewClient(ctx, pc.Config{
		APIKey:    apiKey,
		IndexName: ec.Index,
		IndexHost: ec.Host,
		Namespace: ec.Namespace,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Pinecone: %w", err)
	}
	defer func() { _ = client.Close() }()

	pipeline := ingest.NewPipeline(client, ingest.Config{
		BatchSize: batchSize,
		Workers:   workers,
	})

	bar := progressbar.NewOptions64(
		int64(len(vectors)),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("vectors"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)

	var lastUploaded int64
	progressFn := func(stats ingest.Stats) {
		current := stats.UploadedVectors + stats.FailedVectors
		if delta := current - lastUploaded; delta > 0 {
			_ = bar.Add64(delta)
			lastUploaded = current
		}
	}

	fmt.Fprintln(os.Stderr, "Starting upload...")
	result, uploadErr := pipeline.IngestVectors(ctx, vectors, progressFn)

	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	printSyncSummary(result, client, verbose)

	if uploadErr != nil {
		return fmt.Errorf("ingestion failed: %w", uploadErr)
	}
	return nil
}

func printSyncSummary(stats *ingest.Stats, client *pc.Client, verbose bool) {
	fmt.Println()
	fmt.Println("=== Sync Complete ===")
	fmt.Println()
	fmt.Printf("Vectors uploaded:    %d\n", stats.UploadedVectors)
	fmt.Printf("Vectors failed:      %d\n", stats.FailedVectors)
	fmt.Printf("Batches processed:   %d\n", stats.BatchesProcessed)
	if verbose {
		fmt.Printf("Retries:             %d\n", client.GetStats().RetryCount)
	}
	fmt.Printf("Duration:            %v\n", stats.Duration().Round(time.Millisecond))
	fmt.Printf("Throughput:          %.0f vectors/sec\n", stats.VectorsPerSecond())
	fmt.Println()
}
