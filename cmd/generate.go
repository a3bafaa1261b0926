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

	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/generator"
	"github.com/Siddhant-K-code/diffsets/pkg/manifest"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate hard and easy difficulty sets from an export manifest",
	Long: `Reads an export manifest, groups objects into pools, loads their
embeddings and writes a difficulty set document.

When the output file (or --existing) already holds sets for a pool, size
and difficulty, those sets are kept and only missing ones are built.

Example:
  diffsets generate --export export.json --embeddings embeddings/ --source dir --out sets.json
  diffsets generate --export export.json --source pinecone --index objects --out sets.json --seed 42`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"embeddings":  "embeddings.path",
			"source":      "embeddings.source",
			"index":       "embeddings.index",
			"workers":     "embeddings.workers",
			"sizes":       "generation.sizes",
			"num-sets":    "generation.num_sets",
			"disjoint":    "generation.disjoint",
			"seed":        "generation.seed",
			"strategy":    "generation.strategy",
			"score-scope": "generation.score_scope",
			"cache":       "cache.backend",
		})
	},
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	// Inputs and outputs
	generateCmd.Flags().StringP("export", "e", "", "path to the export manifest JSON (required)")
	generateCmd.Flags().StringP("out", "o", "difficulty_sets.json", "output document path")
	generateCmd.Flags().String("existing", "", "previous document to reuse sets from (default: --out)")
	_ = generateCmd.MarkFlagRequired("export")

	// Embeddings
	generateCmd.Flags().String("embeddings", "", "embedding file or directory")
	generateCmd.Flags().String("source", "json", "embedding source (json, jsonl, dir, pinecone, qdrant)")
	generateCmd.Flags().StringP("index", "i", "", "Pinecone index name")
	generateCmd.Flags().IntP("workers", "w", 8, "parallel readers for the dir source")

	// Generation
	generateCmd.Flags().IntSlice("sizes", []int{2, 4, 6, 8, 10, 12}, "set sizes to generate")
	generateCmd.Flags().IntP("num-sets", "n", 2, "sets per pool, size and difficulty")
	generateCmd.Flags().Bool("disjoint", true, "forbid sets of the same size from sharing objects")
	generateCmd.Flags().Int64("seed", 0, "random seed")
	generateCmd.Flags().String("strategy", "clustered", "construction strategy (clustered, greedy)")
	generateCmd.Flags().String("score-scope", "size", "score normalisation scope (size, pool)")
	generateCmd.Flags().String("cache", "memory", "similarity matrix cache (none, memory, redis)")
	generateCmd.Flags().Bool("no-progress", false, "disable the progress bar")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	exportPath, _ := cmd.Flags().GetString("export")
	outPath, _ := cmd.Flags().GetString("out")
	existingPath, _ := cmd.Flags().GetString("existing")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	verbose := viper.GetBool("verbose")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := initTelemetry(ctx, cfg.Telemetry.Tracing)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	records, err := manifest.Load(exportPath)
	if err != nil {
		return err
	}
	pools, dropped := manifest.Pools(records)
	fmt.Fprintf(os.Stderr, "Loaded %d objects in %d pools from %s", len(records), len(pools), exportPath)
	if dropped > 0 {
		fmt.Fprintf(os.Stderr, " (%d records skipped: unreadable, or missing object id or pool)", dropped)
	}
	fmt.Fprintln(os.Stderr)

	loadStart := time.Now()
	store, err := loadStore(ctx, cfg.Embeddings, tracer, manifest.ObjectIDs(records))
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Loaded %d embeddings (dim %d) in %v\n", store.Len(), store.Dimension(), time.Since(loadStart).Round(time.Millisecond))

	if existingPath == "" {
		existingPath = outPath
	}
	existing := document.Load(existingPath)

	matrices, closeCache, err := openMatrixCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	gc, caps := generatorConfig(cfg)
	opts := []generator.Option{
		generator.WithCapabilities(caps),
		generator.WithTelemetry(tracer),
	}
	if matrices != nil {
		opts = append(opts, generator.WithMatrixCache(matrices))
	}

	var bar *progressbar.ProgressBar
	if !noProgress && len(pools) > 0 {
		bar = progressbar.NewOptions(
			len(pools),
			progressbar.OptionSetDescription("Generating"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("pools"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)
		opts = append(opts, generator.WithProgress(func(p generator.Progress) {
			if p.Stage == generator.StagePool {
				_ = bar.Set(p.Done)
			}
		}))
	}

	gen, err := generator.New(gc, opts...)
	if err != nil {
		return err
	}

	res, err := gen.Generate(ctx, pools, store, existing)
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if err := res.Document.Save(outPath); err != nil {
		return err
	}

	printGenerateSummary(outPath, res, verbose)
	return nil
}

func printGenerateSummary(path string, res *generator.Result, verbose bool) {
	s := res.Stats
	fmt.Println()
	fmt.Println("=== Generation Complete ===")
	fmt.Println()
	fmt.Printf("Output:              %s\n", path)
	fmt.Printf("Pools generated:     %d\n", s.Pools)
	fmt.Printf("Pools skipped:       %d\n", s.Skipped)
	fmt.Printf("Pools carried:       %d\n", s.Carried)
	fmt.Printf("New sets:            %d\n", s.NewSets)
	fmt.Printf("Reused sets:         %d\n", s.ReusedSets)
	if verbose {
		fmt.Printf("Easy fallbacks:      %d\n", s.Fallbacks)
		fmt.Printf("Matrix cache hits:   %d\n", s.CacheHits)
		fmt.Printf("Run id:              %s\n", res.Document.RunID)
	}
	fmt.Printf("Duration:            %v\n", s.Duration.Round(time.Millisecond))
	fmt.Println()
}
