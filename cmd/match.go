package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Siddhant-K-code/diffsets/pkg/config"
	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/embedding"
	"github.com/Siddhant-K-code/diffsets/pkg/telemetry"
	"github.com/Siddhant-K-code/diffsets/pkg/trials"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match experiment trials to difficulty sets and compute session features",
	Long: `Reads an experiment log, finds the difficulty set each trial's render
group came from, computes embedding similarity aggregates and writes:

  <outdir>/trials.csv                         one row per trial
  <outdir>/sessions.csv                       one row per session
  <outdir>/trial_jsons/<session>_trial_<i>.json

Example:
  diffsets match --logs logs.json --difficulty-sets sets.json --emb-dir embeddings/ --outdir results/`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"sim-thresh": "match.sim_threshold",
		})
	},
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("logs", "l", "", "experiment log JSON (required)")
	matchCmd.Flags().StringP("difficulty-sets", "d", "", "difficulty set document")
	matchCmd.Flags().String("emb-dir", "", "directory of per-object embedding files")
	matchCmd.Flags().StringP("outdir", "o", "results", "output directory")
	matchCmd.Flags().Float64("sim-thresh", trials.DefaultSimThreshold, "similarity threshold for sim_count_above")
	_ = matchCmd.MarkFlagRequired("logs")
}

func runMatch(cmd *cobra.Command, args []string) error {
	logsPath, _ := cmd.Flags().GetString("logs")
	setsPath, _ := cmd.Flags().GetString("difficulty-sets")
	embDir, _ := cmd.Flags().GetString("emb-dir")
	outDir, _ := cmd.Flags().GetString("outdir")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := initTelemetry(ctx, cfg.Telemetry.Tracing)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	all, err := trials.ReadLogs(logsPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Read %d trials from %s\n", len(all), logsPath)

	var doc *document.Document
	if setsPath != "" {
		if doc, err = document.ReadFile(setsPath); err != nil {
			return err
		}
	}

	var store embedding.Store
	if embDir != "" {
		ec := cfg.Embeddings
		ec.Source = embedding.FormatDir
		ec.Path = embDir
		ms, err := loadStore(ctx, ec, tracer, trials.GroupIDs(all))
		if err != nil {
			return fmt.Errorf("failed to load embeddings: %w", err)
		}
		store = ms
	}

	sessions, matched := matchTrials(ctx, tracer, all, doc, store, cfg.Match)

	if err := trials.WriteOutputs(outDir, all, sessions); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("=== Match Complete ===")
	fmt.Println()
	fmt.Printf("Trials:              %d\n", len(all))
	fmt.Printf("Matched to sets:     %d\n", matched)
	fmt.Printf("Sessions:            %d\n", len(sessions))
	fmt.Printf("Output directory:    %s\n", outDir)
	fmt.Println()
	return nil
}

// matchTrials annotates trials in place and returns per-session features
// and the number of trials matched to a stored set.
func matchTrials(ctx context.Context, tracer *telemetry.Provider, all []trials.Trial, doc *document.Document, store embedding.Store, cfg config.MatchConfig) ([]trials.Session, int) {
	_, span := tracer.StartMatch(ctx, len(all))
	defer span.End()

	matched := trials.Annotate(all, trials.Options{
		Store:        store,
		Sets:         doc,
		SimThreshold: cfg.SimThreshold,
	})
	return trials.Sessions(all), matched
}
