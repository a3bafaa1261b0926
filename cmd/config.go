package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Siddhant-K-code/diffsets/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Diffsets configuration",
	Long:  `Commands for creating, validating and inspecting diffsets.yaml files.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a diffsets.yaml template",
	Long: `Creates a diffsets.yaml configuration file with all available options
and their default values.

Example:
  diffsets config init
  diffsets config init --output experiments/diffsets.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a diffsets.yaml configuration file",
	Long: `Reads and validates a configuration file, reporting every invalid field.

Example:
  diffsets config validate
  diffsets config validate diffsets.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after merging defaults, the config file and
DIFFSETS_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringP("output", "o", "diffsets.yaml", "output file path")
	configInitCmd.Flags().Bool("stdout", false, "print to stdout instead of file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	toStdout, _ := cmd.Flags().GetBool("stdout")
	output, _ := cmd.Flags().GetString("output")

	template := config.GenerateTemplate()

	if toStdout {
		fmt.Fprint(cmd.OutOrStdout(), template)
		return nil
	}

	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("file %s already exists (use --stdout to print to stdout)", output)
	}

	if err := os.WriteFile(output, []byte(template), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Created %s\n", output)
	return nil
}

// configCandidates lists where validate looks when no file is named.
func configCandidates() []string {
	candidates := []string{"diffsets.yaml", ".diffsets.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".diffsets.yaml"),
			filepath.Join(home, "diffsets.yaml"),
		)
	}
	return candidates
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	var cfgPath string

	switch {
	case len(args) > 0:
		cfgPath = args[0]
	case cfgFile != "":
		cfgPath = cfgFile
	default:
		for _, c := range configCandidates() {
			if _, err := os.Stat(c); err == nil {
				cfgPath = c
				break
			}
		}
		if cfgPath == "" {
			return fmt.Errorf("no config file found (try: diffsets config validate <file>)")
		}
	}

	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return fmt.Errorf("validation failed for %s:\n%w", cfgPath, err)
	}

	fmt.Fprintf(os.Stderr, "Config file %s is valid (strategy %s, %d sizes, embeddings from %s)\n",
		cfgPath, cfg.Generation.Strategy, len(cfg.Generation.Sizes), cfg.Embeddings.Source)
	return nil
}

// writeConfig renders the keys that shape a generation run.
func writeConfig(w io.Writer, cfg *config.Config) error {
	sizes := make([]string, len(cfg.Generation.Sizes))
	for i, k := range cfg.Generation.Sizes {
		sizes[i] = strconv.Itoa(k)
	}
	rows := [][]string{
		{"generation.sizes", strings.Join(sizes, ",")},
		{"generation.num_sets", strconv.Itoa(cfg.Generation.NumSets)},
		{"generation.disjoint", strconv.FormatBool(cfg.Generation.Disjoint)},
		{"generation.seed", strconv.FormatInt(cfg.Generation.Seed, 10)},
		{"generation.strategy", cfg.Generation.Strategy},
		{"generation.score_scope", cfg.Generation.ScoreScope},
		{"clustering.enabled", strconv.FormatBool(cfg.Clustering.Enabled)},
		{"clustering.linkage", cfg.Clustering.Linkage},
		{"embeddings.source", cfg.Embeddings.Source},
		{"embeddings.path", cfg.Embeddings.Path},
		{"embeddings.workers", strconv.Itoa(cfg.Embeddings.Workers)},
		{"cache.backend", cfg.Cache.Backend},
		{"cache.ttl", cfg.Cache.TTL.String()},
		{"match.sim_threshold", strconv.FormatFloat(cfg.Match.SimThreshold, 'g', -1, 64)},
		{"log.level", cfg.Log.Level},
		{"log.format", cfg.Log.Format},
		{"telemetry.tracing.enabled", strconv.FormatBool(cfg.Telemetry.Tracing.Enabled)},
	}
	return renderTable(w, []string{"Key", "Value"}, rows)
}
