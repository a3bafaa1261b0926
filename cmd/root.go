package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Siddhant-K-code/diffsets/pkg/config"
	"github.com/Siddhant-K-code/diffsets/pkg/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "diffsets",
	Short: "Diffsets - hard and easy object sets for visual memory experiments",
	Long: `Diffsets builds difficulty sets from object embeddings: within each
pool of interchangeable objects it picks groups whose members look alike
(hard) and groups whose members look different (easy).

Features:
  - Cluster-seeded or greedy set construction
  - Incremental runs that keep previously generated sets
  - Deterministic output for a given seed
  - Trial log matching with per-session performance features

Environment Variables:
  DIFFSETS_*          Override any config key (e.g. DIFFSETS_GENERATION_SEED)
  PINECONE_API_KEY    For the Pinecone embedding source and sync
  QDRANT_API_KEY      For the Qdrant embedding source`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := viper.GetString("log.level")
		if viper.GetBool("verbose") {
			level = "debug"
		}
		logging.Configure(level, viper.GetString("log.format"))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./diffsets.yaml or $HOME/.diffsets.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("diffsets")
	}

	viper.SetEnvPrefix("DIFFSETS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Failed to read config file %s: %v\n", cfgFile, err)
	}
}

// loadConfig merges defaults, the config file, environment variables and
// bound flags into a validated Config.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
