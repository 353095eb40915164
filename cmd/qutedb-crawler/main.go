package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/qubic/qutedb-crawler/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile     string
	logLevel    string
	alwaysMake  bool
	metricsFile string
	log         *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&lineFormatter{})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "qutedb-crawler PATH",
	Short: "Generate quicklook plots and metadata for QUBIC test runs",
	Long: `qutedb-crawler scans a directory tree of QUBIC test runs and, for every
directory named like 2023-05-01_12.30.00__name, writes a quicklook plot of its
science data and a metadata.json summary. Existing files are kept unless
--always-make is given.`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := config.ParseLogLevel(logLevel)
		if err != nil {
			return err
		}

		log.SetLevel(level)

		return nil
	},
	RunE: runCrawl,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("qutedb-crawler %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"log level ("+strings.Join(config.LogLevelNames(), ", ")+")")

	rootCmd.Flags().BoolVarP(&alwaysMake, "always-make", "b", false,
		"regenerate plots and metadata even if they already exist")
	rootCmd.Flags().StringVar(&metricsFile, "metrics-file", "",
		"write crawl metrics to this Prometheus textfile")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config (or the defaults) and validates it. The
// --log-level flag wins over global.log_level when given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Global.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	level, err := config.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}

	log.SetLevel(level)

	return cfg, nil
}
