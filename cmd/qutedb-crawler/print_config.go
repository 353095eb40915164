package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

var printConfigCmd = &cobra.Command{
	Use:   "print-config",
	Short: "Print the effective configuration as YAML",
	Long: `Load the configuration file (if any), apply QUTEDB_* environment
overrides and defaults, and print the result. Secrets are redacted.`,
	Args: cobra.NoArgs,
	RunE: runPrintConfig,
}

func init() {
	rootCmd.AddCommand(printConfigCmd)
}

func runPrintConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Catalog.Postgres.Password != "" {
		cfg.Catalog.Postgres.Password = redacted
	}

	if cfg.Upload.S3.SecretAccessKey != "" {
		cfg.Upload.S3.SecretAccessKey = redacted
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(data)

	return err
}
