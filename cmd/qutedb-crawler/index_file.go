package main

import (
	"fmt"

	"github.com/qubic/qutedb-crawler/pkg/fsutil"
	"github.com/qubic/qutedb-crawler/pkg/index"
	"github.com/qubic/qutedb-crawler/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	indexRoot   string
	indexUpload bool
)

var indexFileCmd = &cobra.Command{
	Use:   "generate-index-file",
	Short: "Generate index.json from the metadata of every test run",
	Long: `Scan the test runs below --root and aggregate their metadata.json files
into an index.json summary written in the root directory. With --upload the
index is also published to the configured S3 bucket.`,
	Args: cobra.NoArgs,
	RunE: runIndexFile,
}

func init() {
	rootCmd.AddCommand(indexFileCmd)
	indexFileCmd.Flags().StringVar(&indexRoot, "root", "", "Path to the crawled directory tree")
	indexFileCmd.Flags().BoolVar(&indexUpload, "upload", false,
		"Also upload index.json to S3 (requires upload.s3 in config)")
}

func runIndexFile(cmd *cobra.Command, _ []string) error {
	if indexRoot == "" {
		return fmt.Errorf("--root is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	owner, err := fsutil.ParseOwner(cfg.Crawler.OutputOwner)
	if err != nil {
		return fmt.Errorf("parsing output_owner: %w", err)
	}

	log.WithField("root", indexRoot).Info("Generating index.json")

	idx, err := index.GenerateIndex(indexRoot, index.Options{
		TestRunPattern: cfg.Crawler.TestRunPattern,
		MetadataFile:   cfg.Crawler.MetadataFile,
		ThumbnailFile:  cfg.Crawler.ThumbnailFile,
	})
	if err != nil {
		return fmt.Errorf("generating index: %w", err)
	}

	if err := index.WriteIndex(indexRoot, idx, owner); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}

	log.WithField("entries_count", len(idx.Entries)).
		Info("index.json generated successfully")

	if !indexUpload {
		return nil
	}

	if !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	publisher, err := upload.NewS3Publisher(log, &cfg.Upload.S3, indexRoot)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	data, err := idx.Marshal()
	if err != nil {
		return err
	}

	if err := publisher.PutObject(cmd.Context(), index.FileName, data, "application/json"); err != nil {
		return fmt.Errorf("uploading index.json: %w", err)
	}

	log.WithFields(map[string]any{
		"bucket": cfg.Upload.S3.Bucket,
		"prefix": cfg.Upload.S3.Prefix,
	}).Info("index.json uploaded")

	return nil
}
