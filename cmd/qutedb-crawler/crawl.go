package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/qubic/qutedb-crawler/pkg/catalog"
	"github.com/qubic/qutedb-crawler/pkg/config"
	"github.com/qubic/qutedb-crawler/pkg/crawler"
	"github.com/qubic/qutedb-crawler/pkg/fsutil"
	"github.com/qubic/qutedb-crawler/pkg/metadata"
	"github.com/qubic/qutedb-crawler/pkg/metrics"
	"github.com/qubic/qutedb-crawler/pkg/process"
	"github.com/qubic/qutedb-crawler/pkg/quicklook"
	"github.com/qubic/qutedb-crawler/pkg/science"
	"github.com/qubic/qutedb-crawler/pkg/thumbnail"
	"github.com/qubic/qutedb-crawler/pkg/upload"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"
)

func runCrawl(cmd *cobra.Command, args []string) error {
	root := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	owner, err := fsutil.ParseOwner(cfg.Crawler.OutputOwner)
	if err != nil {
		return fmt.Errorf("parsing output_owner: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := science.NewFITSReader()

	thumbs := thumbnail.NewGenerator(
		log,
		quicklook.NewPlotRenderer(log, reader, cfg.Crawler.SumsDir, cfg.Crawler.SciencePattern),
		newCompressor(cfg, owner),
		thumbnail.Options{
			Render: renderOptions(&cfg.Render),
			Owner:  owner,
		},
	)

	meta := metadata.NewExtractor(log, reader, metadata.Options{
		SumsDir:        cfg.Crawler.SumsDir,
		SciencePattern: cfg.Crawler.SciencePattern,
		Owner:          owner,
	})

	sinks, closeSinks, err := buildSinks(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer closeSinks()

	walker := crawler.NewWalker(log, thumbs, meta, crawler.Options{
		ThumbnailFile:  cfg.Crawler.ThumbnailFile,
		MetadataFile:   cfg.Crawler.MetadataFile,
		TestRunPattern: cfg.Crawler.TestRunPattern,
	}, sinks...)

	summary, walkErr := walker.Walk(ctx, root, alwaysMake)

	if summary != nil {
		writeMetrics(cfg, summary)
	}

	if walkErr != nil {
		return fmt.Errorf("crawling %s: %w", root, walkErr)
	}

	return nil
}

// newCompressor returns nil when compression is disabled.
func newCompressor(cfg *config.Config, owner *fsutil.OwnerConfig) thumbnail.PNGCompressor {
	if !cfg.Compression.Enabled {
		return nil
	}

	return thumbnail.NewCompressor(log, process.NewExecRunner(cfg.Compression.Timeout), thumbnail.CompressorConfig{
		Pngquant:    cfg.Compression.Pngquant,
		Optipng:     cfg.Compression.Optipng,
		Colors:      cfg.Compression.Colors,
		OptipngArgs: cfg.Compression.OptipngArgs,
		Owner:       owner,
	})
}

func renderOptions(cfg *config.RenderConfig) quicklook.Options {
	return quicklook.Options{
		Verbose:   cfg.Verbose,
		Width:     vg.Length(cfg.WidthIn) * vg.Inch,
		Height:    vg.Length(cfg.HeightIn) * vg.Inch,
		MaxPoints: cfg.MaxPoints,
	}
}

// buildSinks sets up the optional catalog and publisher. The returned
// function releases them.
func buildSinks(ctx context.Context, cfg *config.Config, root string) ([]crawler.Sink, func(), error) {
	var (
		sinks   []crawler.Sink
		closers []func()
	)

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Catalog.Enabled {
		store := catalog.NewStore(log, &cfg.Catalog)
		if err := store.Start(ctx); err != nil {
			return nil, closeAll, fmt.Errorf("starting catalog: %w", err)
		}

		closers = append(closers, func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Unable to close catalog")
			}
		})

		sinks = append(sinks, catalog.NewSink(store))
	}

	if cfg.Upload.S3.Enabled {
		publisher, err := upload.NewS3Publisher(log, &cfg.Upload.S3, root)
		if err != nil {
			closeAll()

			return nil, func() {}, fmt.Errorf("creating publisher: %w", err)
		}

		if err := publisher.Preflight(ctx); err != nil {
			closeAll()

			return nil, func() {}, fmt.Errorf("upload preflight: %w", err)
		}

		sinks = append(sinks, upload.NewSink(publisher))
	}

	return sinks, closeAll, nil
}

// writeMetrics exports the crawl summary when a textfile path is set.
func writeMetrics(cfg *config.Config, summary *crawler.Summary) {
	path := cfg.Metrics.TextfilePath
	if metricsFile != "" {
		path = metricsFile
	}

	if path == "" {
		return
	}

	m := metrics.New()
	m.Observe(summary)

	if err := m.WriteTextfile(path); err != nil {
		log.WithError(err).WithField("file", path).Warn("Unable to write crawl metrics")

		return
	}

	log.WithField("file", path).Debug("Crawl metrics written")
}
