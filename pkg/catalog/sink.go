package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/qubic/qutedb-crawler/pkg/artifact"
	"github.com/qubic/qutedb-crawler/pkg/crawler"
	"github.com/qubic/qutedb-crawler/pkg/metadata"
)

// Sink records crawl reports in a Store.
type Sink struct {
	store Store
	now   func() time.Time
}

// Ensure interface compliance.
var _ crawler.Sink = (*Sink)(nil)

// NewSink creates a sink writing to store.
func NewSink(store Store) *Sink {
	return &Sink{store: store, now: time.Now}
}

// Consume upserts the test run when its metadata file is present. A run
// without science data is removed from the catalog.
func (s *Sink) Consume(ctx context.Context, report *crawler.Report) error {
	if !report.Metadata.Present() {
		if report.Metadata.Status == artifact.StatusSkipped {
			return s.store.DeleteTestRun(ctx, report.Path)
		}

		return nil
	}

	run, err := s.testRun(report)
	if err != nil {
		return err
	}

	return s.store.UpsertTestRun(ctx, run)
}

func (s *Sink) testRun(report *crawler.Report) (*TestRun, error) {
	rec, err := metadata.Load(report.Metadata.Path)
	if err != nil {
		return nil, err
	}

	start, err := rec.Start()
	if err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}

	end, err := rec.End()
	if err != nil {
		return nil, fmt.Errorf("parsing end_time: %w", err)
	}

	return &TestRun{
		Path:            report.Path,
		Name:            report.Name,
		StartTime:       start,
		EndTime:         end,
		DurationS:       rec.DurationS,
		HasThumbnail:    report.Thumbnail.Present(),
		ThumbnailStatus: string(report.Thumbnail.Status),
		MetadataStatus:  string(report.Metadata.Status),
		CrawlID:         report.CrawlID,
		IndexedAt:       s.now().UTC(),
	}, nil
}
