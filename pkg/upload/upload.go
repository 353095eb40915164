// Package upload publishes test-run artifacts to remote object storage.
package upload

import (
	"context"
	"path/filepath"

	"github.com/qubic/qutedb-crawler/pkg/crawler"
)

// Publisher copies artifacts to remote storage.
type Publisher interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// PublishRun uploads files of the test run at runPath. Keys mirror the
	// run's location relative to the crawl root.
	PublishRun(ctx context.Context, runPath string, files []string) error

	// PutObject writes data under key, relative to the configured prefix.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Sink publishes the artifacts of every crawled test run.
type Sink struct {
	publisher Publisher
}

// Ensure interface compliance.
var _ crawler.Sink = (*Sink)(nil)

// NewSink creates a sink uploading through publisher.
func NewSink(publisher Publisher) *Sink {
	return &Sink{publisher: publisher}
}

// Consume uploads the artifacts present after processing a test run.
func (s *Sink) Consume(ctx context.Context, report *crawler.Report) error {
	files := make([]string, 0, 2)

	if report.Thumbnail.Present() {
		files = append(files, filepath.Base(report.Thumbnail.Path))
	}

	if report.Metadata.Present() {
		files = append(files, filepath.Base(report.Metadata.Path))
	}

	if len(files) == 0 {
		return nil
	}

	return s.publisher.PublishRun(ctx, report.Path, files)
}
