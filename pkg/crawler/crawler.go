// Package crawler walks a tree of test-run directories and produces the
// quicklook image and the metadata file of every test run it finds.
package crawler

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/qubic/qutedb-crawler/pkg/artifact"
)

// DefaultTestRunPattern matches names like 2023-05-01_12.30.00__run1.
const DefaultTestRunPattern = "????-??-??_??.??.??__*"

// ThumbnailGenerator produces the quicklook image of one test run.
type ThumbnailGenerator interface {
	Generate(ctx context.Context, testRunPath, outputFileName string, force bool) artifact.Result
}

// MetadataExtractor produces the metadata file of one test run.
type MetadataExtractor interface {
	Extract(testRunPath, outputFileName string, force bool) (artifact.Result, error)
}

// Report is the outcome of processing one test run.
type Report struct {
	Path      string
	Name      string
	CrawlID   string
	Thumbnail artifact.Result
	Metadata  artifact.Result
}

// Sink receives the report of every processed test run.
type Sink interface {
	Consume(ctx context.Context, report *Report) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, report *Report) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, report *Report) error {
	return f(ctx, report)
}

// IsTestRun reports whether a directory called name is a test run.
func IsTestRun(name, pattern string) bool {
	ok, err := filepath.Match(pattern, name)

	return err == nil && ok
}

// ValidatePattern checks that pattern is a well-formed glob.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("test run pattern is empty")
	}

	if _, err := filepath.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid test run pattern %q: %w", pattern, err)
	}

	return nil
}
