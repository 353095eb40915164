// Package metadata derives the time bounds of a test run from its science
// files and stores them as a JSON summary inside the test-run directory.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/qubic/qutedb-crawler/pkg/artifact"
	"github.com/qubic/qutedb-crawler/pkg/fsutil"
	"github.com/qubic/qutedb-crawler/pkg/science"
	"github.com/sirupsen/logrus"
)

// TimeFormat is the layout of start_time and end_time.
const TimeFormat = "2006-01-02 15:04:05"

// Record is the content of metadata.json. Fields are declared in
// alphabetical order of their JSON keys.
type Record struct {
	DurationS int64  `json:"duration_s"`
	EndTime   string `json:"end_time"`
	StartTime string `json:"start_time"`
}

// Start parses StartTime as UTC.
func (r *Record) Start() (time.Time, error) {
	return time.ParseInLocation(TimeFormat, r.StartTime, time.UTC)
}

// End parses EndTime as UTC.
func (r *Record) End() (time.Time, error) {
	return time.ParseInLocation(TimeFormat, r.EndTime, time.UTC)
}

// NewRecord builds a record from start and end timestamps expressed in
// seconds since the Unix epoch. The duration is the whole number of seconds
// between the two, fractions dropped.
func NewRecord(startSec, endSec float64) Record {
	start := epochToUTC(startSec)
	end := epochToUTC(endSec)

	// Whole days count too: a run of one day and 61 seconds lasts 86461
	// seconds, not the 61 left over after dropping the day.
	duration := int64(end.Sub(start) / time.Second)
	if duration < 0 {
		duration = 0
	}

	return Record{
		DurationS: duration,
		EndTime:   end.Format(TimeFormat),
		StartTime: start.Format(TimeFormat),
	}
}

// epochToUTC converts fractional epoch seconds into a UTC time with
// microsecond resolution.
func epochToUTC(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6))).UTC()
}

// Marshal renders the record as JSON indented by four spaces.
func (r *Record) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	return data, nil
}

// Load reads a metadata file written by Extractor.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the crawled tree
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing metadata %s: %w", path, err)
	}

	return &rec, nil
}

// Options configures an Extractor.
type Options struct {
	SumsDir        string
	SciencePattern string
	Owner          *fsutil.OwnerConfig
}

// Extractor writes metadata files for test runs.
type Extractor struct {
	log    logrus.FieldLogger
	reader science.Reader
	opts   Options
}

// NewExtractor creates a metadata extractor reading science files with reader.
func NewExtractor(log logrus.FieldLogger, reader science.Reader, opts Options) *Extractor {
	if opts.SumsDir == "" {
		opts.SumsDir = science.DefaultSumsDir
	}

	if opts.SciencePattern == "" {
		opts.SciencePattern = science.DefaultPattern
	}

	return &Extractor{
		log:    log.WithField("component", "metadata"),
		reader: reader,
		opts:   opts,
	}
}

// Extract writes outputFileName inside testRunPath unless it already exists
// and force is false. A test run without science files yields a skipped
// result and no error. Unreadable science files return an error and leave
// any previous output untouched.
func (e *Extractor) Extract(
	testRunPath, outputFileName string, force bool,
) (artifact.Result, error) {
	outPath := filepath.Join(testRunPath, outputFileName)
	result := artifact.Result{Kind: artifact.KindMetadata}
	log := e.log.WithField("test", testRunPath)

	if !force && fsutil.Exists(outPath) {
		log.WithField("file", outputFileName).
			Debug("Metadata already exist, so no need to re-create them")

		result.Path = outPath
		result.Status = artifact.StatusExisting

		return result, nil
	}

	files, err := science.Files(testRunPath, e.opts.SumsDir, e.opts.SciencePattern)
	if err != nil {
		if errors.Is(err, science.ErrNoSumsDir) {
			log.Debug("Test does not contain scientific files")

			result.Status = artifact.StatusSkipped

			return result, nil
		}

		result.Status = artifact.StatusFailed
		result.Err = err

		return result, fmt.Errorf("listing science files: %w", err)
	}

	if len(files) == 0 {
		log.WithField("file", outputFileName).
			Warn("No scientific files found for test, skipping creation of metadata")

		result.Status = artifact.StatusSkipped

		return result, nil
	}

	start, end, err := e.timeBounds(files)
	if err != nil {
		result.Status = artifact.StatusFailed
		result.Err = err

		return result, err
	}

	rec := NewRecord(start, end)
	if end < start {
		log.WithFields(logrus.Fields{
			"start_time": rec.StartTime,
			"end_time":   rec.EndTime,
		}).Warn("End of test precedes its start, duration clamped to zero")
	}

	data, err := rec.Marshal()
	if err != nil {
		result.Status = artifact.StatusFailed
		result.Err = err

		return result, err
	}

	if err := fsutil.WriteFile(outPath, data, 0o644, e.opts.Owner); err != nil {
		result.Status = artifact.StatusFailed
		result.Err = err

		return result, fmt.Errorf("writing %s: %w", outPath, err)
	}

	log.WithFields(logrus.Fields{
		"file":       outPath,
		"start_time": rec.StartTime,
		"end_time":   rec.EndTime,
		"duration_s": rec.DurationS,
	}).Debug("Metadata have been saved")

	result.Path = outPath
	result.Status = artifact.StatusGenerated

	return result, nil
}

// timeBounds returns the earliest first timestamp and the latest last
// timestamp over files, in seconds.
func (e *Extractor) timeBounds(files []string) (float64, float64, error) {
	start, end := math.Inf(1), math.Inf(-1)

	for _, file := range files {
		bounds, err := e.reader.TimeBounds(file)
		if err != nil {
			return 0, 0, fmt.Errorf("reading time bounds of %s: %w", filepath.Base(file), err)
		}

		// Science timestamps are in milliseconds.
		first, last := 1e-3*bounds.First, 1e-3*bounds.Last

		start = math.Min(start, first)
		end = math.Max(end, last)
	}

	return start, end, nil
}
