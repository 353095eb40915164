// Package index aggregates the metadata files of a crawled tree into a single
// index.json listing.
package index

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/qubic/qutedb-crawler/pkg/crawler"
	"github.com/qubic/qutedb-crawler/pkg/fsutil"
	"github.com/qubic/qutedb-crawler/pkg/metadata"
)

// FileName is the name of the index written in the crawl root.
const FileName = "index.json"

// Index contains the aggregated index of all test runs.
type Index struct {
	Generated int64    `json:"generated"`
	Entries   []*Entry `json:"entries"`
}

// Entry contains summary information for a single test run.
type Entry struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	DurationS    int64  `json:"duration_s"`
	HasThumbnail bool   `json:"has_thumbnail"`

	start time.Time
}

// Options names the files looked up in every test run.
type Options struct {
	TestRunPattern string
	MetadataFile   string
	ThumbnailFile  string
}

// GenerateIndex scans root for test runs and builds an index from their
// metadata files.
func GenerateIndex(root string, opts Options) (*Index, error) {
	runs, err := crawler.Discover(root, opts.TestRunPattern)
	if err != nil {
		return nil, fmt.Errorf("discovering test runs: %w", err)
	}

	entries := make([]*Entry, 0, len(runs))

	for _, run := range runs {
		entry, err := buildEntry(root, run, opts)
		if err != nil {
			// Skip runs without usable metadata.
			continue
		}

		entries = append(entries, entry)
	}

	// Newest first; ties broken by path for a stable listing.
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].start.Equal(entries[j].start) {
			return entries[i].start.After(entries[j].start)
		}

		return entries[i].Path < entries[j].Path
	})

	return &Index{
		Generated: time.Now().Unix(),
		Entries:   entries,
	}, nil
}

// buildEntry creates an index entry from a single test-run directory.
func buildEntry(root, run string, opts Options) (*Entry, error) {
	rec, err := metadata.Load(filepath.Join(run, opts.MetadataFile))
	if err != nil {
		return nil, err
	}

	start, err := rec.Start()
	if err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}

	rel, err := filepath.Rel(root, run)
	if err != nil {
		return nil, fmt.Errorf("computing relative path: %w", err)
	}

	return &Entry{
		Path:         filepath.ToSlash(rel),
		Name:         filepath.Base(run),
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		DurationS:    rec.DurationS,
		HasThumbnail: fsutil.Exists(filepath.Join(run, opts.ThumbnailFile)),
		start:        start,
	}, nil
}

// Marshal renders the index as indented JSON.
func (idx *Index) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling index: %w", err)
	}

	return data, nil
}

// WriteIndex writes the index to index.json in root.
func WriteIndex(root string, idx *Index, owner *fsutil.OwnerConfig) error {
	data, err := idx.Marshal()
	if err != nil {
		return err
	}

	if err := fsutil.WriteFile(filepath.Join(root, FileName), data, 0o644, owner); err != nil {
		return fmt.Errorf("writing %s: %w", FileName, err)
	}

	return nil
}
