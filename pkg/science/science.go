// Package science reads QubicStudio science files (science-asic*.fits): binary
// tables in HDU 1 whose first column is a millisecond timestamp.
package science

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultSumsDir is the sub-directory of a test run holding science files.
	DefaultSumsDir = "Sums"

	// DefaultPattern matches science files inside the sums directory.
	DefaultPattern = "science-asic*.fits"

	// DefaultHDU is the index of the table HDU in a science file.
	DefaultHDU = 1
)

var (
	// ErrNoSumsDir is returned when a test run has no sums directory.
	ErrNoSumsDir = errors.New("sums directory not found")

	// ErrEmptyTable is returned when a science table holds no rows.
	ErrEmptyTable = errors.New("science table has no rows")
)

// Bounds holds the first and last timestamps of a science file, in the
// file's own unit (milliseconds).
type Bounds struct {
	First float64
	Last  float64
}

// Series is the time-ordered signal of one science file.
type Series struct {
	Name  string
	Time  []float64 // milliseconds
	Value []float64
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.Time)
}

// Reader decodes science files.
type Reader interface {
	// TimeBounds returns the first and last timestamps of the file.
	TimeBounds(path string) (Bounds, error)

	// Series returns the full signal of the file.
	Series(path string) (*Series, error)
}

// Files returns the science files of a test run, sorted by name. It returns
// ErrNoSumsDir when runPath/sumsDir is missing or not a directory, and an
// empty slice when no file matches pattern.
func Files(runPath, sumsDir, pattern string) ([]string, error) {
	dir := filepath.Join(runPath, sumsDir)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSumsDir
		}

		return nil, fmt.Errorf("inspecting %s: %w", dir, err)
	}

	if !info.IsDir() {
		return nil, ErrNoSumsDir
	}

	return Find(dir, pattern)
}

// Find returns the regular files directly inside dir whose name matches the
// glob pattern, sorted by name.
func Find(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid science file pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if ok, _ := filepath.Match(pattern, entry.Name()); ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(files)

	return files, nil
}

// SeriesName derives a display name ("science-asic1") from a file path.
func SeriesName(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
