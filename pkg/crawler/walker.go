package crawler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options configures a Walker.
type Options struct {
	ThumbnailFile  string
	MetadataFile   string
	TestRunPattern string
}

// readDirFunc lists a directory. It matches os.ReadDir.
type readDirFunc func(name string) ([]fs.DirEntry, error)

// statFunc resolves a path, following symlinks. It matches os.Stat.
type statFunc func(name string) (fs.FileInfo, error)

// Walker visits every test run below a root directory.
type Walker struct {
	log     logrus.FieldLogger
	thumbs  ThumbnailGenerator
	meta    MetadataExtractor
	sinks   []Sink
	opts    Options
	readDir readDirFunc
	stat    statFunc
}

// NewWalker creates a walker. Reports are handed to sinks in order.
func NewWalker(
	log logrus.FieldLogger,
	thumbs ThumbnailGenerator,
	meta MetadataExtractor,
	opts Options,
	sinks ...Sink,
) *Walker {
	if opts.TestRunPattern == "" {
		opts.TestRunPattern = DefaultTestRunPattern
	}

	return &Walker{
		log:     log.WithField("component", "crawler"),
		thumbs:  thumbs,
		meta:    meta,
		sinks:   sinks,
		opts:    opts,
		readDir: os.ReadDir,
		stat:    os.Stat,
	}
}

// Walk processes every test-run directory below root. Test runs are not
// descended into; every other directory is. A failure in one test run or
// one unreadable directory never stops the walk. Walk returns an error only
// for an unusable root or when ctx is cancelled.
func (w *Walker) Walk(ctx context.Context, root string, force bool) (*Summary, error) {
	if err := checkRoot(root); err != nil {
		return nil, err
	}

	if err := ValidatePattern(w.opts.TestRunPattern); err != nil {
		return nil, err
	}

	summary := newSummary(uuid.NewString(), root, force)
	log := w.log.WithField("crawl_id", summary.CrawlID)

	log.WithFields(logrus.Fields{
		"root":  root,
		"force": force,
	}).Info("Starting crawl")

	t := traversal{
		pattern: w.opts.TestRunPattern,
		readDir: w.readDir,
		stat:    w.stat,
		onUnreadable: func(dir string, err error) {
			summary.Unreadable++

			log.WithError(err).WithField("dir", dir).Warn("Unable to read directory, skipping it")
		},
		onDir: func(string) {
			summary.Directories++
		},
		onTestRun: func(path, name string) {
			report := w.process(ctx, log, path, name, force)
			report.CrawlID = summary.CrawlID

			summary.record(report)
			w.publish(ctx, log, report)
		},
	}

	err := t.run(ctx, root)

	summary.Duration = time.Since(summary.StartedAt)

	if err != nil {
		log.WithFields(summary.Fields()).WithError(err).Warn("Crawl interrupted")

		return summary, err
	}

	log.WithFields(summary.Fields()).Info("Crawl completed")

	return summary, nil
}

// process runs both generators on one test run.
func (w *Walker) process(
	ctx context.Context, log logrus.FieldLogger, path, name string, force bool,
) *Report {
	log = log.WithField("test", path)
	log.Info("Processing test")

	report := &Report{Path: path, Name: name}
	report.Thumbnail = w.thumbs.Generate(ctx, path, w.opts.ThumbnailFile, force)

	meta, err := w.meta.Extract(path, w.opts.MetadataFile, force)
	if err != nil {
		log.WithError(err).Error("Unable to create metadata for test")
	}

	report.Metadata = meta

	return report
}

func (w *Walker) publish(ctx context.Context, log logrus.FieldLogger, report *Report) {
	for _, sink := range w.sinks {
		if err := sink.Consume(ctx, report); err != nil {
			log.WithError(err).WithField("test", report.Path).Warn("Unable to publish test report")
		}
	}
}

// Discover lists the test-run directories below root without touching them.
// Unreadable directories are skipped.
func Discover(root, pattern string) ([]string, error) {
	if err := checkRoot(root); err != nil {
		return nil, err
	}

	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	var runs []string

	t := traversal{
		pattern:      pattern,
		readDir:      os.ReadDir,
		stat:         os.Stat,
		onUnreadable: func(string, error) {},
		onDir:        func(string) {},
		onTestRun: func(path, _ string) {
			runs = append(runs, path)
		},
	}

	if err := t.run(context.Background(), root); err != nil {
		return nil, err
	}

	return runs, nil
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("invalid root directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("invalid root directory: %s is not a directory", root)
	}

	return nil
}

// traversal is a depth-first walk driven by an explicit stack, so tree depth
// never grows the goroutine stack. A symlink counts as a test run when its
// target is a directory and its name matches; symlinked containers are never
// descended into, so link cycles cannot occur.
type traversal struct {
	pattern      string
	readDir      readDirFunc
	stat         statFunc
	onDir        func(dir string)
	onUnreadable func(dir string, err error)
	onTestRun    func(path, name string)
}

func (t *traversal) run(ctx context.Context, root string) error {
	pending := []string{root}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := t.readDir(dir)
		if err != nil {
			if dir == root {
				return fmt.Errorf("reading root directory: %w", err)
			}

			t.onUnreadable(dir, err)

			continue
		}

		t.onDir(dir)

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			isRun := IsTestRun(entry.Name(), t.pattern)

			if entry.Type()&fs.ModeSymlink != 0 {
				if !isRun || !t.linksToDir(path) {
					continue
				}
			} else if !entry.IsDir() {
				continue
			}

			if isRun {
				if err := ctx.Err(); err != nil {
					return err
				}

				t.onTestRun(path, entry.Name())

				continue
			}

			pending = append(pending, path)
		}
	}

	return nil
}

// linksToDir reports whether the symlink at path resolves to a directory.
// Dangling links do not.
func (t *traversal) linksToDir(path string) bool {
	info, err := t.stat(path)

	return err == nil && info.IsDir()
}
