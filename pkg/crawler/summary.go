package crawler

import (
	"time"

	"github.com/qubic/qutedb-crawler/pkg/artifact"
	"github.com/sirupsen/logrus"
)

// Summary counts what a crawl did.
type Summary struct {
	CrawlID     string
	Root        string
	Force       bool
	StartedAt   time.Time
	Duration    time.Duration
	Directories int
	Unreadable  int
	TestRuns    int
	Thumbnails  map[artifact.Status]int
	Metadata    map[artifact.Status]int
}

func newSummary(crawlID, root string, force bool) *Summary {
	return &Summary{
		CrawlID:    crawlID,
		Root:       root,
		Force:      force,
		StartedAt:  time.Now(),
		Thumbnails: make(map[artifact.Status]int, len(artifact.Statuses)),
		Metadata:   make(map[artifact.Status]int, len(artifact.Statuses)),
	}
}

func (s *Summary) record(report *Report) {
	s.TestRuns++
	s.Thumbnails[report.Thumbnail.Status]++
	s.Metadata[report.Metadata.Status]++
}

// Failed returns the number of artifacts that could not be produced.
func (s *Summary) Failed() int {
	return s.Thumbnails[artifact.StatusFailed] + s.Metadata[artifact.StatusFailed]
}

// Fields returns the summary as log fields.
func (s *Summary) Fields() logrus.Fields {
	fields := logrus.Fields{
		"crawl_id":    s.CrawlID,
		"root":        s.Root,
		"directories": s.Directories,
		"test_runs":   s.TestRuns,
		"duration":    s.Duration.Round(time.Millisecond),
	}

	if s.Unreadable > 0 {
		fields["unreadable"] = s.Unreadable
	}

	for _, status := range artifact.Statuses {
		if n := s.Thumbnails[status]; n > 0 {
			fields["thumbnails_"+string(status)] = n
		}

		if n := s.Metadata[status]; n > 0 {
			fields["metadata_"+string(status)] = n
		}
	}

	return fields
}
