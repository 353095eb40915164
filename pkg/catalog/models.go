package catalog

import "time"

// TestRun is one crawled test-run directory in the catalog.
type TestRun struct {
	ID        uint   `gorm:"primaryKey"`
	Path      string `gorm:"not null;uniqueIndex"`
	Name      string `gorm:"index"`
	StartTime time.Time
	EndTime   time.Time
	DurationS int64

	HasThumbnail    bool
	ThumbnailStatus string
	MetadataStatus  string

	CrawlID   string `gorm:"index"`
	IndexedAt time.Time
}
