// Package catalog records crawled test runs in a SQL database.
package catalog

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/qubic/qutedb-crawler/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store provides persistence for crawled test runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertTestRun(ctx context.Context, run *TestRun) error
	GetTestRun(ctx context.Context, path string) (*TestRun, error)
	ListTestRuns(ctx context.Context) ([]TestRun, error)
	DeleteTestRun(ctx context.Context, path string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.CatalogConfig
	db  *gorm.DB
}

// NewStore creates a catalog Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.CatalogConfig) Store {
	return &store{
		log: log.WithField("component", "catalog"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening catalog database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&TestRun{}); err != nil {
		return fmt.Errorf("running catalog migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Catalog database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertTestRun inserts or updates a test run keyed by path. The latest
// crawl wins on every column.
func (s *store) UpsertTestRun(ctx context.Context, run *TestRun) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			UpdateAll: true,
		}).
		Create(run)
	if result.Error != nil {
		return fmt.Errorf("upserting test run: %w", result.Error)
	}

	return nil
}

// GetTestRun returns the test run stored for path, or nil when unknown.
func (s *store) GetTestRun(ctx context.Context, path string) (*TestRun, error) {
	var runs []TestRun
	if err := s.db.WithContext(ctx).
		Where("path = ?", path).
		Limit(1).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("getting test run: %w", err)
	}

	if len(runs) == 0 {
		return nil, nil
	}

	return &runs[0], nil
}

// ListTestRuns returns every test run, most recent first.
func (s *store) ListTestRuns(ctx context.Context) ([]TestRun, error) {
	var runs []TestRun
	if err := s.db.WithContext(ctx).
		Order("start_time DESC").
		Order("path").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing test runs: %w", err)
	}

	return runs, nil
}

// DeleteTestRun removes the test run stored for path.
func (s *store) DeleteTestRun(ctx context.Context, path string) error {
	if err := s.db.WithContext(ctx).
		Where("path = ?", path).
		Delete(&TestRun{}).Error; err != nil {
		return fmt.Errorf("deleting test run: %w", err)
	}

	return nil
}
