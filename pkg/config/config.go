package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/qubic/qutedb-crawler/pkg/fsutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. QUTEDB_CRAWLER_METADATA_FILE.
	EnvPrefix = "QUTEDB"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultThumbnailFile is the quicklook image written in each test run.
	DefaultThumbnailFile = "quicklook_plot.png"

	// DefaultMetadataFile is the JSON summary written in each test run.
	DefaultMetadataFile = "metadata.json"

	// DefaultSumsDir holds the science files of a test run.
	DefaultSumsDir = "Sums"

	// DefaultSciencePattern matches science files inside the sums directory.
	DefaultSciencePattern = "science-asic*.fits"

	// DefaultTestRunPattern matches test-run directory names
	// (YYYY-MM-DD_HH.MM.SS__<suffix>).
	DefaultTestRunPattern = "????-??-??_??.??.??__*"

	// DefaultColors is the palette size passed to pngquant.
	DefaultColors = 32

	// DefaultCatalogDriver is the catalog database driver.
	DefaultCatalogDriver = "sqlite"

	// DefaultCatalogPath is the SQLite catalog file.
	DefaultCatalogPath = "qutedb-catalog.db"

	// DefaultUploadPrefix is the S3 key prefix for published artifacts.
	DefaultUploadPrefix = "qutedb"
)

// LogLevels maps the accepted --log-level values to logrus levels, in the
// order they are listed in help output.
var LogLevels = []struct {
	Name  string
	Level logrus.Level
}{
	{Name: "critical", Level: logrus.FatalLevel},
	{Name: "error", Level: logrus.ErrorLevel},
	{Name: "info", Level: logrus.InfoLevel},
	{Name: "warning", Level: logrus.WarnLevel},
	{Name: "debug", Level: logrus.DebugLevel},
}

// LogLevelNames returns the accepted log level names.
func LogLevelNames() []string {
	names := make([]string, 0, len(LogLevels))
	for _, l := range LogLevels {
		names = append(names, l.Name)
	}

	return names
}

// ParseLogLevel converts a log level name into a logrus level.
func ParseLogLevel(name string) (logrus.Level, error) {
	for _, l := range LogLevels {
		if l.Name == name {
			return l.Level, nil
		}
	}

	return logrus.InfoLevel, fmt.Errorf(
		"invalid log level %q (use one of: %s)", name, strings.Join(LogLevelNames(), ", "),
	)
}

// Config is the root configuration for the crawler.
type Config struct {
	Global      GlobalConfig      `yaml:"global" mapstructure:"global"`
	Crawler     CrawlerConfig     `yaml:"crawler" mapstructure:"crawler"`
	Render      RenderConfig      `yaml:"render" mapstructure:"render"`
	Compression CompressionConfig `yaml:"compression" mapstructure:"compression"`
	Catalog     CatalogConfig     `yaml:"catalog" mapstructure:"catalog"`
	Upload      UploadConfig      `yaml:"upload" mapstructure:"upload"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// CrawlerConfig controls how test runs are recognized and where artifacts go.
type CrawlerConfig struct {
	ThumbnailFile  string `yaml:"thumbnail_file" mapstructure:"thumbnail_file"`
	MetadataFile   string `yaml:"metadata_file" mapstructure:"metadata_file"`
	SumsDir        string `yaml:"sums_dir" mapstructure:"sums_dir"`
	SciencePattern string `yaml:"science_pattern" mapstructure:"science_pattern"`
	TestRunPattern string `yaml:"test_run_pattern" mapstructure:"test_run_pattern"`
	// OutputOwner is an optional "UID:GID" applied to generated files.
	OutputOwner string `yaml:"output_owner,omitempty" mapstructure:"output_owner"`
}

// RenderConfig controls the quicklook plot.
type RenderConfig struct {
	Verbose   bool    `yaml:"verbose" mapstructure:"verbose"`
	WidthIn   float64 `yaml:"width_in" mapstructure:"width_in"`
	HeightIn  float64 `yaml:"height_in" mapstructure:"height_in"`
	MaxPoints int     `yaml:"max_points" mapstructure:"max_points"`
}

// CompressionConfig controls the PNG optimization pass.
type CompressionConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Pngquant    string        `yaml:"pngquant" mapstructure:"pngquant"`
	Optipng     string        `yaml:"optipng" mapstructure:"optipng"`
	Colors      int           `yaml:"colors" mapstructure:"colors"`
	OptipngArgs []string      `yaml:"optipng_args,omitempty" mapstructure:"optipng_args"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CatalogConfig configures the optional database of crawled test runs.
type CatalogConfig struct {
	Enabled  bool                   `yaml:"enabled" mapstructure:"enabled"`
	Driver   string                 `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresDatabaseConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresDatabaseConfig contains PostgreSQL settings.
type PostgresDatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// UploadConfig configures publication of artifacts to remote storage.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool    `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string  `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string  `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string  `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string  `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string  `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string  `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool    `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string  `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string  `yaml:"acl,omitempty" mapstructure:"acl"`
	MaxPerSecond    float64 `yaml:"max_uploads_per_second,omitempty" mapstructure:"max_uploads_per_second"`
}

// MetricsConfig configures the Prometheus textfile written after a crawl.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path,omitempty" mapstructure:"textfile_path"`
}

// setDefaults registers every key so that environment overrides apply even
// when the key is absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("crawler.thumbnail_file", DefaultThumbnailFile)
	v.SetDefault("crawler.metadata_file", DefaultMetadataFile)
	v.SetDefault("crawler.sums_dir", DefaultSumsDir)
	v.SetDefault("crawler.science_pattern", DefaultSciencePattern)
	v.SetDefault("crawler.test_run_pattern", DefaultTestRunPattern)
	v.SetDefault("crawler.output_owner", "")

	v.SetDefault("render.verbose", false)
	v.SetDefault("render.width_in", 12.0)
	v.SetDefault("render.height_in", 6.0)
	v.SetDefault("render.max_points", 5000)

	v.SetDefault("compression.enabled", true)
	v.SetDefault("compression.pngquant", "pngquant")
	v.SetDefault("compression.optipng", "optipng")
	v.SetDefault("compression.colors", DefaultColors)
	v.SetDefault("compression.optipng_args", []string{})
	v.SetDefault("compression.timeout", "0s")

	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.driver", DefaultCatalogDriver)
	v.SetDefault("catalog.sqlite.path", DefaultCatalogPath)
	v.SetDefault("catalog.postgres.host", "localhost")
	v.SetDefault("catalog.postgres.port", 5432)
	v.SetDefault("catalog.postgres.user", "")
	v.SetDefault("catalog.postgres.password", "")
	v.SetDefault("catalog.postgres.database", "qutedb")
	v.SetDefault("catalog.postgres.ssl_mode", "disable")

	v.SetDefault("upload.s3.enabled", false)
	v.SetDefault("upload.s3.endpoint_url", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.prefix", DefaultUploadPrefix)
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.force_path_style", false)
	v.SetDefault("upload.s3.storage_class", "")
	v.SetDefault("upload.s3.acl", "")
	v.SetDefault("upload.s3.max_uploads_per_second", 0.0)

	v.SetDefault("metrics.textfile_path", "")
}

// Load reads the configuration. An empty path yields the defaults; in both
// cases QUTEDB_* environment variables take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global: %w", err)
	}

	if err := c.Crawler.validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}

	if c.Render.WidthIn <= 0 || c.Render.HeightIn <= 0 {
		return fmt.Errorf("render: width_in and height_in must be positive")
	}

	if c.Render.MaxPoints < 2 {
		return fmt.Errorf("render: max_points must be at least 2")
	}

	if c.Compression.Enabled {
		if c.Compression.Colors < 2 || c.Compression.Colors > 256 {
			return fmt.Errorf("compression: colors must be between 2 and 256, got %d",
				c.Compression.Colors)
		}

		if c.Compression.Pngquant == "" || c.Compression.Optipng == "" {
			return fmt.Errorf("compression: pngquant and optipng commands are required")
		}
	}

	if c.Compression.Timeout < 0 {
		return fmt.Errorf("compression: timeout must not be negative")
	}

	if c.Catalog.Enabled {
		switch c.Catalog.Driver {
		case "sqlite":
			if c.Catalog.SQLite.Path == "" {
				return fmt.Errorf("catalog: sqlite.path is required")
			}
		case "postgres":
			if c.Catalog.Postgres.Host == "" || c.Catalog.Postgres.Database == "" {
				return fmt.Errorf("catalog: postgres.host and postgres.database are required")
			}
		default:
			return fmt.Errorf("catalog: unsupported driver %q", c.Catalog.Driver)
		}
	}

	if c.Upload.S3.Enabled {
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("upload.s3: bucket is required")
		}

		if c.Upload.S3.MaxPerSecond < 0 {
			return fmt.Errorf("upload.s3: max_uploads_per_second must not be negative")
		}
	}

	return nil
}

func (c *CrawlerConfig) validate() error {
	if c.ThumbnailFile == "" || c.MetadataFile == "" {
		return errors.New("thumbnail_file and metadata_file are required")
	}

	if c.ThumbnailFile == c.MetadataFile {
		return fmt.Errorf("thumbnail_file and metadata_file must differ (both %q)", c.ThumbnailFile)
	}

	for _, name := range []string{c.ThumbnailFile, c.MetadataFile, c.SumsDir} {
		if name == "" || filepath.Base(name) != name {
			return fmt.Errorf("%q must be a plain file name", name)
		}
	}

	for _, pattern := range []string{c.SciencePattern, c.TestRunPattern} {
		if pattern == "" {
			return errors.New("science_pattern and test_run_pattern are required")
		}

		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	if _, err := fsutil.ParseOwner(c.OutputOwner); err != nil {
		return fmt.Errorf("output_owner: %w", err)
	}

	return nil
}
