package thumbnail

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/docker/go-units"
	"github.com/qubic/qutedb-crawler/pkg/fsutil"
	"github.com/qubic/qutedb-crawler/pkg/process"
	"github.com/sirupsen/logrus"
)

// CompressorConfig names the tools used by Compressor.
type CompressorConfig struct {
	Pngquant    string
	Optipng     string
	Colors      int
	OptipngArgs []string
	Owner       *fsutil.OwnerConfig
}

// Compressor shrinks PNG files in place: a lossy palette reduction with
// pngquant followed by a lossless pass with optipng.
type Compressor struct {
	log    logrus.FieldLogger
	runner process.Runner
	cfg    CompressorConfig
}

// NewCompressor creates a compressor running tools through runner.
func NewCompressor(log logrus.FieldLogger, runner process.Runner, cfg CompressorConfig) *Compressor {
	if cfg.Pngquant == "" {
		cfg.Pngquant = "pngquant"
	}

	if cfg.Optipng == "" {
		cfg.Optipng = "optipng"
	}

	if cfg.Colors == 0 {
		cfg.Colors = 32
	}

	return &Compressor{
		log:    log.WithField("component", "compressor"),
		runner: runner,
		cfg:    cfg,
	}
}

// Compress rewrites path with its optimized version. On any error path is
// left as it was and no temporary file remains.
func (c *Compressor) Compress(ctx context.Context, path string) error {
	tmp, err := fsutil.TempSibling(path)
	if err != nil {
		return err
	}

	replaced := false

	defer func() {
		if !replaced {
			_ = os.Remove(tmp)
		}
	}()

	before := fsutil.FileSize(path)

	for _, args := range c.commands(path, tmp) {
		result := c.runner.Run(ctx, args[0], args[1:]...)
		if !result.Success() {
			return fmt.Errorf("running %q: %w", result.String(), result.Err)
		}

		c.log.WithFields(logrus.Fields{
			"command":  result.String(),
			"duration": result.Duration,
		}).Debug("Compression step done")
	}

	if fsutil.FileSize(tmp) == 0 {
		return fmt.Errorf("compressed image %s is empty", tmp)
	}

	if err := fsutil.Replace(tmp, path, 0o644, c.cfg.Owner); err != nil {
		return err
	}

	replaced = true

	c.log.WithFields(logrus.Fields{
		"file":   path,
		"before": units.HumanSize(float64(before)),
		"after":  units.HumanSize(float64(fsutil.FileSize(path))),
	}).Debug("Image compressed")

	return nil
}

// commands returns the command lines of the two passes. pngquant reads src
// and writes dst; optipng then optimizes dst in place.
func (c *Compressor) commands(src, dst string) [][]string {
	optipng := make([]string, 0, len(c.cfg.OptipngArgs)+2)
	optipng = append(optipng, c.cfg.Optipng)
	optipng = append(optipng, c.cfg.OptipngArgs...)
	optipng = append(optipng, dst)

	return [][]string{
		{c.cfg.Pngquant, "-f", "--output", dst, strconv.Itoa(c.cfg.Colors), src},
		optipng,
	}
}
