// Package thumbnail produces the quicklook image of a test run and
// compresses it with external PNG optimizers.
package thumbnail

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/qubic/qutedb-crawler/pkg/artifact"
	"github.com/qubic/qutedb-crawler/pkg/fsutil"
	"github.com/qubic/qutedb-crawler/pkg/quicklook"
	"github.com/sirupsen/logrus"
)

// PNGCompressor optimizes an image file in place.
type PNGCompressor interface {
	Compress(ctx context.Context, path string) error
}

// Options configures a Generator.
type Options struct {
	Render quicklook.Options
	Owner  *fsutil.OwnerConfig
}

// Generator writes quicklook images for test runs. Failures never escape:
// they are logged and reported through the returned artifact.Result.
type Generator struct {
	log        logrus.FieldLogger
	renderer   quicklook.Renderer
	compressor PNGCompressor
	opts       Options
}

// NewGenerator creates a thumbnail generator. A nil compressor disables the
// compression pass.
func NewGenerator(
	log logrus.FieldLogger,
	renderer quicklook.Renderer,
	compressor PNGCompressor,
	opts Options,
) *Generator {
	return &Generator{
		log:        log.WithField("component", "thumbnail"),
		renderer:   renderer,
		compressor: compressor,
		opts:       opts,
	}
}

// Generate renders outputFileName inside testRunPath unless it already
// exists and force is false.
func (g *Generator) Generate(
	ctx context.Context, testRunPath, outputFileName string, force bool,
) artifact.Result {
	outPath := filepath.Join(testRunPath, outputFileName)
	result := artifact.Result{Kind: artifact.KindThumbnail}
	log := g.log.WithField("test", testRunPath)

	if !force && fsutil.Exists(outPath) {
		log.WithField("file", outputFileName).
			Debug("Plot already exists, so no need to re-create it")

		result.Path = outPath
		result.Status = artifact.StatusExisting

		return result
	}

	if err := g.render(ctx, testRunPath, outPath); err != nil {
		log.WithError(err).Error("Unable to create plot for test")

		result.Status = artifact.StatusFailed
		result.Err = err

		return result
	}

	result.Path = outPath
	result.Status = artifact.StatusGenerated

	if g.compressor == nil {
		return result
	}

	if err := g.compressor.Compress(ctx, outPath); err != nil {
		log.WithError(err).WithField("file", outPath).
			Warn("Unable to compress plot, leaving it uncompressed")

		result.Status = artifact.StatusDegraded
		result.Err = err

		return result
	}

	log.Debug("Plot for test has been compressed successfully")

	return result
}

// render draws into a temporary sibling of outPath and moves it into place
// only once rendering succeeded, so a failed render never clobbers or
// truncates outPath.
func (g *Generator) render(ctx context.Context, testRunPath, outPath string) error {
	tmp, err := fsutil.TempSibling(outPath)
	if err != nil {
		return err
	}

	if err := g.renderer.Render(ctx, testRunPath, tmp, g.opts.Render); err != nil {
		_ = os.Remove(tmp)

		return err
	}

	if fsutil.FileSize(tmp) == 0 {
		_ = os.Remove(tmp)

		return errors.New("renderer produced an empty image")
	}

	if err := fsutil.Replace(tmp, outPath, 0o644, g.opts.Owner); err != nil {
		_ = os.Remove(tmp)

		return err
	}

	return nil
}
