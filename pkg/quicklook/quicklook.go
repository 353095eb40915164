// Package quicklook renders a diagnostic plot of a test run's science data.
package quicklook

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/qubic/qutedb-crawler/pkg/science"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoScienceData is returned when a dataset has nothing to plot.
var ErrNoScienceData = errors.New("no science data to plot")

// Options controls a single rendering call.
type Options struct {
	// Verbose logs per-file progress at info level instead of debug.
	Verbose bool

	Width     vg.Length
	Height    vg.Length
	MaxPoints int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Width:     12 * vg.Inch,
		Height:    6 * vg.Inch,
		MaxPoints: 5000,
	}
}

// Renderer draws the quicklook image of the dataset stored at datasetPath
// into outPath.
type Renderer interface {
	Render(ctx context.Context, datasetPath, outPath string, opts Options) error
}

// PlotRenderer plots one line per science file, signal against time since
// the start of the run.
type PlotRenderer struct {
	log     logrus.FieldLogger
	reader  science.Reader
	sumsDir string
	pattern string
}

// Ensure interface compliance.
var _ Renderer = (*PlotRenderer)(nil)

// NewPlotRenderer creates a renderer reading science files with reader.
func NewPlotRenderer(
	log logrus.FieldLogger, reader science.Reader, sumsDir, pattern string,
) *PlotRenderer {
	if sumsDir == "" {
		sumsDir = science.DefaultSumsDir
	}

	if pattern == "" {
		pattern = science.DefaultPattern
	}

	return &PlotRenderer{
		log:     log.WithField("component", "quicklook"),
		reader:  reader,
		sumsDir: sumsDir,
		pattern: pattern,
	}
}

// Render implements Renderer.
func (r *PlotRenderer) Render(
	ctx context.Context, datasetPath, outPath string, opts Options,
) error {
	if opts.MaxPoints < 2 {
		opts.MaxPoints = DefaultOptions().MaxPoints
	}

	level := logrus.DebugLevel
	if opts.Verbose {
		level = logrus.InfoLevel
	}

	files, err := science.Files(datasetPath, r.sumsDir, r.pattern)
	if err != nil {
		return fmt.Errorf("reading dataset %s: %w", datasetPath, err)
	}

	series := make([]*science.Series, 0, len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := r.reader.Series(file)
		if err != nil {
			return fmt.Errorf("reading dataset %s: %w", datasetPath, err)
		}

		r.log.WithFields(logrus.Fields{
			"file":    filepath.Base(file),
			"samples": s.Len(),
		}).Log(level, "Loaded science file")

		if s.Len() > 0 {
			series = append(series, s)
		}
	}

	if len(series) == 0 {
		return fmt.Errorf("dataset %s: %w", datasetPath, ErrNoScienceData)
	}

	p, err := buildPlot(filepath.Base(datasetPath), series, opts.MaxPoints)
	if err != nil {
		return err
	}

	if err := p.Save(opts.Width, opts.Height, outPath); err != nil {
		return fmt.Errorf("saving plot to %s: %w", outPath, err)
	}

	r.log.WithField("file", outPath).Log(level, "Quicklook plot saved")

	return nil
}

// buildPlot assembles the figure. Times are shifted so that the earliest
// sample of the run is at zero and converted to seconds.
func buildPlot(title string, series []*science.Series, maxPoints int) (*plot.Plot, error) {
	t0 := math.Inf(1)
	for _, s := range series {
		t0 = math.Min(t0, s.Time[0])
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time since start [s]"
	p.Y.Label.Text = "Mean ASIC signal [ADU]"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, s := range series {
		pts := samplePoints(s, t0, maxPoints)
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("plotting %s: %w", s.Name, err)
		}

		line.LineStyle.Color = plotutil.Color(i)
		line.LineStyle.Width = vg.Points(1)

		p.Add(line)
		p.Legend.Add(s.Name, line)
	}

	return p, nil
}

// samplePoints keeps at most maxPoints evenly strided samples of s, dropping
// non-finite values.
func samplePoints(s *science.Series, t0 float64, maxPoints int) plotter.XYs {
	n := s.Len()

	stride := 1
	if n > maxPoints {
		stride = int(math.Ceil(float64(n) / float64(maxPoints)))
	}

	pts := make(plotter.XYs, 0, n/stride+1)

	for i := 0; i < n; i += stride {
		x := (s.Time[i] - t0) * 1e-3
		y := s.Value[i]

		if !isFinite(x) || !isFinite(y) {
			continue
		}

		pts = append(pts, plotter.XY{X: x, Y: y})
	}

	return pts
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
