package thumbnail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qubic/qutedb-crawler/pkg/artifact"
	"github.com/qubic/qutedb-crawler/pkg/process"
	"github.com/qubic/qutedb-crawler/pkg/quicklook"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rendered = "rendered-png"

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

// writingRenderer writes a fixed payload and counts calls.
type writingRenderer struct {
	calls int
	err   error
}

func (r *writingRenderer) Render(_ context.Context, _, outPath string, _ quicklook.Options) error {
	r.calls++

	if r.err != nil {
		return r.err
	}

	return os.WriteFile(outPath, []byte(rendered), 0o644)
}

// fakeRunner records command lines. pngquant writes "compressed" to its
// --output argument; tools listed in missing fail as not installed.
type fakeRunner struct {
	calls   [][]string
	missing map[string]bool
	fail    map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) *process.Result {
	f.calls = append(f.calls, append([]string{name}, args...))
	result := &process.Result{Name: name, Args: args}

	switch {
	case f.missing[name]:
		result.ExitCode = -1
		result.Err = process.ErrToolNotFound
	case f.fail[name]:
		result.ExitCode = 1
		result.Err = errors.New("exit status 1")
	case name == "pngquant":
		for i, arg := range args {
			if arg == "--output" {
				if err := os.WriteFile(args[i+1], []byte("compressed"), 0o600); err != nil {
					result.Err = err
				}
			}
		}
	}

	return result
}

func makeRun(t *testing.T) string {
	t.Helper()

	run := filepath.Join(t.TempDir(), "2023-05-01_12.30.00__run1")
	require.NoError(t, os.MkdirAll(run, 0o755))

	return run
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

// assertNoTempFiles checks that only the expected entries remain in dir.
func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "."), "leftover temp file %s", e.Name())
	}
}

func TestGenerate_RenderAndCompress(t *testing.T) {
	run := makeRun(t)
	renderer := &writingRenderer{}
	runner := &fakeRunner{}
	gen := NewGenerator(quietLogger(), renderer,
		NewCompressor(quietLogger(), runner, CompressorConfig{}), Options{})

	result := gen.Generate(context.Background(), run, "quicklook_plot.png", false)

	out := filepath.Join(run, "quicklook_plot.png")
	assert.Equal(t, artifact.StatusGenerated, result.Status)
	assert.Equal(t, out, result.Path)
	assert.NoError(t, result.Err)
	assert.Equal(t, "compressed", readFile(t, out))
	assert.Equal(t, 1, renderer.calls)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "pngquant", runner.calls[0][0])
	assert.Equal(t, "optipng", runner.calls[1][0])
	assertNoTempFiles(t, run)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestGenerate_ExistingIsKept(t *testing.T) {
	run := makeRun(t)
	out := filepath.Join(run, "quicklook_plot.png")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))

	renderer := &writingRenderer{}
	runner := &fakeRunner{}
	gen := NewGenerator(quietLogger(), renderer,
		NewCompressor(quietLogger(), runner, CompressorConfig{}), Options{})

	result := gen.Generate(context.Background(), run, "quicklook_plot.png", false)

	assert.Equal(t, artifact.StatusExisting, result.Status)
	assert.Equal(t, out, result.Path)
	assert.Zero(t, renderer.calls)
	assert.Empty(t, runner.calls)
	assert.Equal(t, "old", readFile(t, out))
}

func TestGenerate_ForceRewrites(t *testing.T) {
	run := makeRun(t)
	out := filepath.Join(run, "quicklook_plot.png")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))

	renderer := &writingRenderer{}
	gen := NewGenerator(quietLogger(), renderer, nil, Options{})

	result := gen.Generate(context.Background(), run, "quicklook_plot.png", true)

	assert.Equal(t, artifact.StatusGenerated, result.Status)
	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, rendered, readFile(t, out))
}

func TestGenerate_RenderFailureIsContained(t *testing.T) {
	t.Run("no previous image", func(t *testing.T) {
		run := makeRun(t)
		renderer := &writingRenderer{err: errors.New("incompatible dataset")}
		runner := &fakeRunner{}
		gen := NewGenerator(quietLogger(), renderer,
			NewCompressor(quietLogger(), runner, CompressorConfig{}), Options{})

		result := gen.Generate(context.Background(), run, "quicklook_plot.png", false)

		assert.Equal(t, artifact.StatusFailed, result.Status)
		assert.False(t, result.Present())
		assert.EqualError(t, result.Err, "incompatible dataset")
		assert.NoFileExists(t, filepath.Join(run, "quicklook_plot.png"))
		assert.Empty(t, runner.calls)
		assertNoTempFiles(t, run)
	})

	t.Run("forced regeneration keeps previous image", func(t *testing.T) {
		run := makeRun(t)
		out := filepath.Join(run, "quicklook_plot.png")
		require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))

		renderer := &writingRenderer{err: errors.New("incompatible dataset")}
		gen := NewGenerator(quietLogger(), renderer, nil, Options{})

		result := gen.Generate(context.Background(), run, "quicklook_plot.png", true)

		assert.Equal(t, artifact.StatusFailed, result.Status)
		assert.Equal(t, "old", readFile(t, out))
	})
}

func TestGenerate_CompressionDegrades(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{
			name:   "pngquant missing",
			runner: &fakeRunner{missing: map[string]bool{"pngquant": true}},
		},
		{
			name:   "optipng missing",
			runner: &fakeRunner{missing: map[string]bool{"optipng": true}},
		},
		{
			name:   "pngquant fails",
			runner: &fakeRunner{fail: map[string]bool{"pngquant": true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := makeRun(t)
			gen := NewGenerator(quietLogger(), &writingRenderer{},
				NewCompressor(quietLogger(), tt.runner, CompressorConfig{}), Options{})

			result := gen.Generate(context.Background(), run, "quicklook_plot.png", false)

			out := filepath.Join(run, "quicklook_plot.png")
			assert.Equal(t, artifact.StatusDegraded, result.Status)
			assert.Equal(t, out, result.Path)
			require.Error(t, result.Err)
			assert.Equal(t, rendered, readFile(t, out))
			assertNoTempFiles(t, run)
		})
	}
}

func TestGenerate_RealRunnerWithoutTools(t *testing.T) {
	run := makeRun(t)
	compressor := NewCompressor(quietLogger(), process.NewExecRunner(0), CompressorConfig{
		Pngquant: "qutedb-test-missing-pngquant",
		Optipng:  "qutedb-test-missing-optipng",
	})
	gen := NewGenerator(quietLogger(), &writingRenderer{}, compressor, Options{})

	result := gen.Generate(context.Background(), run, "quicklook_plot.png", false)

	assert.Equal(t, artifact.StatusDegraded, result.Status)
	assert.ErrorIs(t, result.Err, process.ErrToolNotFound)
	assert.Equal(t, rendered, readFile(t, filepath.Join(run, "quicklook_plot.png")))
}

func TestCompressor_Commands(t *testing.T) {
	c := NewCompressor(quietLogger(), &fakeRunner{}, CompressorConfig{
		Colors:      64,
		OptipngArgs: []string{"-quiet", "-o2"},
	})

	got := c.commands("/run/quicklook_plot.png", "/run/.quicklook_plot.1.png")

	assert.Equal(t, [][]string{
		{"pngquant", "-f", "--output", "/run/.quicklook_plot.1.png", "64", "/run/quicklook_plot.png"},
		{"optipng", "-quiet", "-o2", "/run/.quicklook_plot.1.png"},
	}, got)
}
