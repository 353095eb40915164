package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/qubic/qutedb-crawler/pkg/artifact"
	"github.com/qubic/qutedb-crawler/pkg/config"
	"github.com/qubic/qutedb-crawler/pkg/crawler"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putObject struct {
	key          string
	body         string
	contentType  string
	storageClass string
}

// fakePutter records PutObject calls.
type fakePutter struct {
	puts []putObject
	err  error
}

func (f *fakePutter) PutObject(
	_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.puts = append(f.puts, putObject{
		key:          aws.ToString(params.Key),
		body:         string(body),
		contentType:  aws.ToString(params.ContentType),
		storageClass: string(params.StorageClass),
	})

	return &s3.PutObjectOutput{}, nil
}

func newTestPublisher(cfg *config.S3UploadConfig, root string, client objectPutter) *s3Publisher {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return newS3Publisher(log, cfg, root, client)
}

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{
			name:   "no prefix",
			prefix: "",
			key:    "2023-05-01_12.30.00__run1/metadata.json",
			want:   "2023-05-01_12.30.00__run1/metadata.json",
		},
		{
			name:   "custom prefix",
			prefix: "qubic/quicklooks",
			key:    "calib/2023-05-01_12.30.00__run1/quicklook_plot.png",
			want:   "qubic/quicklooks/calib/2023-05-01_12.30.00__run1/quicklook_plot.png",
		},
		{
			name:   "slashes trimmed",
			prefix: "/qutedb/",
			key:    "index.json",
			want:   "qutedb/index.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPublisher(&config.S3UploadConfig{Prefix: tt.prefix}, "/data", &fakePutter{})
			assert.Equal(t, tt.want, p.resolveKey(tt.key))
		})
	}
}

func TestRelativeRunPath(t *testing.T) {
	p := newTestPublisher(&config.S3UploadConfig{}, "/data/qubic", &fakePutter{})

	tests := []struct {
		name    string
		runPath string
		want    string
	}{
		{
			name:    "direct child",
			runPath: "/data/qubic/2023-05-01_12.30.00__run1",
			want:    "2023-05-01_12.30.00__run1",
		},
		{
			name:    "nested",
			runPath: "/data/qubic/calib/2023/2023-05-01_12.30.00__run1",
			want:    "calib/2023/2023-05-01_12.30.00__run1",
		},
		{
			name:    "outside root",
			runPath: "/elsewhere/2023-05-01_12.30.00__run1",
			want:    "2023-05-01_12.30.00__run1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.relativeRunPath(tt.runPath)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{name: "json file", path: "run/metadata.json", wantPrefix: "application/json"},
		{name: "png file", path: "run/quicklook_plot.png", wantPrefix: "image/png"},
		{name: "no extension", path: "run/Makefile", wantPrefix: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

func TestPublishRun(t *testing.T) {
	root := t.TempDir()
	run := filepath.Join(root, "calib", "2023-05-01_12.30.00__run1")
	require.NoError(t, os.MkdirAll(run, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(run, "quicklook_plot.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(run, "metadata.json"), []byte("{}"), 0o644))

	client := &fakePutter{}
	p := newTestPublisher(&config.S3UploadConfig{
		Bucket:       "qubic",
		Prefix:       "qutedb",
		StorageClass: "STANDARD_IA",
		MaxPerSecond: 1000,
	}, root, client)

	require.NoError(t, p.PublishRun(context.Background(), run, []string{"quicklook_plot.png", "metadata.json"}))

	require.Len(t, client.puts, 2)
	assert.Equal(t, putObject{
		key:          "qutedb/calib/2023-05-01_12.30.00__run1/quicklook_plot.png",
		body:         "png",
		contentType:  "image/png",
		storageClass: "STANDARD_IA",
	}, client.puts[0])
	assert.Equal(t, "qutedb/calib/2023-05-01_12.30.00__run1/metadata.json", client.puts[1].key)
	assert.Equal(t, "{}", client.puts[1].body)
}

func TestPublishRun_MissingFile(t *testing.T) {
	root := t.TempDir()
	p := newTestPublisher(&config.S3UploadConfig{Bucket: "qubic"}, root, &fakePutter{})

	err := p.PublishRun(context.Background(), filepath.Join(root, "run"), []string{"metadata.json"})
	assert.Error(t, err)
}

func TestPutObjectAndPreflight(t *testing.T) {
	client := &fakePutter{}
	p := newTestPublisher(&config.S3UploadConfig{Bucket: "qubic", Prefix: "qutedb"}, "/data", client)

	require.NoError(t, p.Preflight(context.Background()))
	require.NoError(t, p.PutObject(context.Background(), "index.json", []byte(`{"entries":[]}`), "application/json"))

	require.Len(t, client.puts, 2)
	assert.Equal(t, "qutedb/"+preflightKey, client.puts[0].key)
	assert.Equal(t, "qutedb/index.json", client.puts[1].key)
	assert.Equal(t, "application/json", client.puts[1].contentType)

	client.err = errors.New("access denied")
	assert.Error(t, p.Preflight(context.Background()))
}

func TestRateLimitHonorsContext(t *testing.T) {
	p := newTestPublisher(&config.S3UploadConfig{MaxPerSecond: 0.001}, "/data", &fakePutter{})

	// The first token is available immediately; the second is far away.
	require.NoError(t, p.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, p.wait(ctx))
}

// recordingPublisher captures PublishRun calls.
type recordingPublisher struct {
	runPath string
	files   []string
}

func (r *recordingPublisher) Preflight(context.Context) error { return nil }

func (r *recordingPublisher) PublishRun(_ context.Context, runPath string, files []string) error {
	r.runPath = runPath
	r.files = files

	return nil
}

func (r *recordingPublisher) PutObject(context.Context, string, []byte, string) error { return nil }

func TestSink_Consume(t *testing.T) {
	t.Run("publishes present artifacts", func(t *testing.T) {
		pub := &recordingPublisher{}

		require.NoError(t, NewSink(pub).Consume(context.Background(), &crawler.Report{
			Path:      "/data/run",
			Thumbnail: artifact.Result{Path: "/data/run/quicklook_plot.png", Status: artifact.StatusDegraded},
			Metadata:  artifact.Result{Status: artifact.StatusSkipped},
		}))

		assert.Equal(t, "/data/run", pub.runPath)
		assert.Equal(t, []string{"quicklook_plot.png"}, pub.files)
	})

	t.Run("nothing to publish", func(t *testing.T) {
		pub := &recordingPublisher{}

		require.NoError(t, NewSink(pub).Consume(context.Background(), &crawler.Report{
			Path:      "/data/run",
			Thumbnail: artifact.Result{Status: artifact.StatusFailed},
			Metadata:  artifact.Result{Status: artifact.StatusSkipped},
		}))

		assert.Empty(t, pub.runPath)
	})
}
