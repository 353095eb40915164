package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/qubic/qutedb-crawler/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const preflightKey = ".qutedb-crawler-write-test"

// objectPutter is the subset of the S3 client used for publishing.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Publisher implements Publisher for S3-compatible storage.
type s3Publisher struct {
	log     logrus.FieldLogger
	cfg     *config.S3UploadConfig
	root    string
	client  objectPutter
	limiter *rate.Limiter
}

// Ensure interface compliance.
var _ Publisher = (*s3Publisher)(nil)

// NewS3Publisher creates a publisher for test runs found below root.
func NewS3Publisher(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
	root string,
) (Publisher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving crawl root: %w", err)
	}

	return newS3Publisher(log, cfg, absRoot, newS3Client(cfg)), nil
}

func newS3Publisher(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
	root string,
	client objectPutter,
) *s3Publisher {
	p := &s3Publisher{
		log:    log.WithField("component", "s3-publisher"),
		cfg:    cfg,
		root:   root,
		client: client,
	}

	if cfg.MaxPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1)
	}

	return p
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}

// Preflight verifies S3 connectivity by writing a small test object.
func (p *s3Publisher) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("qutedb-crawler write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(p.resolveKey(preflightKey)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", p.cfg.Bucket, err)
	}

	return nil
}

// PublishRun uploads the named files of runPath.
func (p *s3Publisher) PublishRun(ctx context.Context, runPath string, files []string) error {
	rel, err := p.relativeRunPath(runPath)
	if err != nil {
		return err
	}

	for _, name := range files {
		key := p.resolveKey(rel + "/" + name)

		if err := p.uploadFile(ctx, filepath.Join(runPath, name), key); err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
	}

	p.log.WithFields(logrus.Fields{
		"files":  len(files),
		"bucket": p.cfg.Bucket,
		"run":    rel,
	}).Debug("Test run published")

	return nil
}

// PutObject writes data to key under the configured prefix.
func (p *s3Publisher) PutObject(
	ctx context.Context, key string, data []byte, contentType string,
) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	_, err := p.client.PutObject(ctx, p.putInput(p.resolveKey(key), bytes.NewReader(data), contentType))
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	return nil
}

// uploadFile uploads a single file to S3.
func (p *s3Publisher) uploadFile(ctx context.Context, localPath, key string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	f, err := os.Open(localPath) //nolint:gosec // path comes from the crawled tree
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	p.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": p.cfg.Bucket,
	}).Debug("Uploading file")

	if _, err := p.client.PutObject(ctx, p.putInput(key, f, detectContentType(localPath))); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

func (p *s3Publisher) putInput(key string, body io.Reader, contentType string) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if p.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(p.cfg.StorageClass)
	}

	if p.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(p.cfg.ACL)
	}

	return input
}

// wait blocks until the upload rate limit allows another request.
func (p *s3Publisher) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for upload slot: %w", err)
	}

	return nil
}

// relativeRunPath returns runPath relative to the crawl root, slash separated.
// Runs outside the root are keyed by their base name.
func (p *s3Publisher) relativeRunPath(runPath string) (string, error) {
	abs, err := filepath.Abs(runPath)
	if err != nil {
		return "", fmt.Errorf("resolving run path: %w", err)
	}

	rel, err := filepath.Rel(p.root, abs)
	if err != nil || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(abs), nil
	}

	return filepath.ToSlash(rel), nil
}

// resolveKey prefixes key with the configured prefix.
func (p *s3Publisher) resolveKey(key string) string {
	prefix := strings.Trim(p.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
