package transports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// S3HostSuffix identifies archives hosted on Amazon S3.
const S3HostSuffix = ".amazonaws.com"

const (
	defaultS3Region    = "us-east-1"
	defaultS3BlockSize = 8 * 1024 * 1024
)

// S3Location is a bucket/key pair parsed from an S3 object URL.
type S3Location struct {
	Bucket string
	Key    string
	Region string
}

// ParseS3URL accepts virtual-hosted-style and path-style S3 object URLs.
// Query parameters such as presigning fields are ignored.
func ParseS3URL(raw string) (S3Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return S3Location{}, fmt.Errorf("invalid s3 url: %w", RedactError(err, raw))
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, S3HostSuffix) {
		return S3Location{}, errors.New("invalid s3 url: host is not an s3 endpoint")
	}
	labels := strings.Split(strings.TrimSuffix(host, S3HostSuffix), ".")

	// The service label is the right-most "s3" or "s3-<region>" label; bucket
	// names may contain dots to its left.
	svc := -1
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] == "s3" || strings.HasPrefix(labels[i], "s3-") {
			svc = i
			break
		}
	}
	if svc < 0 {
		return S3Location{}, errors.New("invalid s3 url: missing s3 service label")
	}

	loc := S3Location{Region: defaultS3Region}
	if region, ok := strings.CutPrefix(labels[svc], "s3-"); ok {
		loc.Region = region
	}
	for _, label := range labels[svc+1:] {
		if label != "dualstack" {
			loc.Region = label
			break
		}
	}

	path := strings.TrimPrefix(u.Path, "/")
	if svc > 0 {
		loc.Bucket = strings.Join(labels[:svc], ".")
		loc.Key = path
	} else {
		loc.Bucket, loc.Key, _ = strings.Cut(path, "/")
	}
	if loc.Bucket == "" || loc.Key == "" {
		return S3Location{}, errors.New("invalid s3 url: missing bucket or key")
	}
	return loc, nil
}

// S3 downloads archives from Amazon S3 using the default AWS credential
// chain and parallel ranged GETs.
type S3 struct {
	logger     *slog.Logger
	loadConfig func(ctx context.Context, region string) (aws.Config, error)
	optFns     []func(*s3.Options)

	mu      sync.Mutex
	clients map[string]*s3.Client
}

// S3Option configures an S3 transport.
type S3Option func(*S3)

// WithAWSConfig replaces the default AWS config loader.
func WithAWSConfig(load func(ctx context.Context, region string) (aws.Config, error)) S3Option {
	return func(s *S3) {
		s.loadConfig = load
	}
}

// WithS3ClientOptions adds options applied to every S3 client.
func WithS3ClientOptions(fns ...func(*s3.Options)) S3Option {
	return func(s *S3) {
		s.optFns = append(s.optFns, fns...)
	}
}

// NewS3 creates an S3 transport. Clients are created lazily per region.
func NewS3(logger *slog.Logger, opts ...S3Option) *S3 {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &S3{
		logger:  logger,
		clients: make(map[string]*s3.Client),
		loadConfig: func(ctx context.Context, region string) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *S3) clientFor(ctx context.Context, region string) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[region]; ok {
		return client, nil
	}
	cfg, err := s.loadConfig(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, s.optFns...)
	s.clients[region] = client
	return client, nil
}

// DownloadBlob implements BlobDownloader.
func (s *S3) DownloadBlob(ctx context.Context, archiveLocation, archivePath string, opts BlobOptions) error {
	loc, err := ParseS3URL(archiveLocation)
	if err != nil {
		return err
	}
	client, err := s.clientFor(ctx, loc.Region)
	if err != nil {
		return err
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return fmt.Errorf("failed to head object: %w", RedactError(err, archiveLocation))
	}
	size := aws.ToInt64(head.ContentLength)

	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = defaultS3BlockSize
	}
	blocks := (size + blockSize - 1) / blockSize
	workers := int64(max(opts.Concurrency, 1))
	workers = min(workers, blocks)

	var next atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	for range workers {
		eg.Go(func() error {
			for {
				if err := egCtx.Err(); err != nil {
					return err
				}
				i := next.Add(1) - 1
				if i >= blocks {
					return nil
				}
				start := i * blockSize
				end := min(start+blockSize, size) - 1
				if err := s.downloadRange(egCtx, client, loc, head.ETag, f, start, end, opts); err != nil {
					return RedactError(err, archiveLocation)
				}
			}
		})
	}
	err = eg.Wait()
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close archive file: %w", closeErr)
	}

	s.logger.Debug("downloaded archive with s3 sdk",
		"location", Redact(archiveLocation),
		"bytes", size,
		"concurrency", workers)
	return nil
}

func (s *S3) downloadRange(ctx context.Context, client *s3.Client, loc S3Location, etag *string, f *os.File, start, end int64, opts BlobOptions) error {
	if opts.TryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TryTimeout)
		defer cancel()
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:  aws.String(loc.Bucket),
		Key:     aws.String(loc.Key),
		Range:   aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
		IfMatch: etag,
	})
	if err != nil {
		return fmt.Errorf("failed to get object range %d-%d: %w", start, end, err)
	}
	defer out.Body.Close()

	want := end - start + 1
	n, err := io.Copy(io.NewOffsetWriter(f, start), io.LimitReader(out.Body, want))
	if err != nil {
		return fmt.Errorf("failed to write object range %d-%d: %w", start, end, err)
	}
	if n != want {
		return fmt.Errorf("short object range %d-%d: got %d of %d bytes", start, end, n, want)
	}
	return nil
}
