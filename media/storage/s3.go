package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config configures an S3-compatible bucket (AWS, R2, MinIO).
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
	// Timeout bounds one PutStream; zero means unbounded.
	Timeout time.Duration
}

// S3Store writes objects through the multipart upload manager.
type S3Store struct {
	cfg       S3Config
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	logger    *zap.Logger
}

// NewS3Store creates an S3 store. Static keys are optional; without them
// requests are sent unsigned.
func NewS3Store(cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)

	return &S3Store{
		cfg:       cfg,
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		logger:    logger.With(zap.String("component", "s3_store")),
	}, nil
}

// PutStream uploads r to key.
func (s *S3Store) PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := writeContext(ctx, s.cfg.Timeout)
	defer cancel()
	counter := &countingReader{r: &ctxReader{ctx: ctx, r: r}}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   counter,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return nil, storageError("s3 upload", err)
	}

	s.logger.Debug("object uploaded",
		zap.String("key", key),
		zap.Int64("bytes", counter.n),
	)
	return &Object{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: opts.ContentType,
		Size:        counter.n,
	}, nil
}

// PublicURL maps key to the public base URL, or to the bucket endpoint
// when none is configured.
func (s *S3Store) PublicURL(key string) string {
	return joinURL(s.baseURL(), key)
}

func (s *S3Store) baseURL() string {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL
	}
	if s.cfg.Endpoint != "" {
		if s.cfg.UsePathStyle {
			return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket
		}
		scheme, host, ok := strings.Cut(s.cfg.Endpoint, "://")
		if ok {
			return scheme + "://" + s.cfg.Bucket + "." + strings.TrimRight(host, "/")
		}
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.Bucket, s.cfg.Region)
}

// AllowedHosts returns the public and endpoint hosts.
func (s *S3Store) AllowedHosts() []string {
	return compactHosts(hostOf(s.baseURL()), hostOf(s.cfg.PublicBaseURL))
}

// Presign issues a PUT URL valid for ttl.
func (s *S3Store) Presign(ctx context.Context, key string, ttl time.Duration, contentType string) (*PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, storageError("s3 presign", err)
	}
	return &PresignedUpload{
		Method:    req.Method,
		UploadURL: req.URL,
		Headers:   map[string][]string(req.SignedHeader),
		Key:       key,
		PublicURL: s.PublicURL(key),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Ping checks the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("s3 head bucket: %w", err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
