package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket          string
	CredentialsJSON string
	PublicBaseURL   string
	// Endpoint overrides the JSON API endpoint (emulators).
	Endpoint string
	// Timeout bounds one PutStream; zero means unbounded.
	Timeout time.Duration
}

// GCSStore streams objects through a resumable GCS writer.
type GCSStore struct {
	cfg    GCSConfig
	client *storage.Client
	logger *zap.Logger
}

// NewGCSStore creates a GCS store. Without CredentialsJSON the client
// falls back to application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *zap.Logger, extra ...option.ClientOption) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	opts := append([]option.ClientOption(nil), extra...)
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCSStore{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "gcs_store")),
	}, nil
}

// PutStream copies r into a new object.
func (s *GCSStore) PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	// 取消 ctx 会丢弃未提交的对象
	wctx, cancel := writeContext(ctx, s.cfg.Timeout)
	defer cancel()
	wc := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(wctx)
	if opts.ContentType != "" {
		wc.ContentType = opts.ContentType
	}

	n, err := io.Copy(wc, &ctxReader{ctx: wctx, r: r})
	if err != nil {
		cancel()
		_ = wc.Close()
		return nil, storageError("gcs write", err)
	}
	if err := wc.Close(); err != nil {
		return nil, storageError("gcs commit", err)
	}

	s.logger.Debug("object uploaded", zap.String("key", key), zap.Int64("bytes", n))
	return &Object{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: opts.ContentType,
		Size:        n,
	}, nil
}

func (s *GCSStore) baseURL() string {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL
	}
	return "https://storage.googleapis.com/" + s.cfg.Bucket
}

// PublicURL maps key under the public base URL.
func (s *GCSStore) PublicURL(key string) string {
	return joinURL(s.baseURL(), key)
}

// AllowedHosts returns the public host.
func (s *GCSStore) AllowedHosts() []string {
	return compactHosts(hostOf(s.baseURL()))
}

// Presign issues a V4 signed PUT URL. It needs credentials that carry a
// private key.
func (s *GCSStore) Presign(_ context.Context, key string, ttl time.Duration, contentType string) (*PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	expires := time.Now().Add(ttl)
	signed, err := s.client.Bucket(s.cfg.Bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		Expires:     expires,
		ContentType: contentType,
	})
	if err != nil {
		return nil, storageError("gcs presign", err)
	}
	var headers map[string][]string
	if contentType != "" {
		headers = map[string][]string{"Content-Type": {contentType}}
	}
	return &PresignedUpload{
		Method:    http.MethodPut,
		UploadURL: signed,
		Headers:   headers,
		Key:       key,
		PublicURL: s.PublicURL(key),
		ExpiresAt: expires,
	}, nil
}

// Ping reads bucket attributes.
func (s *GCSStore) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.cfg.Bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket attrs: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
