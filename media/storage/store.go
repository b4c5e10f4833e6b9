package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/types"
)

// ObjectStore is the write side of the service's own object storage.
type ObjectStore interface {
	// PutStream streams r into key without buffering the whole object.
	PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (*Object, error)

	// PublicURL maps a storage key to its public URL.
	PublicURL(key string) string

	// AllowedHosts lists hosts that serve objects from this store.
	AllowedHosts() []string
}

// Presigner is implemented by stores that can issue direct-upload URLs.
type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration, contentType string) (*PresignedUpload, error)
}

// Pinger is implemented by stores with a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PutOptions carries object metadata.
type PutOptions struct {
	ContentType string
}

// Object describes a stored object.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// PresignedUpload is a time-limited direct upload grant.
type PresignedUpload struct {
	Method    string              `json:"method"`
	UploadURL string              `json:"upload_url"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Key       string              `json:"key"`
	PublicURL string              `json:"public_url"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ValidateKey rejects keys that could escape the bucket prefix.
func ValidateKey(key string) error {
	if key == "" {
		return types.NewInvalidRequestError("storage key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return types.NewInvalidRequestError("storage key must be relative")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return types.NewInvalidRequestError("storage key must not contain dot segments")
		}
	}
	return nil
}

// joinURL appends an escaped key to base.
func joinURL(base, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segs, "/")
}

// hostOf returns the hostname of raw, or "" when raw is not a URL.
func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func compactHosts(hosts ...string) []string {
	out := make([]string, 0, len(hosts))
	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// writeContext bounds one object write. timeout <= 0 means no bound.
func writeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// ctxReader stops a copy loop once ctx is done, even when the source
// itself does not watch the context.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func storageError(op string, err error) *types.Error {
	return types.NewError(types.ErrStorageError, op+" failed").
		WithHTTPStatus(502).
		WithCause(err)
}

// NewFromConfig builds the configured backend.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (ObjectStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.StorageDriverS3:
		return NewS3Store(S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
			PublicBaseURL:   cfg.PublicBaseURL,
			Timeout:         cfg.Timeout,
		}, logger)
	case config.StorageDriverGCS:
		return NewGCSStore(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsJSON: cfg.CredentialsJSON,
			PublicBaseURL:   cfg.PublicBaseURL,
			Endpoint:        cfg.Endpoint,
			Timeout:         cfg.Timeout,
		}, logger)
	case config.StorageDriverMemory, "":
		return NewMemoryStore(cfg.PublicBaseURL).WithWriteTimeout(cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
