package relocation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/tlsutil"
	"github.com/BaSui01/mediaflow/media/allowlist"
	"github.com/BaSui01/mediaflow/media/storage"
	"github.com/BaSui01/mediaflow/types"
)

// Outcomes reported to the Observer.
const (
	OutcomeHit         = "hit"
	OutcomeOwnHost     = "own_host"
	OutcomePassthrough = "passthrough"
	OutcomeRejected    = "rejected"
	OutcomeRelocated   = "relocated"
	OutcomeFailed      = "failed"
	OutcomeInProgress  = "in_progress"
)

// ErrInProgress means another replica holds the upload lease and did not
// finish within the wait window. Callers should retry.
var ErrInProgress = types.NewError(types.ErrServiceUnavailable, "asset relocation in progress").
	WithHTTPStatus(http.StatusServiceUnavailable).
	WithRetryable(true)

// Observer receives one call per Relocate.
type Observer interface {
	ObserveRelocation(provider, outcome string, duration time.Duration, bytes int64)
}

// Asset identifies one vendor output to relocate.
type Asset struct {
	Provider string
	TaskID   string
	// CacheKey namespaces TaskID by adapter family; defaults to
	// Provider + "-" + TaskID.
	CacheKey string
	URL      string
}

func (a Asset) key() string {
	if a.CacheKey != "" {
		return a.CacheKey
	}
	return a.Provider + "-" + a.TaskID
}

// Relocator copies vendor-hosted assets into the object store, at most
// once per cache key.
type Relocator struct {
	objects  storage.ObjectStore
	guard    *allowlist.Guard
	own      *allowlist.Guard
	store    Store
	mode     string
	client   *http.Client
	group    singleflight.Group
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	// local keeps URLs whose Store commit failed so this replica still
	// answers with the object it wrote.
	local sync.Map

	claimTTL     time.Duration
	claimWait    time.Duration
	pollInterval time.Duration
	fetchTimeout time.Duration
	commitRetry  time.Duration
}

// Option configures a Relocator.
type Option func(*Relocator)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Relocator) { r.observer = o }
}

// WithHTTPClient replaces the egress client. The client's redirect policy
// must re-check the allowlist.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relocator) { r.client = c }
}

// WithClock overrides time.Now for object keys.
func WithClock(now func() time.Time) Option {
	return func(r *Relocator) { r.now = now }
}

// New creates a Relocator. guard gates upstream hosts; objects' own hosts
// are treated as already relocated.
func New(cfg config.RelocationConfig, objects storage.ObjectStore, guard *allowlist.Guard, store Store, logger *zap.Logger, opts ...Option) *Relocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Relocator{
		objects:      objects,
		guard:        guard,
		own:          allowlist.New(objects.AllowedHosts()),
		store:        store,
		mode:         cfg.Mode,
		logger:       logger.With(zap.String("component", "relocator")),
		now:          time.Now,
		claimTTL:     cfg.ClaimTTL,
		claimWait:    cfg.ClaimWait,
		pollInterval: 100 * time.Millisecond,
		fetchTimeout: cfg.FetchTimeout,
		commitRetry:  200 * time.Millisecond,
	}
	if r.mode == "" {
		r.mode = config.RelocationModeReject
	}
	if r.claimTTL <= 0 {
		r.claimTTL = 10 * time.Minute
	}
	if r.fetchTimeout <= 0 {
		r.fetchTimeout = 10 * time.Minute
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = tlsutil.EgressClient(0, guard.CheckRedirect)
	}
	return r
}

// Relocate returns a storage-backed URL for a.URL.
//
// Concurrent calls for one key share a single upload in this process, and
// the Store lease extends that across processes. Once a URL is committed
// every later call returns it without touching the network.
func (r *Relocator) Relocate(ctx context.Context, a Asset) (string, error) {
	start := time.Now()
	key := a.key()

	if u, ok, err := r.store.Get(ctx, key); err != nil {
		r.logger.Warn("relocation cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		r.observe(a.Provider, OutcomeHit, start, 0)
		return u, nil
	}
	if u, ok := r.local.Load(key); ok {
		r.observe(a.Provider, OutcomeHit, start, 0)
		return u.(string), nil
	}

	target, err := url.Parse(strings.TrimSpace(a.URL))
	if err != nil {
		return "", types.NewInvalidRequestError("invalid asset url").WithCause(err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", types.NewInvalidRequestError(fmt.Sprintf("unsupported asset url scheme %q", target.Scheme))
	}
	if r.own.IsAllowed(target.Hostname()) {
		r.observe(a.Provider, OutcomeOwnHost, start, 0)
		return a.URL, nil
	}

	if err := r.guard.CheckURL(target); err != nil {
		if r.mode == config.RelocationModePassthrough && allowlist.IsHostNotAllowed(err) {
			r.logger.Warn("asset host not allowlisted, returning upstream url",
				zap.String("provider", a.Provider),
				zap.String("task_id", a.TaskID),
				zap.String("host", target.Hostname()),
			)
			r.observe(a.Provider, OutcomePassthrough, start, 0)
			return a.URL, nil
		}
		r.observe(a.Provider, OutcomeRejected, start, 0)
		return "", err
	}

	ch := r.group.DoChan(key, func() (any, error) {
		// 上传与发起者的请求生命周期解耦，由 fetchTimeout 约束
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		return r.relocateOnce(jobCtx, a, key, target)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			outcome := OutcomeFailed
			if errors.Is(res.Err, ErrInProgress) {
				outcome = OutcomeInProgress
			}
			r.observe(a.Provider, outcome, start, 0)
			return "", res.Err
		}
		out := res.Val.(result)
		r.observe(a.Provider, out.outcome, start, out.bytes)
		return out.url, nil
	}
}

type result struct {
	url     string
	outcome string
	bytes   int64
}

func (r *Relocator) relocateOnce(ctx context.Context, a Asset, key string, target *url.URL) (result, error) {
	// 另一个副本可能刚刚完成
	if u, ok, err := r.store.Get(ctx, key); err == nil && ok {
		return result{url: u, outcome: OutcomeHit}, nil
	}

	token, claimed, err := r.store.Claim(ctx, key, r.claimTTL)
	if err != nil {
		return result{}, types.NewError(types.ErrStorageError, "relocation lease failed").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true).
			WithCause(err)
	}
	if !claimed {
		u, err := r.waitForCommit(ctx, key)
		if err != nil {
			return result{}, err
		}
		return result{url: u, outcome: OutcomeHit}, nil
	}

	obj, err := r.copy(ctx, a, key, target)
	if err != nil {
		if rerr := r.store.Release(context.WithoutCancel(ctx), key, token); rerr != nil {
			r.logger.Warn("relocation lease release failed", zap.String("key", key), zap.Error(rerr))
		}
		return result{}, err
	}

	r.commit(ctx, key, obj.URL, token)

	r.logger.Info("asset relocated",
		zap.String("provider", a.Provider),
		zap.String("task_id", a.TaskID),
		zap.String("object_key", obj.Key),
		zap.Int64("bytes", obj.Size),
	)
	return result{url: obj.URL, outcome: OutcomeRelocated, bytes: obj.Size}, nil
}

// commit records url in the Store. A failed commit is retried once; if it
// still fails the URL is kept locally and the lease is released so other
// replicas are not left waiting on it until the TTL.
func (r *Relocator) commit(ctx context.Context, key, url, token string) {
	ctx = context.WithoutCancel(ctx)
	err := r.store.Commit(ctx, key, url, token)
	if err != nil {
		time.Sleep(r.commitRetry)
		err = r.store.Commit(ctx, key, url, token)
	}
	if err == nil {
		return
	}
	r.local.Store(key, url)
	r.logger.Error("relocation commit failed, serving url from this replica",
		zap.String("key", key), zap.Error(err))
	if rerr := r.store.Release(ctx, key, token); rerr != nil {
		r.logger.Warn("relocation lease release failed", zap.String("key", key), zap.Error(rerr))
	}
}

// waitForCommit polls the Store until another holder commits key.
func (r *Relocator) waitForCommit(ctx context.Context, key string) (string, error) {
	if r.claimWait <= 0 {
		return "", ErrInProgress
	}
	deadline := time.NewTimer(r.claimWait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrInProgress
		case <-ticker.C:
			if u, ok, err := r.store.Get(ctx, key); err == nil && ok {
				return u, nil
			}
		}
	}
}

// copy streams target into the object store.
func (r *Relocator) copy(ctx context.Context, a Asset, key string, target *url.URL) (*storage.Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, types.NewUpstreamFetchFailedError("invalid asset request", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		// 重定向被白名单拦截时保留原始错误码
		if e, ok := types.AsError(err); ok {
			return nil, e
		}
		return nil, types.NewUpstreamFetchFailedError("asset download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewUpstreamFetchFailedError(fmt.Sprintf("asset download returned HTTP %d", resp.StatusCode), nil)
	}

	body := bufio.NewReaderSize(resp.Body, 64<<10)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, types.NewUpstreamFetchFailedError("asset download returned an empty body", nil)
		}
		return nil, types.NewUpstreamFetchFailedError("asset download failed", err)
	}

	contentType, ext := mediaType(resp.Header.Get("Content-Type"))
	objectKey := ObjectKey(a.Provider, key, ext, r.now())
	return r.objects.PutStream(ctx, objectKey, body, storage.PutOptions{ContentType: contentType})
}

func (r *Relocator) observe(provider, outcome string, start time.Time, bytes int64) {
	if r.observer != nil {
		r.observer.ObserveRelocation(provider, outcome, time.Since(start), bytes)
	}
}

// =============================================================================
// 对象键
// =============================================================================

var extensions = map[string]string{
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"video/x-matroska": "mkv",
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"image/gif":        "gif",
}

// mediaType returns the stored content type and file extension for a
// response Content-Type. Unknown or missing types become video/mp4.
func mediaType(header string) (string, string) {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "video/mp4", "mp4"
	}
	if ext, ok := extensions[mt]; ok {
		return mt, ext
	}
	return "video/mp4", "mp4"
}

// ObjectKey builds generated/<provider>/<task>/<unix ms>.<ext>. The
// timestamp keeps a retried upload from overwriting an earlier attempt.
func ObjectKey(provider, taskKey, ext string, now time.Time) string {
	return fmt.Sprintf("generated/%s/%s/%d.%s", sanitizeSegment(provider), sanitizeSegment(taskKey), now.UnixMilli(), ext)
}

// sanitizeSegment keeps [A-Za-z0-9._-] and replaces the rest with '_'.
func sanitizeSegment(s string) string {
	const maxLen = 128
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxLen {
			break
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}
