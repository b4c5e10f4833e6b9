package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/pool"
	"github.com/BaSui01/mediaflow/internal/telemetry"
	"github.com/BaSui01/mediaflow/internal/tlsutil"
	"github.com/BaSui01/mediaflow/media/allowlist"
	"github.com/BaSui01/mediaflow/media/storage"
	"github.com/BaSui01/mediaflow/types"
)

// Outcomes reported to the Observer. OutcomeUpstreamAborted means the
// upstream body failed after headers were sent.
const (
	OutcomeStreamed        = "streamed"
	OutcomeBuffered        = "buffered"
	OutcomeHead            = "head"
	OutcomeRejected        = "rejected"
	OutcomeUpstream        = "upstream_error"
	OutcomeUpstreamAborted = "upstream_aborted"
	OutcomeClientGone      = "client_gone"
)

// ForwardedRequestHeaders are copied from the client to the upstream.
var ForwardedRequestHeaders = []string{
	"Range",
	"If-None-Match",
	"If-Modified-Since",
}

// ForwardedResponseHeaders are copied from the upstream to the client.
var ForwardedResponseHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
	"Cache-Control",
	"Content-Disposition",
}

// Observer receives one call per proxied request.
type Observer interface {
	ObserveProxy(outcome string, status int, bytes int64, redirects int, duration time.Duration)
}

// ErrorWriter renders a failure before any byte of the body was sent.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// KeyResolver maps storage keys to public URLs.
type KeyResolver interface {
	PublicURL(key string) string
	AllowedHosts() []string
}

// Target selects what to proxy. Exactly one of URL and Key is set.
type Target struct {
	URL string
	Key string
	// Method is GET or HEAD; empty means GET.
	Method string
}

// Response is an upstream response reduced to the forwarded headers.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Redirects  int
	URL        *url.URL
}

// Gateway streams allowlisted upstream assets to clients.
type Gateway struct {
	guard    *allowlist.Guard
	keys     KeyResolver
	client   *http.Client
	observer Observer
	onError  ErrorWriter
	tracer   trace.Tracer
	streamed metric.Int64Counter
	logger   *zap.Logger

	maxRedirects        int
	defaultCacheControl string
	maxBufferBytes      int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// WithErrorWriter replaces the default JSON error renderer.
func WithErrorWriter(fn ErrorWriter) Option {
	return func(g *Gateway) { g.onError = fn }
}

// WithHTTPClient replaces the egress client. It must not follow redirects.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// New creates a Gateway. The storage hosts of keys are always allowed.
func New(cfg config.ProxyConfig, guard *allowlist.Guard, keys KeyResolver, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	var hosts []string
	if keys != nil {
		hosts = keys.AllowedHosts()
	}
	var entries []string
	if guard != nil {
		entries = guard.Entries()
	}
	g := &Gateway{
		guard:               allowlist.New(entries, hosts),
		keys:                keys,
		tracer:              telemetry.Tracer("proxy"),
		logger:              logger.With(zap.String("component", "proxy")),
		maxRedirects:        cfg.MaxRedirects,
		defaultCacheControl: cfg.DefaultCacheControl,
		maxBufferBytes:      cfg.MaxBufferBytes,
	}
	if g.maxRedirects <= 0 {
		g.maxRedirects = allowlist.DefaultMaxRedirects
	}
	if g.maxBufferBytes <= 0 {
		g.maxBufferBytes = 64 << 20
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = tlsutil.EgressClient(cfg.DialTimeout, tlsutil.NoFollow)
	}
	if g.onError == nil {
		g.onError = writeJSONError
	}
	streamed, err := telemetry.Meter("proxy").Int64Counter("mediaflow.proxy.streamed_bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes streamed to clients by outcome"),
	)
	if err != nil {
		g.logger.Warn("create proxy byte counter failed", zap.Error(err))
		streamed = noop.Int64Counter{}
	}
	g.streamed = streamed
	return g
}

// =============================================================================
// 🎯 上游请求
// =============================================================================

// resolve turns t into a validated upstream URL.
func (g *Gateway) resolve(t Target) (*url.URL, error) {
	rawURL := strings.TrimSpace(t.URL)
	key := strings.TrimSpace(t.Key)
	switch {
	case rawURL != "" && key != "", rawURL == "" && key == "":
		return nil, types.NewInvalidRequestError("exactly one of url or key is required")
	case key != "":
		if g.keys == nil {
			return nil, types.NewInvalidRequestError("storage keys are not supported")
		}
		if err := storage.ValidateKey(key); err != nil {
			return nil, err
		}
		rawURL = g.keys.PublicURL(key)
	}
	return g.guard.CheckRawURL(rawURL)
}

// Open resolves t and fetches it, following at most maxRedirects hops.
// Every hop is validated before it is requested. The caller closes Body.
func (g *Gateway) Open(ctx context.Context, t Target, header http.Header) (*Response, error) {
	method := t.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, types.NewError(types.ErrInvalidRequest, "method not allowed").
			WithHTTPStatus(http.StatusMethodNotAllowed)
	}
	current, err := g.resolve(t)
	if err != nil {
		return nil, err
	}

	for redirects := 0; ; redirects++ {
		resp, err := g.do(ctx, method, current, header)
		if err != nil {
			return nil, err
		}
		loc := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || loc == "" {
			return &Response{
				StatusCode: resp.StatusCode,
				Header:     filterResponseHeader(resp.Header, resp.StatusCode, g.defaultCacheControl),
				Body:       resp.Body,
				Redirects:  redirects,
				URL:        current,
			}, nil
		}
		// 中间跳的响应体直接关闭，不读取
		_ = resp.Body.Close()

		if redirects >= g.maxRedirects {
			return nil, allowlist.ErrTooManyRedirects
		}
		next, err := current.Parse(loc)
		if err != nil {
			return nil, types.NewUpstreamFetchFailedError("invalid redirect location", err)
		}
		if err := g.guard.CheckURL(next); err != nil {
			g.logger.Warn("redirect target rejected",
				zap.String("from", current.Host),
				zap.String("to", next.Host),
			)
			return nil, err
		}
		if resp.StatusCode == http.StatusSeeOther && method != http.MethodHead {
			method = http.MethodGet
		}
		current = next
	}
}

func (g *Gateway) do(ctx context.Context, method string, target *url.URL, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, types.NewUpstreamFetchFailedError("invalid upstream request", err)
	}
	for _, name := range ForwardedRequestHeaders {
		if v := header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewUpstreamFetchFailedError("upstream request failed", err)
	}
	return resp, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// filterResponseHeader keeps the forwarded set and applies the cache policy:
// 2xx without a directive gets def, anything else is no-store.
func filterResponseHeader(src http.Header, status int, def string) http.Header {
	out := make(http.Header, len(ForwardedResponseHeaders))
	for _, name := range ForwardedResponseHeaders {
		if vs := src.Values(name); len(vs) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), vs...)
		}
	}
	switch {
	case status < 200 || status >= 300:
		out.Set("Cache-Control", "no-store")
	case out.Get("Cache-Control") == "" && def != "":
		out.Set("Cache-Control", def)
	}
	return out
}

// =============================================================================
// 🌊 流式输出
// =============================================================================

// ServeHTTP handles GET/HEAD ?url= or ?key=.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	target := Target{URL: q.Get("url"), Key: q.Get("key"), Method: r.Method}

	ctx, span := g.tracer.Start(r.Context(), "proxy.serve", trace.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.Bool("proxy.by_key", target.Key != ""),
	))
	defer span.End()

	resp, err := g.Open(ctx, target, r.Header)
	if err != nil {
		outcome := OutcomeUpstream
		if errors.Is(err, context.Canceled) {
			outcome = OutcomeClientGone
		} else if e, ok := types.AsError(err); ok && e.HTTPStatus < 500 {
			outcome = OutcomeRejected
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.observe(ctx, outcome, 0, 0, 0, start)
		if outcome != OutcomeClientGone {
			g.onError(w, r, err)
		}
		return
	}
	defer resp.Body.Close()
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Int("proxy.redirects", resp.Redirects),
	)

	n, outcome, err := g.Write(w, r.Method, resp)
	if outcome == OutcomeUpstreamAborted && r.Context().Err() != nil {
		// 客户端断开会取消上游请求，读错误只是其结果
		outcome = OutcomeClientGone
	}
	if err != nil {
		if outcome == OutcomeUpstream {
			// 尚未写出任何响应头
			g.onError(w, r, err)
		}
		g.logger.Debug("proxy stream ended early",
			zap.String("host", resp.URL.Host),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
	}
	g.observe(ctx, outcome, resp.StatusCode, n, resp.Redirects, start)
}

// Write sends resp to w. It streams with per-chunk flushes when w can
// flush and falls back to a bounded buffer when it cannot.
func (g *Gateway) Write(w http.ResponseWriter, method string, resp *Response) (int64, string, error) {
	if method == http.MethodHead {
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		return 0, OutcomeHead, nil
	}

	rc := http.NewResponseController(w)
	if !canFlush(w) {
		return g.writeBuffered(w, resp)
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if err := rc.Flush(); errors.Is(err, http.ErrNotSupported) {
		// canFlush 误判时继续以非 flush 方式写出
		rc = nil
	}

	buf := pool.CopyBuffers.Get()
	defer pool.CopyBuffers.Put(buf)
	src := &sourceReader{r: resp.Body}
	n, err := io.CopyBuffer(&flushWriter{w: w, rc: rc}, src, *buf)
	if err != nil {
		if src.err != nil {
			return n, OutcomeUpstreamAborted, err
		}
		return n, OutcomeClientGone, err
	}
	return n, OutcomeStreamed, nil
}

// sourceReader remembers the upstream read error so a failed copy can be
// attributed to the right side.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

func (g *Gateway) writeBuffered(w http.ResponseWriter, resp *Response) (int64, string, error) {
	buf := pool.ByteBuffers.Get()
	defer pool.ByteBuffers.Put(buf)
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, g.maxBufferBytes+1)); err != nil {
		return 0, OutcomeUpstream, types.NewUpstreamFetchFailedError("upstream body read failed", err)
	}
	if int64(buf.Len()) > g.maxBufferBytes {
		return 0, OutcomeUpstream, types.NewUpstreamFetchFailedError(
			fmt.Sprintf("asset exceeds the %d byte buffer limit", g.maxBufferBytes), nil)
	}
	copyHeader(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(resp.StatusCode)
	n, err := buf.WriteTo(w)
	if err != nil {
		return n, OutcomeClientGone, err
	}
	return n, OutcomeBuffered, nil
}

// flushWriter pushes every chunk to the client as soon as it is written.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if f.rc != nil {
		if err := f.rc.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// canFlush walks Unwrap chains the same way http.ResponseController does.
func canFlush(w http.ResponseWriter) bool {
	for {
		switch t := w.(type) {
		case interface{ FlushError() error }, http.Flusher:
			return true
		case interface{ Unwrap() http.ResponseWriter }:
			w = t.Unwrap()
		default:
			return false
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
}

func (g *Gateway) observe(ctx context.Context, outcome string, status int, n int64, redirects int, start time.Time) {
	g.streamed.Add(ctx, n, metric.WithAttributes(attribute.String("outcome", outcome)))
	if g.observer != nil {
		g.observer.ObserveProxy(outcome, status, n, redirects, time.Since(start))
	}
}

// writeJSONError is the default ErrorWriter.
func writeJSONError(w http.ResponseWriter, _ *http.Request, err error) {
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrInternalError, "internal error").WithHTTPStatus(http.StatusInternalServerError)
	}
	status := e.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q}}`, e.Code, e.Message)
}
