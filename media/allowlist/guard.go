package allowlist

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/BaSui01/mediaflow/types"
)

// DefaultVendorHosts 是各视频厂商成品视频所在的 CDN 域名后缀。
var DefaultVendorHosts = []string{
	"vidu.cn",
	"vidu.com",
	"klingai.com",
	"kuaishou.com",
	"volces.com",
	"volccdn.com",
	"runwayml.com",
}

// DefaultMaxRedirects 是 CheckRedirect 允许的最大跳数。
const DefaultMaxRedirects = 5

// Guard decides whether an outbound fetch target is trusted.
// It is immutable after New and safe for concurrent use.
type Guard struct {
	entries      map[string]struct{}
	maxRedirects int
}

// New builds a Guard from configured entries merged with any default sets.
// Entries that normalize to empty are dropped.
func New(configured []string, defaults ...[]string) *Guard {
	g := &Guard{
		entries:      make(map[string]struct{}),
		maxRedirects: DefaultMaxRedirects,
	}
	add := func(list []string) {
		for _, raw := range list {
			if e := NormalizeEntry(raw); e != "" {
				g.entries[e] = struct{}{}
			}
		}
	}
	add(configured)
	for _, d := range defaults {
		add(d)
	}
	return g
}

// WithMaxRedirects returns a copy of g with a different redirect limit.
func (g *Guard) WithMaxRedirects(n int) *Guard {
	cp := &Guard{entries: g.entries, maxRedirects: n}
	return cp
}

// NormalizeEntry lowercases an entry and strips scheme, port, wildcard
// prefix and surrounding dots. "*.CDN.example.com:443" becomes
// "cdn.example.com".
func NormalizeEntry(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Host
		}
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "*.")
	s = strings.TrimLeft(s, ".")
	return normalizeHost(s)
}

// normalizeHost strips port, IPv6 brackets and the trailing root dot.
func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(h, ".")
}

// IsAllowed reports whether host equals an entry or is a subdomain of one.
func (g *Guard) IsAllowed(host string) bool {
	h := normalizeHost(host)
	if h == "" {
		return false
	}
	if _, ok := g.entries[h]; ok {
		return true
	}
	// 逐级剥离左侧标签，比遍历全部条目更快
	for i := strings.IndexByte(h, '.'); i >= 0; i = strings.IndexByte(h, '.') {
		h = h[i+1:]
		if _, ok := g.entries[h]; ok {
			return true
		}
	}
	return false
}

// CheckURL validates scheme and host of an outbound target.
func (g *Guard) CheckURL(u *url.URL) error {
	if u == nil {
		return types.NewInvalidRequestError("missing url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return types.NewInvalidRequestError(fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return types.NewInvalidRequestError("url has no host")
	}
	if !g.IsAllowed(u.Hostname()) {
		return types.NewHostNotAllowedError(u.Hostname())
	}
	return nil
}

// CheckRawURL parses and validates raw.
func (g *Guard) CheckRawURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, types.NewInvalidRequestError("invalid url").WithCause(err)
	}
	if err := g.CheckURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// ErrTooManyRedirects is returned once the redirect budget is exhausted.
var ErrTooManyRedirects = types.NewError(types.ErrTooManyRedirects, "too many redirects").
	WithHTTPStatus(http.StatusBadRequest)

// CheckRedirect is an http.Client.CheckRedirect hook that re-validates
// every hop against the allowlist.
func (g *Guard) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > g.maxRedirects {
		return ErrTooManyRedirects
	}
	return g.CheckURL(req.URL)
}

// Entries returns the normalized entries in sorted order.
func (g *Guard) Entries() []string {
	out := make([]string, 0, len(g.entries))
	for e := range g.entries {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// IsHostNotAllowed reports whether err is an allowlist rejection,
// including one surfaced through *url.Error from a redirect hook.
func IsHostNotAllowed(err error) bool {
	var e *types.Error
	if errors.As(err, &e) {
		return e.Code == types.ErrHostNotAllowed
	}
	return false
}
