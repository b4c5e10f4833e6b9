package allowlist

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mediaflow/types"
)

func TestNormalizeEntry(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cdn.example.com", "cdn.example.com"},
		{"  CDN.Example.COM ", "cdn.example.com"},
		{"*.example.com", "example.com"},
		{".example.com", "example.com"},
		{"example.com:8443", "example.com"},
		{"https://media.example.com/path", "media.example.com"},
		{"example.com.", "example.com"},
		{"[::1]:9000", "::1"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEntry(tt.in))
		})
	}
}

func TestGuard_IsAllowed(t *testing.T) {
	g := New([]string{"*.vendor.com", "Storage.Example.org:443"}, []string{"klingai.com"})

	tests := []struct {
		host string
		want bool
	}{
		{"vendor.com", true},
		{"cdn.vendor.com", true},
		{"a.b.vendor.com", true},
		{"CDN.VENDOR.COM:443", true},
		{"storage.example.org", true},
		{"v1-kling.klingai.com", true},
		{"evilvendor.com", false},
		{"vendor.com.evil.net", false},
		{"example.org", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, g.IsAllowed(tt.host))
		})
	}
}

func TestGuard_EmptyAllowsNothing(t *testing.T) {
	g := New(nil)
	assert.False(t, g.IsAllowed("example.com"))
	assert.Empty(t, g.Entries())
}

func TestGuard_CheckURL(t *testing.T) {
	g := New([]string{"ok.example"})

	err := g.CheckURL(&url.URL{Scheme: "https", Host: "ok.example"})
	assert.NoError(t, err)

	err = g.CheckURL(&url.URL{Scheme: "https", Host: "bad.example"})
	require.Error(t, err)
	assert.True(t, IsHostNotAllowed(err))

	err = g.CheckURL(&url.URL{Scheme: "file", Path: "/etc/passwd"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = g.CheckRawURL("://broken")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestGuard_EntriesSortedAndDeduplicated(t *testing.T) {
	g := New([]string{"b.example", "*.a.example"}, []string{"B.example", ".a.example"})
	assert.Equal(t, []string{"a.example", "b.example"}, g.Entries())
}

func TestGuard_CheckRedirect_BlocksUnlistedHop(t *testing.T) {
	var evilHits int32
	evil := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&evilHits, 1)
	}))
	defer evil.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 127.0.0.1 is allowed; localhost is not.
		evilURL, _ := url.Parse(evil.URL)
		http.Redirect(w, r, "http://localhost:"+evilURL.Port()+"/x", http.StatusFound)
	}))
	defer origin.Close()

	g := New([]string{"127.0.0.1"})
	client := &http.Client{CheckRedirect: g.CheckRedirect}

	_, err := client.Get(origin.URL)
	require.Error(t, err)
	assert.True(t, IsHostNotAllowed(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&evilHits))
}

func TestGuard_CheckRedirect_Limit(t *testing.T) {
	var hops int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hops, 1)
		http.Redirect(w, r, fmt.Sprintf("%s/hop/%d", srv.URL, n), http.StatusFound)
	}))
	defer srv.Close()

	g := New([]string{"127.0.0.1"}).WithMaxRedirects(2)
	client := &http.Client{CheckRedirect: g.CheckRedirect}

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTooManyRedirects))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hops))
}
