package relocation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/cache"
	"github.com/BaSui01/mediaflow/media/allowlist"
	"github.com/BaSui01/mediaflow/media/storage"
	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type upstream struct {
	*httptest.Server
	hits atomic.Int64
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func videoHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(body))
	}
}

func testConfig(mode string) config.RelocationConfig {
	cfg := config.DefaultRelocationConfig()
	cfg.Mode = mode
	cfg.ClaimWait = 500 * time.Millisecond
	return cfg
}

func newTestRelocator(t *testing.T, mode string, allowed []string, store Store) (*Relocator, *storage.MemoryStore) {
	t.Helper()
	objects := storage.NewMemoryStore("")
	guard := allowlist.New(allowed)
	r := New(testConfig(mode), objects, guard, store, zap.NewNop(),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }))
	return r, objects
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveRelocation(_, outcome string, _ time.Duration, _ int64) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

// =============================================================================
// 🧪 Relocate
// =============================================================================

func TestRelocate_AllowlistedHostIsCopiedOnce(t *testing.T) {
	up := newUpstream(t, videoHandler("video-bytes"))
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, nil)
	obs := &recordingObserver{}
	r.observer = obs

	asset := Asset{Provider: "vidu", TaskID: "v123", URL: up.URL + "/v.mp4"}
	first, err := r.Relocate(context.Background(), asset)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, storage.DefaultMemoryBaseURL+"/generated/vidu/vidu-v123/"))
	assert.True(t, strings.HasSuffix(first, "/1700000000000.mp4"))

	second, err := r.Relocate(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), up.hits.Load())
	assert.Equal(t, int64(1), objects.Writes())
	assert.Equal(t, []string{OutcomeRelocated, OutcomeHit}, obs.outcomes)

	data, ct, ok := objects.Get("generated/vidu/vidu-v123/1700000000000.mp4")
	require.True(t, ok)
	assert.Equal(t, "video-bytes", string(data))
	assert.Equal(t, "video/mp4", ct)
}

func TestRelocate_RejectModeBlocksUnknownHost(t *testing.T) {
	up := newUpstream(t, videoHandler("x"))
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"cdn.example.com"}, nil)

	_, err := r.Relocate(context.Background(), Asset{Provider: "vidu", TaskID: "v1", URL: up.URL + "/v.mp4"})
	require.Error(t, err)
	assert.Equal(t, types.ErrHostNotAllowed, types.GetErrorCode(err))
	assert.Zero(t, up.hits.Load())
	assert.Zero(t, objects.Writes())
}

func TestRelocate_PassthroughModeReturnsOriginal(t *testing.T) {
	up := newUpstream(t, videoHandler("x"))
	r, objects := newTestRelocator(t, config.RelocationModePassthrough, nil, nil)

	original := up.URL + "/v.mp4"
	got, err := r.Relocate(context.Background(), Asset{Provider: "vidu", TaskID: "v1", URL: original})
	require.NoError(t, err)
	assert.Equal(t, original, got)
	assert.Zero(t, up.hits.Load())
	assert.Zero(t, objects.Writes())
}

func TestRelocate_OwnStorageHostIsUnchanged(t *testing.T) {
	r, objects := newTestRelocator(t, config.RelocationModeReject, nil, nil)

	own := storage.DefaultMemoryBaseURL + "/generated/vidu/x/1.mp4"
	got, err := r.Relocate(context.Background(), Asset{Provider: "vidu", TaskID: "v1", URL: own})
	require.NoError(t, err)
	assert.Equal(t, own, got)
	assert.Zero(t, objects.Writes())
}

func TestRelocate_RejectsNonHTTPScheme(t *testing.T) {
	r, _ := newTestRelocator(t, config.RelocationModePassthrough, []string{"example.com"}, nil)

	for _, raw := range []string{"file:///etc/passwd", "ftp://example.com/a.mp4", "gopher://example.com"} {
		_, err := r.Relocate(context.Background(), Asset{Provider: "vidu", TaskID: "v1", URL: raw})
		require.Error(t, err, raw)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err), raw)
	}
}

func TestRelocate_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non 2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"empty body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t, tt.handler)
			store := NewMemoryStore()
			r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, store)

			_, err := r.Relocate(context.Background(), Asset{Provider: "kling", TaskID: "k1", URL: up.URL + "/v.mp4"})
			require.Error(t, err)
			assert.Equal(t, types.ErrUpstreamFetchFailed, types.GetErrorCode(err))
			assert.Zero(t, objects.Writes())
			assert.Zero(t, store.Len())

			// 失败后释放占用，下次可以重试
			_, ok, _ := store.Claim(context.Background(), "kling-k1", time.Minute)
			assert.True(t, ok)
		})
	}
}

func TestRelocate_RedirectToUnlistedHostIsNotFetched(t *testing.T) {
	evil := newUpstream(t, videoHandler("secret"))
	// localhost is not on the allowlist even though 127.0.0.1 is
	evilURL := strings.Replace(evil.URL, "127.0.0.1", "localhost", 1)
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, evilURL+"/v.mp4", http.StatusFound)
	})
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, nil)

	_, err := r.Relocate(context.Background(), Asset{Provider: "vidu", TaskID: "v9", URL: up.URL + "/v.mp4"})
	require.Error(t, err)
	assert.True(t, allowlist.IsHostNotAllowed(err))
	assert.Zero(t, evil.hits.Load())
	assert.Zero(t, objects.Writes())
}

func TestRelocate_ContentTypeExtension(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm; codecs=vp9")
		_, _ = w.Write([]byte("webm"))
	})
	r, _ := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, nil)

	got, err := r.Relocate(context.Background(), Asset{Provider: "runway", TaskID: "rw/1", URL: up.URL})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "/generated/runway/runway-rw_1/1700000000000.webm"), got)
}

func TestRelocate_ConcurrentPollsUploadOnce(t *testing.T) {
	release := make(chan struct{})
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		videoHandler("slow")(w, r)
	})
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, nil)

	const callers = 8
	urls := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := r.Relocate(context.Background(), Asset{Provider: "seedance", TaskID: "cgt", URL: up.URL + "/v.mp4"})
			assert.NoError(t, err)
			urls[i] = u
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), objects.Writes())
	for _, u := range urls {
		assert.Equal(t, urls[0], u)
	}
}

func TestRelocate_CallerCancelDoesNotAbortUpload(t *testing.T) {
	release := make(chan struct{})
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		videoHandler("late")(w, r)
	})
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, nil)
	asset := Asset{Provider: "vidu", TaskID: "slow", URL: up.URL + "/v.mp4"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Relocate(ctx, asset)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool { return objects.Writes() == 1 }, 2*time.Second, 10*time.Millisecond)

	got, err := r.Relocate(context.Background(), asset)
	require.NoError(t, err)
	assert.Contains(t, got, "/generated/vidu/vidu-slow/")
	assert.Equal(t, int64(1), up.hits.Load())
}

// =============================================================================
// 🧪 跨进程占用 (miniredis)
// =============================================================================

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, NewRedisStore(m, "test:reloc:", time.Hour)
}

func TestRedisStore_ClaimCommitRelease(t *testing.T) {
	mr, s := newRedisStore(t)
	ctx := context.Background()

	token, ok, err := s.Claim(ctx, "vidu-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Claim(ctx, "vidu-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must fail while lease is held")

	// 他人的 token 不能释放锁
	require.NoError(t, s.Release(ctx, "vidu-1", "someone-else"))
	assert.True(t, mr.Exists("test:reloc:claim:vidu-1"))

	require.NoError(t, s.Commit(ctx, "vidu-1", "https://storage/x.mp4", token))
	assert.False(t, mr.Exists("test:reloc:claim:vidu-1"))

	u, ok, err := s.Get(ctx, "vidu-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://storage/x.mp4", u)
}

func TestRelocate_WaitsForOtherReplica(t *testing.T) {
	_, s := newRedisStore(t)
	up := newUpstream(t, videoHandler("x"))
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, s)

	// 模拟另一个副本持有占用锁
	token, ok, err := s.Claim(context.Background(), "vidu-shared", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = s.Commit(context.Background(), "vidu-shared", "https://storage.mediaflow.local/generated/vidu/vidu-shared/1.mp4", token)
	}()

	got, err := r.Relocate(context.Background(), Asset{Provider: "vidu", TaskID: "shared", URL: up.URL + "/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "https://storage.mediaflow.local/generated/vidu/vidu-shared/1.mp4", got)
	assert.Zero(t, up.hits.Load())
	assert.Zero(t, objects.Writes())
}

func TestRelocate_OtherReplicaTooSlow(t *testing.T) {
	_, s := newRedisStore(t)
	up := newUpstream(t, videoHandler("x"))
	r, _ := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, s)

	_, ok, err := s.Claim(context.Background(), "vidu-stuck", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.Relocate(context.Background(), Asset{Provider: "vidu", TaskID: "stuck", URL: up.URL + "/v.mp4"})
	require.ErrorIs(t, err, ErrInProgress)
	assert.True(t, types.IsRetryable(err))
}

// flakyCommitStore 让前 failures 次 Commit 失败
type flakyCommitStore struct {
	*MemoryStore
	failures int
	commits  atomic.Int32
}

func (s *flakyCommitStore) Commit(ctx context.Context, key, url, token string) error {
	if int(s.commits.Add(1)) <= s.failures {
		return errors.New("redis: connection reset")
	}
	return s.MemoryStore.Commit(ctx, key, url, token)
}

func TestRelocate_CommitRetried(t *testing.T) {
	up := newUpstream(t, videoHandler("x"))
	store := &flakyCommitStore{MemoryStore: NewMemoryStore(), failures: 1}
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, store)
	r.commitRetry = time.Millisecond

	asset := Asset{Provider: "vidu", TaskID: "t1", URL: up.URL + "/v.mp4"}
	first, err := r.Relocate(context.Background(), asset)
	require.NoError(t, err)

	u, ok, err := store.Get(context.Background(), "vidu-t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, u)

	second, err := r.Relocate(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), up.hits.Load())
	assert.Equal(t, int64(1), objects.Writes())
}

func TestRelocate_CommitFailureKeepsURLAndReleasesLease(t *testing.T) {
	up := newUpstream(t, videoHandler("x"))
	store := &flakyCommitStore{MemoryStore: NewMemoryStore(), failures: 100}
	r, objects := newTestRelocator(t, config.RelocationModeReject, []string{"127.0.0.1"}, store)
	r.commitRetry = time.Millisecond

	asset := Asset{Provider: "vidu", TaskID: "t1", URL: up.URL + "/v.mp4"}
	first, err := r.Relocate(context.Background(), asset)
	require.NoError(t, err)

	// 本副本继续返回已写入的对象
	second, err := r.Relocate(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), up.hits.Load())
	assert.Equal(t, int64(1), objects.Writes())

	// 占用锁已释放，其他副本无需等待 TTL
	_, claimed, err := store.Claim(context.Background(), "vidu-t1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

// =============================================================================
// 🧪 对象键
// =============================================================================

func TestObjectKey(t *testing.T) {
	at := time.UnixMilli(42)
	assert.Equal(t, "generated/kling/kling-o1-abc/42.mp4", ObjectKey("kling", "kling-o1-abc", "mp4", at))
	assert.Equal(t, "generated/vidu/a_b_c/42.png", ObjectKey("vidu", "a/b c", "png", at))
	assert.Equal(t, "generated/vidu/_/42.mp4", ObjectKey("vidu", "..", "mp4", at))
	require.NoError(t, storage.ValidateKey(ObjectKey("x", "../../etc", "mp4", at)))
}

func TestMediaType(t *testing.T) {
	tests := map[string][2]string{
		"":                           {"video/mp4", "mp4"},
		"application/octet-stream":   {"video/mp4", "mp4"},
		"video/quicktime":            {"video/quicktime", "mov"},
		"image/jpeg; charset=binary": {"image/jpeg", "jpg"},
		"not a media type;;":         {"video/mp4", "mp4"},
	}
	for in, want := range tests {
		ct, ext := mediaType(in)
		assert.Equal(t, want[0], ct, in)
		assert.Equal(t, want[1], ext, in)
	}
}
