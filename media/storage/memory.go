package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMemoryBaseURL is used when a memory store has no public base URL.
const DefaultMemoryBaseURL = "https://storage.mediaflow.local"

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory. It also serves them over
// HTTP so a single-node dev setup can proxy its own keys.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
	writes  atomic.Int64
	timeout time.Duration
}

// NewMemoryStore creates an empty store rooted at baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = DefaultMemoryBaseURL
	}
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// WithWriteTimeout bounds each PutStream. It must be called before the
// store is shared.
func (m *MemoryStore) WithWriteTimeout(d time.Duration) *MemoryStore {
	m.timeout = d
	return m
}

// PutStream reads r fully and stores it under key.
func (m *MemoryStore) PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := writeContext(ctx, m.timeout)
	defer cancel()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, &ctxReader{ctx: ctx, r: r}); err != nil {
		return nil, storageError("memory write", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, storageError("memory write", err)
	}

	m.mu.Lock()
	m.objects[key] = memoryObject{data: buf.Bytes(), contentType: opts.ContentType}
	m.mu.Unlock()
	m.writes.Add(1)

	return &Object{
		Key:         key,
		URL:         m.PublicURL(key),
		ContentType: opts.ContentType,
		Size:        int64(buf.Len()),
	}, nil
}

// PublicURL maps key under the base URL.
func (m *MemoryStore) PublicURL(key string) string {
	return joinURL(m.baseURL, key)
}

// AllowedHosts returns the base URL host.
func (m *MemoryStore) AllowedHosts() []string {
	return compactHosts(hostOf(m.baseURL))
}

// Presign returns a URL on the base host; useful only in tests.
func (m *MemoryStore) Presign(_ context.Context, key string, ttl time.Duration, contentType string) (*PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return &PresignedUpload{
		Method:    http.MethodPut,
		UploadURL: m.PublicURL(key),
		Key:       key,
		PublicURL: m.PublicURL(key),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Get returns a stored object.
func (m *MemoryStore) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

// Writes returns the number of successful PutStream calls.
func (m *MemoryStore) Writes() int64 {
	return m.writes.Load()
}

// Keys lists stored keys.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

// ServeHTTP serves stored objects by path, with Range support.
func (m *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	data, ct, ok := m.Get(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, key, time.Time{}, bytes.NewReader(data))
}
