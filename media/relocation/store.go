package relocation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/mediaflow/internal/cache"
)

// Store records committed relocations and arbitrates which caller
// performs the upload for a key.
//
// A committed entry is never removed by the relocator. A claim is a
// lease: it expires after its TTL so a crashed holder cannot block a
// key forever.
type Store interface {
	// Get returns the committed URL for key.
	Get(ctx context.Context, key string) (url string, ok bool, err error)
	// Claim tries to take the upload lease for key. The returned token
	// identifies the holder for Commit and Release.
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Commit records url for key and drops the lease held by token.
	Commit(ctx context.Context, key, url, token string) error
	// Release drops the lease held by token without committing.
	Release(ctx context.Context, key, token string) error
}

// =============================================================================
// 内存实现
// =============================================================================

type lease struct {
	token   string
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	done   map[string]string
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		done:   make(map[string]string),
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.done[key]
	return u, ok, nil
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.done[key]; ok {
		return "", false, nil
	}
	now := s.now()
	if l, ok := s.leases[key]; ok && now.Before(l.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (s *MemoryStore) Commit(_ context.Context, key, url, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[key] = url
	if l, ok := s.leases[key]; ok && l.token == token {
		delete(s.leases, key)
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[key]; ok && l.token == token {
		delete(s.leases, key)
	}
	return nil
}

// Len returns the number of committed entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

// =============================================================================
// Redis 实现
// =============================================================================

// RedisStore shares relocation state between replicas.
type RedisStore struct {
	cache  *cache.Manager
	prefix string
	ttl    time.Duration
}

// NewRedisStore keys entries under prefix; committed URLs live for ttl.
func NewRedisStore(m *cache.Manager, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: m, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) doneKey(key string) string  { return s.prefix + "done:" + key }
func (s *RedisStore) claimKey(key string) string { return s.prefix + "claim:" + key }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	u, err := s.cache.Get(ctx, s.doneKey(key))
	if cache.IsCacheMiss(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return u, true, nil
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.cache.SetNX(ctx, s.claimKey(key), token, ttl)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (s *RedisStore) Commit(ctx context.Context, key, url, token string) error {
	if err := s.cache.Set(ctx, s.doneKey(key), url, s.ttl); err != nil {
		return err
	}
	_, err := s.cache.CompareAndDelete(ctx, s.claimKey(key), token)
	return err
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	_, err := s.cache.CompareAndDelete(ctx, s.claimKey(key), token)
	return err
}
