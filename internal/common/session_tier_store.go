package common

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// SessionTierStore is a process-lifetime tier backed by VictoriaMetrics fastcache.
// fastcache has no expiry or key listing, so both are tracked beside it.
type SessionTierStore struct {
	cache *fastcache.Cache
	mu    sync.RWMutex
	ttls  map[string]time.Time // zero time means no expiry
	now   func() time.Time
}

// Ensure SessionTierStore implements TierStore
var _ TierStore = (*SessionTierStore)(nil)

// NewSessionTierStore creates a session tier holding at most maxBytes of data
func NewSessionTierStore(maxBytes int) *SessionTierStore {
	if maxBytes <= 0 {
		maxBytes = 32 * 1024 * 1024
	}
	return &SessionTierStore{
		cache: fastcache.New(maxBytes),
		ttls:  make(map[string]time.Time),
		now:   time.Now,
	}
}

func (s *SessionTierStore) Name() string { return "fastcache" }

func (s *SessionTierStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	exp, tracked := s.ttls[key]
	s.mu.RUnlock()
	if !tracked {
		return nil, nil
	}

	if !exp.IsZero() && !s.now().Before(exp) {
		s.remove(key)
		return nil, nil
	}

	value, ok := s.cache.HasGet(nil, []byte(key))
	if !ok {
		// evicted by fastcache when the buckets filled up
		s.remove(key)
		return nil, nil
	}
	return value, nil
}

func (s *SessionTierStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set([]byte(key), value)
	if ttl > 0 {
		s.ttls[key] = s.now().Add(ttl)
	} else {
		s.ttls[key] = time.Time{}
	}
	return nil
}

func (s *SessionTierStore) Delete(_ context.Context, key string) error {
	s.remove(key)
	return nil
}

func (s *SessionTierStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.ttls))
	for k := range s.ttls {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *SessionTierStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Del([]byte(key))
	delete(s.ttls, key)
}
