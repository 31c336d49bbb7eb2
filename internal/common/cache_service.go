package common

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryTierStore keeps entries in process memory for the lifetime of the server
type MemoryTierStore struct {
	cache *cache.Cache
}

// Ensure MemoryTierStore implements TierStore
var _ TierStore = (*MemoryTierStore)(nil)

func NewMemoryTierStore(cleanUpInterval time.Duration) *MemoryTierStore {
	c := cache.New(cache.NoExpiration, cleanUpInterval)
	return &MemoryTierStore{cache: c}
}

func (m *MemoryTierStore) Name() string { return "memory" }

func (m *MemoryTierStore) Get(_ context.Context, key string) ([]byte, error) {
	val, found := m.cache.Get(key)
	if !found {
		return nil, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryTierStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	m.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *MemoryTierStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *MemoryTierStore) Keys(_ context.Context, prefix string) ([]string, error) {
	items := m.cache.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len reports the number of live entries
func (m *MemoryTierStore) Len() int {
	return m.cache.ItemCount()
}
