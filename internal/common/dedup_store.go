package common

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DedupStore remembers keys for a bounded window
type DedupStore struct {
	entries *cache.Cache
}

// NewDedupStore creates a store whose entries expire after ttl. ttl <= 0 keeps entries forever.
func NewDedupStore(ttl time.Duration) *DedupStore {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}
	return &DedupStore{
		entries: cache.New(expiration, cleanup),
	}
}

// MarkIfAbsent records key and reports true when it was not already present.
// The check and the insert are atomic.
func (d *DedupStore) MarkIfAbsent(key string) bool {
	return d.entries.Add(key, struct{}{}, cache.DefaultExpiration) == nil
}

// Seen reports whether key is currently remembered
func (d *DedupStore) Seen(key string) bool {
	_, found := d.entries.Get(key)
	return found
}

// Mark records key, refreshing its expiry
func (d *DedupStore) Mark(key string) {
	d.entries.Set(key, struct{}{}, cache.DefaultExpiration)
}

func (d *DedupStore) Forget(key string) {
	d.entries.Delete(key)
}
