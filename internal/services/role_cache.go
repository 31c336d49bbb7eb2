package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/multierr"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/constants"
	"cryptorafts/platform/internal/logging"
	"cryptorafts/platform/internal/metrics"
	"cryptorafts/platform/internal/models/entities"
)

type CacheTierKind string

const (
	TierMemory     CacheTierKind = "memory"
	TierPersistent CacheTierKind = "persistent"
	TierSession    CacheTierKind = "session"
	TierCookie     CacheTierKind = "cookie"
)

// CacheTier is one ranked backend of the role cache
type CacheTier struct {
	Kind  CacheTierKind
	Store common.TierStore
}

type RoleCacheConfig struct {
	EnableMemory   bool
	EnableLocal    bool
	EnableSession  bool
	EnableCookies  bool
	Duration       time.Duration
	CookieLifetime time.Duration
	// CookieSecret signs cookie payloads. Empty means a random per-process key.
	CookieSecret   []byte
}

var errCookieSignature = errors.New("cookie signature mismatch")

func DefaultRoleCacheConfig() RoleCacheConfig {
	return RoleCacheConfig{
		EnableMemory:   true,
		EnableLocal:    true,
		EnableSession:  true,
		EnableCookies:  true,
		Duration:       5 * time.Minute,
		CookieLifetime: 30 * 24 * time.Hour,
	}
}

func (c RoleCacheConfig) enabled(kind CacheTierKind) bool {
	switch kind {
	case TierMemory:
		return c.EnableMemory
	case TierPersistent:
		return c.EnableLocal
	case TierSession:
		return c.EnableSession
	case TierCookie:
		return c.EnableCookies
	}
	return false
}

type tierCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
	writes atomic.Int64
}

// TierStats reports counters of one tier
type TierStats struct {
	Kind   CacheTierKind `json:"kind"`
	Store  string        `json:"store"`
	Hits   int64         `json:"hits"`
	Misses int64         `json:"misses"`
	Errors int64         `json:"errors"`
	Writes int64         `json:"writes"`
}

type CacheStats struct {
	Tiers          []TierStats `json:"tiers"`
	DurationMs     int64       `json:"durationMs"`
	CookieLifetime int64       `json:"cookieLifetimeMs"`
}

// RoleCache keeps user role records in a ranked list of tiers. Every tier is
// its own failure domain: a tier error is logged and handled as a miss.
type RoleCache struct {
	config   RoleCacheConfig
	tiers    []CacheTier
	counters []*tierCounters
	now      func() time.Time
	metrics  *metrics.MetricsRegistry
}

type RoleCacheOption func(*RoleCache)

// WithClock replaces the wall clock used for expiry
func WithClock(now func() time.Time) RoleCacheOption {
	return func(c *RoleCache) { c.now = now }
}

func WithCacheMetrics(m *metrics.MetricsRegistry) RoleCacheOption {
	return func(c *RoleCache) { c.metrics = m }
}

// NewRoleCache builds a cache over tiers in read order, skipping kinds the
// config disables.
func NewRoleCache(config RoleCacheConfig, tiers []CacheTier, opts ...RoleCacheOption) *RoleCache {
	defaults := DefaultRoleCacheConfig()
	if config.Duration <= 0 {
		config.Duration = defaults.Duration
	}
	if config.CookieLifetime <= 0 {
		config.CookieLifetime = defaults.CookieLifetime
	}

	if len(config.CookieSecret) == 0 {
		config.CookieSecret = make([]byte, 32)
		if _, err := rand.Read(config.CookieSecret); err != nil {
			panic(fmt.Sprintf("role cache: generate cookie key: %v", err))
		}
	}

	c := &RoleCache{config: config, now: time.Now}
	for _, tier := range tiers {
		if tier.Store == nil || !config.enabled(tier.Kind) {
			continue
		}
		c.tiers = append(c.tiers, tier)
		c.counters = append(c.counters, &tierCounters{})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func userKey(userID string) string {
	return string(constants.CachePrefixRoleUser) + userID
}

func preloadKey(role constants.Role) string {
	return string(constants.CachePrefixRolePreload) + string(role)
}

// cookieKey uses a short hash so the cookie name never carries the raw user id
func cookieKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return string(constants.CachePrefixRoleCookie) + hex.EncodeToString(sum[:])[:8]
}

func (c *RoleCache) cookieMAC(userID string, payload []byte) []byte {
	mac := hmac.New(sha256.New, c.config.CookieSecret)
	mac.Write([]byte(userID))
	mac.Write([]byte{0})
	mac.Write(payload)
	return mac.Sum(nil)
}

// sealCookie prefixes payload with a MAC bound to userID
func (c *RoleCache) sealCookie(userID string, payload []byte) []byte {
	return append(c.cookieMAC(userID, payload), payload...)
}

func (c *RoleCache) openCookie(userID string, raw []byte) ([]byte, error) {
	if len(raw) < sha256.Size {
		return nil, errCookieSignature
	}
	sum, payload := raw[:sha256.Size], raw[sha256.Size:]
	if !hmac.Equal(sum, c.cookieMAC(userID, payload)) {
		return nil, errCookieSignature
	}
	return payload, nil
}

func (c *RoleCache) nowMs() int64 {
	return c.now().UnixMilli()
}

// guard runs one tier operation, turning errors and panics into a logged failure
func (c *RoleCache) guard(i int, op string, fn func() error) (err error) {
	tier := c.tiers[i]
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tier %s panicked: %v", tier.Kind, r)
		}
		if err == nil || errors.Is(err, common.ErrTierUnavailable) {
			return
		}
		c.counters[i].errors.Add(1)
		if c.metrics != nil {
			c.metrics.CacheErrorsTotal.WithLabelValues(string(tier.Kind), op).Inc()
		}
		logging.Warn("Role cache tier failure",
			"tier", tier.Kind,
			"store", tier.Store.Name(),
			"op", op,
			"error", err,
		)
	}()
	return fn()
}

func (c *RoleCache) hit(i int) {
	c.counters[i].hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(string(c.tiers[i].Kind)).Inc()
	}
}

func (c *RoleCache) miss(i int) {
	c.counters[i].misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(string(c.tiers[i].Kind)).Inc()
	}
}

// Write stores a fresh record for user in every tier. A tier failure never
// stops the other tiers from being written.
func (c *RoleCache) Write(ctx context.Context, user entities.AuthUser, profile entities.UserProfile) {
	if user.ID == "" {
		logging.Warn("Role cache write skipped, user has no id")
		return
	}

	now := c.nowMs()
	record := entities.CachedUserRecord{
		UserID:           user.ID,
		Email:            user.Email,
		Role:             constants.NormalizeRole(string(profile.Role)),
		ProfileCompleted: profile.ProfileCompleted,
		KYCStatus:        profile.KYCStatus,
		KYBStatus:        profile.KYBStatus,
		OrgID:            profile.OrgID,
		OrgName:          profile.OrgName,
		Roles:            profile.Roles,
		LastUpdated:      now,
		ExpiresAt:        now + c.config.Duration.Milliseconds(),
	}

	written := make([]string, 0, len(c.tiers))
	for i, tier := range c.tiers {
		err := c.guard(i, "write", func() error {
			return c.writeTier(ctx, tier, &record)
		})
		if err == nil {
			c.counters[i].writes.Add(1)
			written = append(written, string(tier.Kind))
		}
	}

	logging.Debug("Role cache write",
		"user_id", user.ID,
		"role", record.Role,
		"tiers", written,
	)
}

func (c *RoleCache) writeTier(ctx context.Context, tier CacheTier, record *entities.CachedUserRecord) error {
	if tier.Kind == TierCookie {
		payload, err := sonic.Marshal(entities.CompactRoleRecord{
			Role:             record.Role,
			OrgID:            record.OrgID,
			ProfileCompleted: record.ProfileCompleted,
			KYBStatus:        record.KYBStatus,
			ExpiresAt:        record.ExpiresAt,
		})
		if err != nil {
			return err
		}
		return tier.Store.Set(ctx, cookieKey(record.UserID), c.sealCookie(record.UserID, payload), c.config.CookieLifetime)
	}

	payload, err := sonic.Marshal(record)
	if err != nil {
		return err
	}
	ttl := time.Duration(record.ExpiresAt-c.nowMs()) * time.Millisecond
	if ttl <= 0 {
		ttl = c.config.Duration
	}
	return tier.Store.Set(ctx, userKey(record.UserID), payload, ttl)
}

// Read returns the first live record for userID in tier order. Expired copies
// are purged from the tier they were found in, and a hit below the top is
// promoted into the memory tiers ranked above it.
func (c *RoleCache) Read(ctx context.Context, userID string) (*entities.CachedUserRecord, bool) {
	if userID == "" {
		return nil, false
	}

	for i, tier := range c.tiers {
		var record *entities.CachedUserRecord
		err := c.guard(i, "read", func() error {
			var err error
			record, err = c.readTier(ctx, tier, userID)
			return err
		})
		if err != nil || record == nil {
			c.miss(i)
			continue
		}

		if !record.Live(c.nowMs()) {
			c.miss(i)
			_ = c.guard(i, "purge", func() error {
				return tier.Store.Delete(ctx, c.tierKey(tier, userID))
			})
			logging.Debug("Purged expired role cache entry", "user_id", userID, "tier", tier.Kind)
			continue
		}

		c.hit(i)
		c.promote(ctx, i, record)
		return record, true
	}
	return nil, false
}

func (c *RoleCache) tierKey(tier CacheTier, userID string) string {
	if tier.Kind == TierCookie {
		return cookieKey(userID)
	}
	return userKey(userID)
}

func (c *RoleCache) readTier(ctx context.Context, tier CacheTier, userID string) (*entities.CachedUserRecord, error) {
	raw, err := tier.Store.Get(ctx, c.tierKey(tier, userID))
	if err != nil || raw == nil {
		return nil, err
	}

	if tier.Kind == TierCookie {
		payload, err := c.openCookie(userID, raw)
		if err != nil {
			return nil, err
		}
		var compact entities.CompactRoleRecord
		if err := sonic.Unmarshal(payload, &compact); err != nil {
			return nil, fmt.Errorf("malformed cookie payload: %w", err)
		}
		// cookies carry no email; callers treat "" as unknown
		return &entities.CachedUserRecord{
			UserID:           userID,
			Role:             constants.NormalizeRole(string(compact.Role)),
			ProfileCompleted: compact.ProfileCompleted,
			KYBStatus:        compact.KYBStatus,
			OrgID:            compact.OrgID,
			LastUpdated:      compact.ExpiresAt - c.config.Duration.Milliseconds(),
			ExpiresAt:        compact.ExpiresAt,
		}, nil
	}

	var record entities.CachedUserRecord
	if err := sonic.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	if record.UserID != userID {
		return nil, fmt.Errorf("record belongs to %q", record.UserID)
	}
	return &record, nil
}

func (c *RoleCache) promote(ctx context.Context, hitIndex int, record *entities.CachedUserRecord) {
	for i := 0; i < hitIndex; i++ {
		tier := c.tiers[i]
		if tier.Kind != TierMemory {
			continue
		}
		if err := c.guard(i, "promote", func() error {
			return c.writeTier(ctx, tier, record)
		}); err == nil {
			logging.Debug("Promoted role cache entry",
				"user_id", record.UserID,
				"from", c.tiers[hitIndex].Kind,
				"to", tier.Kind,
			)
		}
	}
}

// Clear removes userID from every tier. Unlike Write it reports failures:
// a caller invalidating on sign-out needs to know every tier was purged.
// A tier that cannot be reached in this context (no cookie jar) holds
// nothing to purge and is skipped.
func (c *RoleCache) Clear(ctx context.Context, userID string) error {
	var errs error
	for i, tier := range c.tiers {
		err := c.guard(i, "clear", func() error {
			return tier.Store.Delete(ctx, c.tierKey(tier, userID))
		})
		if err != nil && !errors.Is(err, common.ErrTierUnavailable) {
			errs = multierr.Append(errs, fmt.Errorf("%s tier: %w", tier.Kind, err))
		}
	}
	if errs != nil {
		return errs
	}
	logging.Info("Role cache cleared", "user_id", userID)
	return nil
}

// ClearAll removes every entry carrying the cache prefixes and reports how many were deleted
func (c *RoleCache) ClearAll(ctx context.Context) (int, error) {
	var (
		errs    error
		removed int
	)
	for i, tier := range c.tiers {
		prefix := string(constants.CachePrefixRoleCache)
		if tier.Kind == TierCookie {
			prefix = string(constants.CachePrefixRoleCookie)
		}

		var keys []string
		err := c.guard(i, "list", func() error {
			var err error
			keys, err = tier.Store.Keys(ctx, prefix)
			return err
		})
		if err != nil {
			if !errors.Is(err, common.ErrTierUnavailable) {
				errs = multierr.Append(errs, fmt.Errorf("%s tier: %w", tier.Kind, err))
			}
			continue
		}

		for _, key := range keys {
			key := key
			if err := c.guard(i, "clear", func() error {
				return tier.Store.Delete(ctx, key)
			}); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s tier: %w", tier.Kind, err))
				continue
			}
			removed++
		}
	}
	logging.Info("Role cache cleared for all users", "removed", removed)
	return removed, errs
}

// Preload marks role as warmed up in the persistent tiers
func (c *RoleCache) Preload(ctx context.Context, role constants.Role) {
	now := c.nowMs()
	record := entities.PreloadedRoleRecord{
		Role:        role,
		PreloadedAt: now,
		ExpiresAt:   now + c.config.Duration.Milliseconds(),
	}
	payload, err := sonic.Marshal(record)
	if err != nil {
		logging.Error("Failed to encode preload record", "role", role, "error", err)
		return
	}

	for i, tier := range c.tiers {
		if tier.Kind != TierPersistent {
			continue
		}
		if err := c.guard(i, "preload", func() error {
			return tier.Store.Set(ctx, preloadKey(role), payload, c.config.Duration)
		}); err == nil {
			c.counters[i].writes.Add(1)
		}
	}
	logging.Debug("Role preloaded", "role", role)
}

// GetPreloaded reads a preload record back from the persistent tiers,
// purging it when expired.
func (c *RoleCache) GetPreloaded(ctx context.Context, role constants.Role) (*entities.PreloadedRoleRecord, bool) {
	for i, tier := range c.tiers {
		if tier.Kind != TierPersistent {
			continue
		}
		var record *entities.PreloadedRoleRecord
		err := c.guard(i, "read_preload", func() error {
			raw, err := tier.Store.Get(ctx, preloadKey(role))
			if err != nil || raw == nil {
				return err
			}
			var r entities.PreloadedRoleRecord
			if err := sonic.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("malformed preload record: %w", err)
			}
			record = &r
			return nil
		})
		if err != nil || record == nil {
			c.miss(i)
			continue
		}
		if !record.Live(c.nowMs()) {
			c.miss(i)
			_ = c.guard(i, "purge", func() error {
				return tier.Store.Delete(ctx, preloadKey(role))
			})
			continue
		}
		c.hit(i)
		return record, true
	}
	return nil, false
}

// Stats reports per-tier counters
func (c *RoleCache) Stats() CacheStats {
	stats := CacheStats{
		Tiers:          make([]TierStats, 0, len(c.tiers)),
		DurationMs:     c.config.Duration.Milliseconds(),
		CookieLifetime: c.config.CookieLifetime.Milliseconds(),
	}
	for i, tier := range c.tiers {
		stats.Tiers = append(stats.Tiers, TierStats{
			Kind:   tier.Kind,
			Store:  tier.Store.Name(),
			Hits:   c.counters[i].hits.Load(),
			Misses: c.counters[i].misses.Load(),
			Errors: c.counters[i].errors.Load(),
			Writes: c.counters[i].writes.Load(),
		})
	}
	return stats
}

// Tiers returns the enabled tiers in read order
func (c *RoleCache) Tiers() []CacheTier {
	out := make([]CacheTier, len(c.tiers))
	copy(out, c.tiers)
	return out
}
