package config

import (
	"cryptorafts/platform/internal/services"
	"cryptorafts/platform/internal/workers"
)

// RoleCacheConfig maps the ROLE_CACHE_* keys onto the role cache settings.
func (c *Config) RoleCacheConfig() services.RoleCacheConfig {
	return services.RoleCacheConfig{
		EnableMemory:   c.RoleCacheMemoryEnabled,
		EnableLocal:    c.RoleCacheLocalEnabled,
		EnableSession:  c.RoleCacheSessionEnabled,
		EnableCookies:  c.RoleCacheCookiesEnabled,
		Duration:       c.RoleCacheDuration,
		CookieLifetime: c.RoleCacheCookieLifetime,
		CookieSecret:   []byte(c.JWTSecret),
	}
}

// SignalingConfig maps the CALL_* keys onto the call signaling settings.
func (c *Config) SignalingConfig() services.SignalingConfig {
	return services.SignalingConfig{
		CleanupGrace:       c.CallCleanupGrace,
		SystemMessageDelay: c.CallSystemMessageDelay,
		NotifiedTTL:        c.CallNotifiedTTL,
		InvalidLogTTL:      c.CallInvalidLogTTL,
	}
}

func (c *Config) ExecutorConfig() workers.ExecutorConfig {
	return workers.ExecutorConfig{
		Workers:   c.TaskWorkers,
		QueueSize: c.TaskQueueSize,
	}
}
