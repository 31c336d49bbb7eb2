package api

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/config"
	"cryptorafts/platform/internal/db/repositories"
	"cryptorafts/platform/internal/metrics"
	"cryptorafts/platform/internal/services"
)

// Infra holds the connections the dependencies are built on. Redis and Hub may be nil.
type Infra struct {
	ORM   *gorm.DB
	SQL   *sqlx.DB
	Redis *redis.Client
	Hub   common.ChangeHub
	Tasks services.TaskRunner
}

type Repositories struct {
	Docs  *repositories.DocumentRepository
	Users *repositories.UserRepository
}

type Services struct {
	RoleCache     *services.RoleCache
	Roles         *services.RoleSwitcher
	Users         *services.UserService
	Calls         *services.CallSignaling
	Notifications *services.NotificationService
}

type Dependencies struct {
	Config   *config.Config
	Metrics  *metrics.MetricsRegistry
	Repo     *Repositories
	Services *Services
	SQL      *sqlx.DB
	Redis    *redis.Client
}

// RoleCacheTiers builds the ranked tier list: memory, redis when available,
// fastcache session and cookies.
func RoleCacheTiers(cfg *config.Config, redisClient *redis.Client) []services.CacheTier {
	tiers := []services.CacheTier{
		{Kind: services.TierMemory, Store: common.NewMemoryTierStore(cfg.RoleCacheDuration)},
	}
	if redisClient != nil {
		tiers = append(tiers, services.CacheTier{Kind: services.TierPersistent, Store: common.NewRedisTierStore(redisClient)})
	}
	return append(tiers,
		services.CacheTier{Kind: services.TierSession, Store: common.NewSessionTierStore(cfg.RoleCacheSessionBytes)},
		services.CacheTier{Kind: services.TierCookie, Store: common.NewCookieTierStore(cfg.IsProduction())},
	)
}

func InitDependencies(cfg *config.Config, infra Infra, m *metrics.MetricsRegistry) (*Dependencies, error) {
	if infra.ORM == nil {
		return nil, errors.New("document store database is required")
	}

	docs := repositories.NewDocumentRepository(infra.ORM, infra.Hub)
	repos := &Repositories{
		Docs:  docs,
		Users: repositories.NewUserRepository(docs),
	}

	userSvc := services.NewUserService(repos.Users)
	roleCache := services.NewRoleCache(cfg.RoleCacheConfig(), RoleCacheTiers(cfg, infra.Redis), services.WithCacheMetrics(m))
	notificationSvc := services.NewNotificationService(docs)
	notified := common.NewDedupStore(cfg.CallNotifiedTTL)

	svcs := &Services{
		RoleCache:     roleCache,
		Roles:         services.NewRoleSwitcher(roleCache, userSvc, infra.Tasks, m),
		Users:         userSvc,
		Calls:         services.NewCallSignaling(docs, userSvc, notificationSvc, infra.Tasks, notified, cfg.SignalingConfig(), m),
		Notifications: notificationSvc,
	}

	return &Dependencies{
		Config:   cfg,
		Metrics:  m,
		Repo:     repos,
		Services: svcs,
		SQL:      infra.SQL,
		Redis:    infra.Redis,
	}, nil
}
