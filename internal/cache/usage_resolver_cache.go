package cache

import (
	"strings"
	"time"

	catalogdomain "github.com/smallbiznis/gatemeter/internal/catalog/domain"
	consumerdomain "github.com/smallbiznis/gatemeter/internal/consumer/domain"
)

const (
	defaultEntityTTL   = 10 * time.Minute
	defaultConsumerTTL = 45 * time.Second
)

// UsageResolverCache stores hot-path resolver lookups for usage ingest.
// Only positive results are cached; a miss always goes back to the
// database so freshly synced entities resolve promptly.
type UsageResolverCache interface {
	GetEntity(tenantID string, kind catalogdomain.EntityKind, remoteID string) (*catalogdomain.CatalogEntityMap, bool)
	SetEntity(tenantID string, entity *catalogdomain.CatalogEntityMap)
	GetConsumer(tenantID, remoteConsumerID string) (*consumerdomain.ConsumerAccount, bool)
	SetConsumer(tenantID string, account *consumerdomain.ConsumerAccount)
	InvalidateConsumer(tenantID, remoteConsumerID string)
}

type usageResolverCache struct {
	entities    Cache[string, *catalogdomain.CatalogEntityMap]
	consumers   Cache[string, *consumerdomain.ConsumerAccount]
	entityTTL   time.Duration
	consumerTTL time.Duration
}

// NewUsageResolverCache returns an in-memory cache tuned for usage ingest.
func NewUsageResolverCache() UsageResolverCache {
	return &usageResolverCache{
		entities:    NewTTLCache[string, *catalogdomain.CatalogEntityMap](),
		consumers:   NewTTLCache[string, *consumerdomain.ConsumerAccount](),
		entityTTL:   defaultEntityTTL,
		consumerTTL: defaultConsumerTTL,
	}
}

func (c *usageResolverCache) GetEntity(tenantID string, kind catalogdomain.EntityKind, remoteID string) (*catalogdomain.CatalogEntityMap, bool) {
	return c.entities.Get(cacheKey(tenantID, string(kind), remoteID))
}

func (c *usageResolverCache) SetEntity(tenantID string, entity *catalogdomain.CatalogEntityMap) {
	if entity == nil {
		return
	}
	c.entities.Set(cacheKey(tenantID, string(entity.Kind), entity.RemoteID), entity, c.entityTTL)
}

func (c *usageResolverCache) GetConsumer(tenantID, remoteConsumerID string) (*consumerdomain.ConsumerAccount, bool) {
	return c.consumers.Get(cacheKey(tenantID, remoteConsumerID))
}

func (c *usageResolverCache) SetConsumer(tenantID string, account *consumerdomain.ConsumerAccount) {
	if account == nil || account.ID == 0 {
		return
	}
	c.consumers.Set(cacheKey(tenantID, account.RemoteConsumerID), account, c.consumerTTL)
}

func (c *usageResolverCache) InvalidateConsumer(tenantID, remoteConsumerID string) {
	c.consumers.Delete(cacheKey(tenantID, remoteConsumerID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
