package resolver

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/metrics"
	"go.uber.org/zap"
)

type membershipEntry struct {
	groups    []domain.Group
	expiresAt time.Time
}

// CachedMembership — MembershipProvider с коротким TTL: изменения членства
// должны вступать в силу быстро. Запись строит новую карту и подменяет ее целиком,
// читатель в полете продолжает видеть свой снимок. Ошибки провайдера не кэшируются.
type CachedMembership struct {
	mu      sync.RWMutex
	entries map[string]membershipEntry // user_id -> группы
	gen     uint64                     // Растет при каждой инвалидации

	next    MembershipProvider
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewCachedMembership(next MembershipProvider, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *CachedMembership {
	if m == nil {
		m = metrics.New(nil)
	}
	return &CachedMembership{
		entries: make(map[string]membershipEntry),
		next:    next,
		ttl:     ttl,
		metrics: m,
		logger:  logger.Named("membership-cache"),
		now:     time.Now,
	}
}

func (c *CachedMembership) UserGroups(ctx context.Context, userID string) ([]domain.Group, error) {
	if c.ttl <= 0 {
		return c.next.UserGroups(ctx, userID)
	}

	c.mu.RLock()
	entries, gen := c.entries, c.gen
	c.mu.RUnlock()

	if e, ok := entries[userID]; ok && c.now().Before(e.expiresAt) {
		c.metrics.MembershipCache.WithLabelValues("hit").Inc()
		return slices.Clone(e.groups), nil
	}
	c.metrics.MembershipCache.WithLabelValues("miss").Inc()

	groups, err := c.next.UserGroups(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	c.swap(func(old map[string]membershipEntry) map[string]membershipEntry {
		// Инвалидация пришла, пока мы ходили к провайдеру: ответ мог устареть, не кэшируем
		if c.gen != gen {
			return old
		}
		next := make(map[string]membershipEntry, len(old)+1)
		for k, v := range old {
			if now.Before(v.expiresAt) {
				next[k] = v
			}
		}
		next[userID] = membershipEntry{groups: slices.Clone(groups), expiresAt: now.Add(c.ttl)}
		return next
	})
	return groups, nil
}

// Invalidate сбрасывает членство одного пользователя.
func (c *CachedMembership) Invalidate(userID string) {
	c.swap(func(old map[string]membershipEntry) map[string]membershipEntry {
		c.gen++
		if _, ok := old[userID]; !ok {
			return old
		}
		next := make(map[string]membershipEntry, len(old))
		for k, v := range old {
			if k != userID {
				next[k] = v
			}
		}
		return next
	})
	c.logger.Debug("membership invalidated", zap.String("user_id", userID))
}

// InvalidateAll — полный сброс (переподключение к шине инвалидаций, "*" в канале).
func (c *CachedMembership) InvalidateAll() {
	c.swap(func(map[string]membershipEntry) map[string]membershipEntry {
		c.gen++
		return make(map[string]membershipEntry)
	})
	c.logger.Info("membership cache flushed")
}

func (c *CachedMembership) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *CachedMembership) swap(build func(old map[string]membershipEntry) map[string]membershipEntry) {
	c.mu.Lock()
	c.entries = build(c.entries)
	c.mu.Unlock()
}
