package credentials

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
)

// CacheKey — (environment, audience) плюс идентичность, которой выдан токен:
// токен одного service principal не должен отдаваться другому.
type CacheKey struct {
	Environment domain.Environment
	Audience    string
	Identity    string // auth mode + client id
}

func (k CacheKey) String() string {
	return string(k.Environment) + "|" + k.Audience + "|" + k.Identity
}

// TokenCache — in-process кэш токенов. Читатели не берут блокировку:
// карта неизменяема, запись строит новую и атомарно подменяет указатель.
type TokenCache struct {
	mu      sync.Mutex // Только для писателей
	entries atomic.Pointer[map[CacheKey]domain.Credential]
}

func NewTokenCache() *TokenCache {
	c := &TokenCache{}
	empty := make(map[CacheKey]domain.Credential)
	c.entries.Store(&empty)
	return c
}

// Get возвращает токен, если он еще жив с учетом skew.
func (c *TokenCache) Get(key CacheKey, now time.Time, skew time.Duration) (domain.Credential, bool) {
	cred, ok := (*c.entries.Load())[key]
	if !ok || cred.Expired(now, skew) {
		return domain.Credential{}, false
	}
	return cred, true
}

// Put кладет токен, попутно вычищая протухшие записи.
func (c *TokenCache) Put(key CacheKey, cred domain.Credential, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.entries.Load()
	next := make(map[CacheKey]domain.Credential, len(old)+1)
	for k, v := range old {
		if v.Expired(now, 0) {
			continue
		}
		next[k] = v
	}
	next[key] = cred
	c.entries.Store(&next)
}

// Len — количество записей (включая еще не вычищенные протухшие).
func (c *TokenCache) Len() int {
	return len(*c.entries.Load())
}

// Purge сбрасывает кэш (смена облака при перезагрузке конфигурации).
func (c *TokenCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	empty := make(map[CacheKey]domain.Credential)
	c.entries.Store(&empty)
}
