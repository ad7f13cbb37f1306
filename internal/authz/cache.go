package authz

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// CacheKey identifies one cached decision.
type CacheKey struct {
	PrincipalID    string
	Action         Action
	TargetTenantID string
}

// String renders the stable key form shared by every cache backend.
func (k CacheKey) String() string {
	tenant := k.TargetTenantID
	if tenant == "" {
		tenant = "no-tenant"
	}
	return fmt.Sprintf("%s:%s:%s", k.PrincipalID, k.Action, tenant)
}

// Generation is an opaque invalidation token. Get hands it out on every read
// and Set must pass it back; a Set racing an Invalidate therefore lands under
// a dead generation and is never observed by later reads.
type Generation struct {
	global    uint64
	principal uint64
}

// CacheStats describes the cache contents.
type CacheStats struct {
	Size    int `json:"size"`
	Expired int `json:"expiredCount"`
}

// DecisionCache stores computed authorization results with a TTL. The engine
// is the only writer. Implementations must be safe for concurrent use.
type DecisionCache interface {
	Get(ctx context.Context, key CacheKey) (Result, Generation, bool)
	Set(ctx context.Context, key CacheKey, res Result, ttl time.Duration, gen Generation)
	Invalidate(ctx context.Context, principalID string) error
	Stats(ctx context.Context) (CacheStats, error)
}

// DefaultCacheMaxEntries bounds the memory cache when no explicit limit is
// configured.
const DefaultCacheMaxEntries = 16384

type memoryEntry struct {
	key         string
	principalID string
	result      Result
	expiresAt   time.Time
}

// MemoryCache is the default single-process DecisionCache: a mutex-protected
// map with an LRU bound so long-running processes cannot grow without limit.
type MemoryCache struct {
	maxEntries int
	clock      func() time.Time

	mu        sync.Mutex
	entries   map[string]*list.Element
	order     *list.List // front = most recently used
	gens      map[string]uint64
	globalGen uint64
}

// NewMemoryCache constructs a bounded in-memory cache. maxEntries <= 0 uses
// DefaultCacheMaxEntries.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		clock:      time.Now,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		gens:       make(map[string]uint64),
	}
}

func (c *MemoryCache) internalKey(gen Generation, key CacheKey) string {
	return fmt.Sprintf("%d.%d|%s", gen.global, gen.principal, key.String())
}

// Get returns a live cached result along with the current invalidation token
// for the key's principal. Expired entries are purged on read.
func (c *MemoryCache) Get(_ context.Context, key CacheKey) (Result, Generation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := Generation{global: c.globalGen, principal: c.gens[key.PrincipalID]}
	el, ok := c.entries[c.internalKey(gen, key)]
	if !ok {
		return Result{}, gen, false
	}
	entry := el.Value.(*memoryEntry)
	if !c.clock().Before(entry.expiresAt) {
		c.removeLocked(el)
		return Result{}, gen, false
	}
	c.order.MoveToFront(el)
	return entry.result, gen, true
}

// Set stores a result under the generation observed at read time. Writes
// carrying a stale generation are dropped: an invalidation that happened in
// between must not be undone.
func (c *MemoryCache) Set(_ context.Context, key CacheKey, res Result, ttl time.Duration, gen Generation) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen.global != c.globalGen || gen.principal != c.gens[key.PrincipalID] {
		return
	}
	ik := c.internalKey(gen, key)
	entry := &memoryEntry{
		key:         ik,
		principalID: key.PrincipalID,
		result:      res,
		expiresAt:   c.clock().Add(ttl),
	}
	if el, ok := c.entries[ik]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}
	c.entries[ik] = c.order.PushFront(entry)
	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

// Invalidate drops every entry for the given principal, or the whole cache
// when principalID is empty. The effect is visible to all reads that start
// after Invalidate returns.
func (c *MemoryCache) Invalidate(_ context.Context, principalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if principalID == "" {
		c.globalGen++
		c.entries = make(map[string]*list.Element)
		c.order.Init()
		c.gens = make(map[string]uint64)
		return nil
	}
	c.gens[principalID]++
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*memoryEntry).principalID == principalID {
			c.removeLocked(el)
		}
		el = next
	}
	return nil
}

// Stats purges expired entries and reports the cache size plus how many
// entries the purge removed.
func (c *MemoryCache) Stats(_ context.Context) (CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	expired := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*memoryEntry).expiresAt) {
			c.removeLocked(el)
			expired++
		}
		el = next
	}
	return CacheStats{Size: len(c.entries), Expired: expired}, nil
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	c.order.Remove(el)
	delete(c.entries, entry.key)
}
