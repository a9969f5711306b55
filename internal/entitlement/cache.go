package entitlement

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCacheTTL bounds how long a successful credit check is reused.
const DefaultCacheTTL = 30 * time.Second

type cacheKey struct {
	token  string
	tool   string
	action string
}

type toolKey struct {
	token string
	tool  string
}

type cacheEntry struct {
	result Result
	at     time.Time
}

// Cache holds successful credit checks keyed by (token, tool, action).
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[cacheKey]cacheEntry
	// gens is bumped by InvalidateTool so a check that started earlier
	// cannot store its answer afterwards.
	gens    map[toolKey]uint64
	lookups *prometheus.CounterVec
}

// NewCache creates a cache. reg may be nil.
func NewCache(ttl time.Duration, reg prometheus.Registerer) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
		gens:    make(map[toolKey]uint64),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muatool",
			Name:      "credit_cache_total",
			Help:      "Credit cache lookups by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(c.lookups)
	}
	return c
}

// Get returns a live entry. Expired entries are dropped on read.
func (c *Cache) Get(token, tool, action string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey{token, tool, action}
	e, ok := c.entries[k]
	if ok && c.now().Sub(e.at) > c.ttl {
		delete(c.entries, k)
		ok = false
	}
	if !ok {
		c.lookups.WithLabelValues("miss").Inc()
		return Result{}, false
	}
	c.lookups.WithLabelValues("hit").Inc()
	return e.result, true
}

func (c *Cache) Set(token, tool, action string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{token, tool, action}] = cacheEntry{result: r, at: c.now()}
}

// Generation returns the invalidation counter of (token, tool). Pass it to
// SetIfCurrent once the remote answer arrives.
func (c *Cache) Generation(token, tool string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[toolKey{token, tool}]
}

// SetIfCurrent stores r unless (token, tool) was invalidated after gen was
// read. It reports whether r was stored.
func (c *Cache) SetIfCurrent(token, tool, action string, r Result, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[toolKey{token, tool}] != gen {
		return false
	}
	c.entries[cacheKey{token, tool, action}] = cacheEntry{result: r, at: c.now()}
	return true
}

// InvalidateTool drops every action cached for (token, tool) and returns how
// many entries were removed.
func (c *Cache) InvalidateTool(token, tool string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[toolKey{token, tool}]++
	n := 0
	for k := range c.entries {
		if k.token == token && k.tool == tool {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	for k := range c.gens {
		c.gens[k]++
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
