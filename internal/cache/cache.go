// Package cache holds computed predictions until they expire or the agent
// they describe receives new telemetry.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// Entry represents a cached prediction
type Entry struct {
	Key        string            `json:"key"`
	AgentID    string            `json:"agent_id"`
	Prediction models.Prediction `json:"prediction"`
	CachedAt   time.Time         `json:"cached_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Hits       int64             `json:"hits"`
}

// Config defines cache configuration
type Config struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	DefaultTTL    time.Duration `json:"default_ttl" yaml:"default_ttl"`
	MaxSize       int           `json:"max_size" yaml:"max_size"`
	CleanupPeriod time.Duration `json:"cleanup_period" yaml:"cleanup_period"`
}

// DefaultConfig returns sensible defaults for caching
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		DefaultTTL:    10 * time.Minute,
		MaxSize:       10000,
		CleanupPeriod: 5 * time.Minute,
	}
}

// Stats tracks cache performance
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
	TotalEntries  int64   `json:"total_entries"`
	HitRate       float64 `json:"hit_rate"`
}

// Cache is an in-memory TTL cache of predictions keyed by agent, task type
// and horizon.
type Cache struct {
	config  *Config
	entries map[string]*Entry
	byAgent map[string]map[string]struct{}
	gens    map[string]uint64
	stats   Stats
	now     func() time.Time
	mu      sync.Mutex
}

// New creates a cache. A nil config uses DefaultConfig.
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	return &Cache{
		config:  config,
		entries: make(map[string]*Entry),
		byAgent: make(map[string]map[string]struct{}),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Key builds the cache key for a prediction request.
func Key(agentID, taskType string, horizon time.Duration) string {
	return fmt.Sprintf("%s|%s|%d", agentID, taskType, horizon)
}

// Get returns the cached prediction if present and not expired.
func (c *Cache) Get(ctx context.Context, key string) (models.Prediction, bool) {
	if !c.config.Enabled {
		return models.Prediction{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.stats.Misses++
		return models.Prediction{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		c.remove(entry)
		c.stats.Misses++
		return models.Prediction{}, false
	}
	entry.Hits++
	c.stats.Hits++
	return entry.Prediction, true
}

// Generation returns the agent's invalidation count. Read it before computing
// a prediction and pass it to Set.
func (c *Cache) Generation(agentID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[agentID]
}

// Set stores a prediction computed at generation gen. A zero ttl uses the
// configured default. It reports false, storing nothing, when the agent was
// invalidated after gen was read.
func (c *Cache) Set(ctx context.Context, key string, p models.Prediction, ttl time.Duration, gen uint64) bool {
	if !c.config.Enabled {
		return false
	}
	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[p.AgentID] != gen {
		return false
	}

	if old, exists := c.entries[key]; exists {
		c.remove(old)
	} else if c.config.MaxSize > 0 && len(c.entries) >= c.config.MaxSize {
		c.evictOldest()
	}

	entry := &Entry{
		Key:        key,
		AgentID:    p.AgentID,
		Prediction: p,
		CachedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	c.entries[key] = entry
	keys, ok := c.byAgent[p.AgentID]
	if !ok {
		keys = make(map[string]struct{})
		c.byAgent[p.AgentID] = keys
	}
	keys[key] = struct{}{}
	return true
}

// InvalidateAgent drops every prediction for agentID and returns how many were removed.
func (c *Cache) InvalidateAgent(ctx context.Context, agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[agentID]++
	keys := c.byAgent[agentID]
	for key := range keys {
		delete(c.entries, key)
	}
	delete(c.byAgent, agentID)
	c.stats.Invalidations += int64(len(keys))
	return len(keys)
}

// GetStats returns current cache statistics
func (c *Cache) GetStats(ctx context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.TotalEntries = int64(len(c.entries))
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Run removes expired entries every CleanupPeriod until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	if !c.config.Enabled || c.config.CleanupPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired entries
func (c *Cache) cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			c.remove(entry)
			removed++
		}
	}
	return removed
}

// evictOldest removes the entry cached longest ago. Callers hold c.mu.
func (c *Cache) evictOldest() {
	var oldest *Entry
	for _, entry := range c.entries {
		if oldest == nil || entry.CachedAt.Before(oldest.CachedAt) {
			oldest = entry
		}
	}
	if oldest != nil {
		c.remove(oldest)
		c.stats.Evictions++
	}
}

func (c *Cache) remove(e *Entry) {
	delete(c.entries, e.Key)
	if keys, ok := c.byAgent[e.AgentID]; ok {
		delete(keys, e.Key)
		if len(keys) == 0 {
			delete(c.byAgent, e.AgentID)
		}
	}
}
