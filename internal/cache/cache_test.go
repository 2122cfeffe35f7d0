package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jordanhubbard/loomlearn/pkg/models"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(config *Config) (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(config).WithClock(clk.now), clk
}

func prediction(agentID string, rate float64) models.Prediction {
	return models.Prediction{AgentID: agentID, ExpectedSuccessRate: rate, Horizon: time.Hour}
}

func TestCacheBasicOperations(t *testing.T) {
	c, _ := newTestCache(nil)
	ctx := context.Background()

	key := Key("agent-1", "review", time.Hour)
	c.Set(ctx, key, prediction("agent-1", 0.8), 0, 0)

	got, found := c.Get(ctx, key)
	if !found {
		t.Fatal("Expected cache hit, got miss")
	}
	if got.ExpectedSuccessRate != 0.8 {
		t.Errorf("Expected success rate 0.8, got %f", got.ExpectedSuccessRate)
	}

	stats := c.GetStats(ctx)
	if stats.Hits != 1 || stats.TotalEntries != 1 {
		t.Errorf("Expected 1 hit and 1 entry, got %+v", stats)
	}
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(nil)
	ctx := context.Background()

	if _, found := c.Get(ctx, "non-existent-key"); found {
		t.Error("Expected cache miss, got hit")
	}
	if stats := c.GetStats(ctx); stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
}

func TestCacheExpiration(t *testing.T) {
	c, clk := newTestCache(nil)
	ctx := context.Background()

	key := Key("agent-1", "", time.Hour)
	c.Set(ctx, key, prediction("agent-1", 0.5), time.Minute, 0)

	clk.advance(59 * time.Second)
	if _, found := c.Get(ctx, key); !found {
		t.Fatal("Expected hit before expiry")
	}
	clk.advance(2 * time.Second)
	if _, found := c.Get(ctx, key); found {
		t.Error("Expected miss after expiry")
	}
	if stats := c.GetStats(ctx); stats.TotalEntries != 0 {
		t.Errorf("Expected expired entry to be removed, got %d entries", stats.TotalEntries)
	}
}

func TestCacheInvalidateAgent(t *testing.T) {
	c, _ := newTestCache(nil)
	ctx := context.Background()

	c.Set(ctx, Key("a", "", time.Hour), prediction("a", 0.1), 0, 0)
	c.Set(ctx, Key("a", "review", time.Hour), prediction("a", 0.2), 0, 0)
	c.Set(ctx, Key("b", "", time.Hour), prediction("b", 0.3), 0, 0)

	if removed := c.InvalidateAgent(ctx, "a"); removed != 2 {
		t.Errorf("Expected 2 entries removed, got %d", removed)
	}
	if _, found := c.Get(ctx, Key("a", "review", time.Hour)); found {
		t.Error("Expected agent a to be invalidated")
	}
	if _, found := c.Get(ctx, Key("b", "", time.Hour)); !found {
		t.Error("Expected agent b to survive")
	}
	if removed := c.InvalidateAgent(ctx, "a"); removed != 0 {
		t.Errorf("Expected nothing left for agent a, got %d", removed)
	}
}

func TestCacheEviction(t *testing.T) {
	c, clk := newTestCache(&Config{Enabled: true, DefaultTTL: time.Hour, MaxSize: 2})
	ctx := context.Background()

	c.Set(ctx, "k1", prediction("a", 0.1), 0, 0)
	clk.advance(time.Second)
	c.Set(ctx, "k2", prediction("b", 0.2), 0, 0)
	clk.advance(time.Second)
	c.Set(ctx, "k3", prediction("c", 0.3), 0, 0)

	if _, found := c.Get(ctx, "k1"); found {
		t.Error("Expected oldest entry to be evicted")
	}
	stats := c.GetStats(ctx)
	if stats.Evictions != 1 || stats.TotalEntries != 2 {
		t.Errorf("Expected 1 eviction and 2 entries, got %+v", stats)
	}

	// overwriting an existing key never evicts
	c.Set(ctx, "k3", prediction("c", 0.4), 0, 0)
	if stats := c.GetStats(ctx); stats.Evictions != 1 {
		t.Errorf("Expected overwrite not to evict, got %d evictions", stats.Evictions)
	}
}

func TestCacheCleanup(t *testing.T) {
	c, clk := newTestCache(nil)
	ctx := context.Background()

	c.Set(ctx, "short", prediction("a", 0.1), time.Minute, 0)
	c.Set(ctx, "long", prediction("a", 0.2), time.Hour, 0)
	clk.advance(2 * time.Minute)

	if removed := c.cleanup(); removed != 1 {
		t.Errorf("Expected 1 expired entry removed, got %d", removed)
	}
	if _, found := c.Get(ctx, "long"); !found {
		t.Error("Expected unexpired entry to survive cleanup")
	}
}

func TestCacheDisabled(t *testing.T) {
	c, _ := newTestCache(&Config{Enabled: false})
	ctx := context.Background()

	c.Set(ctx, "k", prediction("a", 0.1), 0, 0)
	if _, found := c.Get(ctx, "k"); found {
		t.Error("Expected disabled cache to never hit")
	}
}

func TestCacheSetAfterInvalidateIsDropped(t *testing.T) {
	c, _ := newTestCache(nil)
	ctx := context.Background()
	key := Key("a", "", time.Hour)

	gen := c.Generation("a")
	// telemetry arrives while the prediction is being computed
	c.InvalidateAgent(ctx, "a")
	if c.Set(ctx, key, prediction("a", 0.1), 0, gen) {
		t.Error("Expected stale prediction to be rejected")
	}
	if _, found := c.Get(ctx, key); found {
		t.Error("Expected stale prediction not to be cached")
	}

	gen = c.Generation("a")
	if !c.Set(ctx, key, prediction("a", 0.2), 0, gen) {
		t.Error("Expected current prediction to be stored")
	}
	if got, found := c.Get(ctx, key); !found || got.ExpectedSuccessRate != 0.2 {
		t.Errorf("Expected cached 0.2, got %v, %v", got.ExpectedSuccessRate, found)
	}
	if c.Generation("b") != 0 {
		t.Error("Expected other agents' generations to be untouched")
	}
}
