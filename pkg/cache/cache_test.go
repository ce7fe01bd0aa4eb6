package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCache_TTLExpiry(t *testing.T) {
	c := New(16)
	key := Key{Kind: "aggregated", Filter: "HKG", Params: "day|2025-05-01|2025-05-31"}

	c.Set(key, 42, 20*time.Millisecond)
	if v, ok := c.Get(key); !ok || v.(int) != 42 {
		t.Fatalf("Get = %v/%v, want fresh hit", v, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Error("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after expiry, want 0", c.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(3)
	for i := 0; i < 3; i++ {
		c.Set(Key{Kind: "aggregated", Filter: "*", Params: fmt.Sprintf("p%d", i)}, i, time.Minute)
	}

	// Touch p0 so p1 becomes the eviction candidate.
	c.Get(Key{Kind: "aggregated", Filter: "*", Params: "p0"})
	c.Set(Key{Kind: "aggregated", Filter: "*", Params: "p3"}, 3, time.Minute)

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3 at capacity", c.Len())
	}
	if _, ok := c.Get(Key{Kind: "aggregated", Filter: "*", Params: "p1"}); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get(Key{Kind: "aggregated", Filter: "*", Params: "p0"}); !ok {
		t.Error("recently touched entry was evicted")
	}
}

func TestCache_InvalidateScope(t *testing.T) {
	c := New(16)
	c.Set(Key{Kind: "aggregated", Filter: "HKG", Params: "a"}, 1, time.Minute)
	c.Set(Key{Kind: "aggregated", Filter: "HKG,SIN", Params: "b"}, 2, time.Minute)
	c.Set(Key{Kind: "summary", Filter: "NYC", Params: "c"}, 3, time.Minute)
	c.Set(Key{Kind: "realtime", Filter: "*", Params: "d"}, 4, time.Minute)

	c.InvalidateScope("HKG")

	if _, ok := c.Get(Key{Kind: "aggregated", Filter: "HKG", Params: "a"}); ok {
		t.Error("scope-exact entry survived invalidation")
	}
	if _, ok := c.Get(Key{Kind: "aggregated", Filter: "HKG,SIN", Params: "b"}); ok {
		t.Error("multi-scope entry mentioning the scope survived invalidation")
	}
	// Unrestricted entries may fold HKG into a global total.
	if _, ok := c.Get(Key{Kind: "realtime", Filter: "*", Params: "d"}); ok {
		t.Error("unrestricted entry survived invalidation")
	}
	if _, ok := c.Get(Key{Kind: "summary", Filter: "NYC", Params: "c"}); !ok {
		t.Error("unrelated scope entry was dropped")
	}
}

func TestCache_HitRate(t *testing.T) {
	c := New(16)
	key := Key{Kind: "summary", Filter: "*", Params: "month"}

	c.Get(key)
	c.Set(key, "x", time.Minute)
	c.Get(key)
	c.Get(key)

	hits, misses := c.HitRate()
	if hits != 2 || misses != 1 {
		t.Errorf("HitRate = %d/%d, want 2 hits, 1 miss", hits, misses)
	}
}
