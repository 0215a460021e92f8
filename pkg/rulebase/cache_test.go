package rulebase

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubFactory is a minimal session factory for cache and artifact tests.
type stubFactory struct{}

func (stubFactory) NewSession(context.Context) (Session, error) { return nil, nil }

func newTestRuleBase(hash string) *RuleBase {
	return New(hash, FingerprintSet{}, stubFactory{}, 1)
}

func TestCache_RoundTrip(t *testing.T) {
	cache := NewCache(4)
	rb := newTestRuleBase("abc")

	cache.Put("abc", rb)

	got, ok := cache.Get("abc")
	if !ok {
		t.Fatal("Get() after Put() returned miss")
	}
	if got != rb {
		t.Errorf("Get() = %p, want %p", got, rb)
	}

	if cache.Hits() != 1 {
		t.Errorf("Hits() = %d, want 1", cache.Hits())
	}
	if cache.Misses() != 0 {
		t.Errorf("Misses() = %d, want 0", cache.Misses())
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewCache(4)

	if _, ok := cache.Get("absent"); ok {
		t.Error("Get() on empty cache returned hit")
	}

	if cache.Misses() != 1 {
		t.Errorf("Misses() = %d, want 1", cache.Misses())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	cache := NewCache(2)

	cache.Put("a", newTestRuleBase("a"))
	cache.Put("b", newTestRuleBase("b"))

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("Get(a) miss")
	}

	cache.Put("c", newTestRuleBase("c"))

	if _, ok := cache.Get("b"); ok {
		t.Error("Get(b) hit, want evicted")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Error("Get(a) miss, want retained")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("Get(c) miss, want retained")
	}

	if cache.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", cache.Evictions())
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}

func TestCache_PutExistingKeyReplaces(t *testing.T) {
	cache := NewCache(2)
	first := newTestRuleBase("k")
	second := newTestRuleBase("k")

	cache.Put("k", first)
	cache.Put("k", second)

	got, ok := cache.Get("k")
	if !ok {
		t.Fatal("Get(k) miss")
	}
	if got != second {
		t.Error("Get(k) returned first artifact, want last-write-wins")
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

func TestCache_EvictionCallback(t *testing.T) {
	cache := NewCache(1)

	var evicted []string
	cache.SetEvictionCallback(func(key string) { evicted = append(evicted, key) })

	cache.Put("a", newTestRuleBase("a"))
	cache.Put("b", newTestRuleBase("b"))

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Errorf("evicted = %v, want [a]", evicted)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache(16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%20)
				cache.Put(key, newTestRuleBase(key))
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() > 16 {
		t.Errorf("Len() = %d, want <= capacity 16", cache.Len())
	}
}
