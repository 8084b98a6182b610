package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetMiss", testGetMiss},
		{"GetExpired", testGetExpired},
		{"EvictsLeastRecentlyUsed", testEvictsLeastRecentlyUsed},
		{"SetUpdatesExisting", testSetUpdatesExisting},
		{"ConcurrentAccess", testConcurrentAccess},
		{"LenReflectsEntryCount", testLenReflectsEntryCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testSetAndGet(t *testing.T) {
	c := New(10, 5*time.Second)
	c.Set("/v2/policies/1", []byte(`{"metadata":{}}`), "application/json")

	body, contentType, ok := c.Get("/v2/policies/1")
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if string(body) != `{"metadata":{}}` {
		t.Fatalf("unexpected body %q", string(body))
	}
	if contentType != "application/json" {
		t.Fatalf("expected content type to round-trip, got %q", contentType)
	}
}

func testGetMiss(t *testing.T) {
	c := New(10, 5*time.Second)

	body, _, ok := c.Get("/v2/policies/99")
	if ok {
		t.Fatal("expected cache miss, got hit")
	}
	if body != nil {
		t.Fatalf("expected nil body on miss, got %q", string(body))
	}
}

func testGetExpired(t *testing.T) {
	c := New(10, 50*time.Millisecond)
	c.Set("/v2/policies/1", []byte("x"), "")

	if _, _, ok := c.Get("/v2/policies/1"); !ok {
		t.Fatal("expected cache hit before expiry")
	}

	time.Sleep(100 * time.Millisecond)

	if _, _, ok := c.Get("/v2/policies/1"); ok {
		t.Fatal("expected cache miss after expiry, got hit")
	}

	// The expired entry is dropped on the failed Get.
	if c.Len() != 0 {
		t.Fatalf("expected len 0 after expired get, got %d", c.Len())
	}
}

func testEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(3, 5*time.Second)

	c.Set("a", []byte("1"), "")
	time.Sleep(time.Millisecond) // Ensure distinct timestamps.
	c.Set("b", []byte("2"), "")
	time.Sleep(time.Millisecond)
	c.Set("c", []byte("3"), "")
	time.Sleep(time.Millisecond)

	// Touch "a" so "b" becomes the least recently used entry.
	if _, _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit on 'a'")
	}
	time.Sleep(time.Millisecond)

	c.Set("d", []byte("4"), "")

	if c.Len() != 3 {
		t.Fatalf("expected len 3 after eviction, got %d", c.Len())
	}
	if _, _, ok := c.Get("b"); ok {
		t.Fatal("expected 'b' to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, _, ok := c.Get(key); !ok {
			t.Fatalf("expected %q to still be cached", key)
		}
	}
}

func testSetUpdatesExisting(t *testing.T) {
	c := New(10, 5*time.Second)
	c.Set("k", []byte("old"), "text/plain")
	c.Set("k", []byte("new"), "application/json")

	body, contentType, ok := c.Get("k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(body) != "new" || contentType != "application/json" {
		t.Fatalf("expected updated entry, got %q (%s)", string(body), contentType)
	}

	if c.Len() != 1 {
		t.Fatalf("expected len 1 after update, got %d", c.Len())
	}
}

func testConcurrentAccess(t *testing.T) {
	c := New(100, 5*time.Second)

	var wg sync.WaitGroup
	goroutines := 50
	ops := 100

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				key := fmt.Sprintf("/v2/policies/%d-%d", id, j)
				c.Set(key, []byte(fmt.Sprintf("body-%d-%d", id, j)), "application/json")
				c.Get(key)
			}
		}(i)
	}

	wg.Wait()

	// No data races and the capacity held is the success condition.
	if c.Len() > 100 {
		t.Fatalf("expected len <= 100, got %d", c.Len())
	}
}

func testLenReflectsEntryCount(t *testing.T) {
	c := New(10, 5*time.Second)

	if c.Len() != 0 {
		t.Fatalf("expected initial len 0, got %d", c.Len())
	}

	c.Set("a", []byte("1"), "")
	c.Set("b", []byte("2"), "")

	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}
