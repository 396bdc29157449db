package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestKey_String(t *testing.T) {
	k := Key{Service: "ordersvc", Version: "v2", Auth: "user", Fingerprint: "abc123"}
	want := "ordersvc:v2:user:abc123"
	if got := k.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCache_Get_loadsOnce(t *testing.T) {
	c := NewCache()
	loads := 0
	load := func(ctx context.Context) (*Document, error) {
		loads++
		return &Document{Name: "ordersvc", Version: "v2"}, nil
	}

	key := Key{Service: "ordersvc", Version: "v2"}
	for i := 0; i < 3; i++ {
		doc, err := c.Get(context.Background(), key, load)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if doc.Name != "ordersvc" {
			t.Errorf("Name = %q, want ordersvc", doc.Name)
		}
	}
	if loads != 1 {
		t.Errorf("loaded %d times, want 1", loads)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCache_Get_distinctKeys(t *testing.T) {
	c := NewCache()
	load := func(ctx context.Context) (*Document, error) {
		return &Document{Name: "svc", Version: "v1"}, nil
	}

	c.Get(context.Background(), Key{Service: "svc", Version: "v1", Auth: "user"}, load)
	c.Get(context.Background(), Key{Service: "svc", Version: "v1", Auth: "service"}, load)
	c.Get(context.Background(), Key{Service: "svc", Version: "v1", Auth: "user", Fingerprint: "rotated"}, load)

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3 distinct entries", c.Len())
	}
}

func TestCache_Get_failureNotCached(t *testing.T) {
	c := NewCache()
	boom := errors.New("fetch failed")
	calls := 0

	key := Key{Service: "svc", Version: "v1"}
	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), key, func(ctx context.Context) (*Document, error) {
			calls++
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Get() error = %v, want %v", err, boom)
		}
	}
	if calls != 2 {
		t.Errorf("load attempted %d times, want 2; failures must not be cached", calls)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCache_Get_hitMissCallbacks(t *testing.T) {
	c := NewCache()
	var hits, misses int
	c.OnHit = func(Key) { hits++ }
	c.OnMiss = func(Key) { misses++ }

	key := Key{Service: "svc", Version: "v1"}
	load := func(ctx context.Context) (*Document, error) {
		return &Document{Name: "svc", Version: "v1"}, nil
	}
	c.Get(context.Background(), key, load)
	c.Get(context.Background(), key, load)

	if misses != 1 || hits != 1 {
		t.Errorf("hits = %d, misses = %d, want 1 and 1", hits, misses)
	}
}

func TestCache_Get_concurrent(t *testing.T) {
	c := NewCache()
	var loads atomic.Int32
	load := func(ctx context.Context) (*Document, error) {
		loads.Add(1)
		return &Document{Name: "svc", Version: "v1"}, nil
	}

	key := Key{Service: "svc", Version: "v1"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), key, load); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Concurrent misses may double-fetch; the cache still holds one entry.
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if loads.Load() < 1 {
		t.Error("load never ran")
	}
}
