package discovery

import (
	"context"
	"sync"
)

// Key identifies one cached document. Fingerprint is an opaque digest of
// the credential in use, so a credential rotation gets a fresh fetch.
type Key struct {
	Service     string
	Version     string
	Auth        string
	Fingerprint string
}

// String renders the composite cache key.
func (k Key) String() string {
	return k.Service + ":" + k.Version + ":" + k.Auth + ":" + k.Fingerprint
}

// Cache is a process-wide read-through cache of parsed documents. It is
// shared-read and append-only: entries are never evicted or invalidated
// within a process lifetime. Concurrent first-use may double-fetch; both
// fetches return the same document so the race is harmless and cheaper
// than holding a lock across network I/O.
type Cache struct {
	entries sync.Map // key string → *Document

	// Optional observers, used for metrics.
	OnHit  func(key Key)
	OnMiss func(key Key)
}

// NewCache creates an empty document cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached document for key, loading and storing it on first
// use.
func (c *Cache) Get(ctx context.Context, key Key, load func(ctx context.Context) (*Document, error)) (*Document, error) {
	if cached, ok := c.entries.Load(key.String()); ok {
		if c.OnHit != nil {
			c.OnHit(key)
		}
		return cached.(*Document), nil
	}
	if c.OnMiss != nil {
		c.OnMiss(key)
	}

	doc, err := load(ctx)
	if err != nil {
		return nil, err
	}
	actual, _ := c.entries.LoadOrStore(key.String(), doc)
	return actual.(*Document), nil
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
