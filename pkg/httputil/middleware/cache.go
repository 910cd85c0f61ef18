package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"
)

// Cache is a simple in-memory cache with expiration.
type Cache struct {
	items map[string]cacheItem
	mu    sync.RWMutex
}

type cacheItem struct {
	value      any
	expiration time.Time
}

// NewCache creates a new Cache.
func NewCache() *Cache {
	return &Cache{items: make(map[string]cacheItem)}
}

// Set adds an item to the cache with a specified expiration duration.
func (c *Cache) Set(key string, value any, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{value: value, expiration: time.Now().Add(duration)}
}

// Get retrieves an unexpired item from the cache.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found || time.Now().After(item.expiration) {
		return nil, false
	}
	return item.value, true
}

// Purge removes every item.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}

// Len returns the number of items, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired removes expired items from the cache.
func (c *Cache) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, item := range c.items {
		if now.After(item.expiration) {
			delete(c.items, key)
		}
	}
}

// StartCleanup runs CleanupExpired every interval until ctx is done.
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CleanupExpired()
			}
		}
	}()
}

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

type bufferingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bufferingWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
	b.ResponseWriter.WriteHeader(status)
}

func (b *bufferingWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}

const CacheHeader = "X-Cache"

// ResponseCache serves repeated GET requests for the same path from c for
// ttl. The query string is not part of the key, so only routes that take no
// query parameters may use it; clients append cache busters such as ?t=.
// Only 200 responses are stored. A ttl of zero disables caching.
func ResponseCache(c *Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ttl <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.Path
			if v, ok := c.Get(key); ok {
				resp := v.(cachedResponse)
				w.Header().Set("Content-Type", resp.contentType)
				w.Header().Set(CacheHeader, "HIT")
				w.WriteHeader(resp.status)
				w.Write(resp.body)
				return
			}

			w.Header().Set(CacheHeader, "MISS")
			bw := &bufferingWriter{ResponseWriter: w}
			next.ServeHTTP(bw, r)

			if bw.status == http.StatusOK {
				c.Set(key, cachedResponse{
					status:      bw.status,
					contentType: w.Header().Get("Content-Type"),
					body:        bw.buf.Bytes(),
				}, ttl)
			}
		})
	}
}

// InvalidateOnWrite purges c after every successful request that may have
// changed data.
func InvalidateOnWrite(c *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			rec := NewResponseRecorder(w)
			next.ServeHTTP(rec, r)
			if rec.StatusCode < http.StatusBadRequest {
				c.Purge()
			}
		})
	}
}
