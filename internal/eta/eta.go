package eta

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/ride-companion/internal/geo"
)

// Client is a routing backend that returns driving time in seconds.
type Client interface {
	EstimateSeconds(ctx context.Context, from, to geo.Point) (float64, error)
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b geo.Point) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", a.Lon, a.Lat, b.Lon, b.Lat)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b geo.Point) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b geo.Point, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Estimator answers "how many minutes from a to b". It asks the routing
// client when one is configured and falls back to straight-line distance at
// the average city speed.
type Estimator struct {
	client   Client
	cache    *Cache
	speedKmh float64
	logger   *slog.Logger
}

func NewEstimator(client Client, cache *Cache, speedKmh float64, logger *slog.Logger) *Estimator {
	if speedKmh <= 0 {
		speedKmh = geo.DefaultSpeedKmh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{client: client, cache: cache, speedKmh: speedKmh, logger: logger}
}

// Minutes never fails; routing errors degrade to the haversine estimate.
func (e *Estimator) Minutes(ctx context.Context, from, to geo.Point) int {
	if e.client == nil {
		return e.fallback(from, to)
	}
	if e.cache != nil {
		if secs, ok := e.cache.Get(from, to); ok {
			return int(math.Round(secs / 60))
		}
	}
	secs, err := e.client.EstimateSeconds(ctx, from, to)
	if err != nil {
		e.logger.Warn("routing eta failed, using haversine", "err", err)
		return e.fallback(from, to)
	}
	if e.cache != nil {
		e.cache.Set(from, to, secs)
	}
	return int(math.Round(secs / 60))
}

func (e *Estimator) fallback(from, to geo.Point) int {
	return geo.ETA(geo.Distance(from, to), e.speedKmh)
}
