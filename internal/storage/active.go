package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
)

// MemoryActiveIndex is the process-local ActiveIndex. Entries are lost on
// restart; the lifecycle service rebuilds them from the ride store.
type MemoryActiveIndex struct {
	mu      sync.RWMutex
	entries map[string]ActiveRide
}

func NewMemoryActiveIndex() *MemoryActiveIndex {
	return &MemoryActiveIndex{entries: make(map[string]ActiveRide)}
}

func (m *MemoryActiveIndex) Put(_ context.Context, a ActiveRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	m.entries[a.RideID] = a
	return nil
}

func (m *MemoryActiveIndex) Get(_ context.Context, rideID string) (ActiveRide, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.entries[rideID]
	return a, ok, nil
}

func (m *MemoryActiveIndex) SetLocation(_ context.Context, rideID string, p geo.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.entries[rideID]
	if !ok {
		return fmt.Errorf("active ride %s: %w", rideID, models.ErrNotFound)
	}
	a.LastLocation = p
	a.UpdatedAt = time.Now().UTC()
	m.entries[rideID] = a
	return nil
}

func (m *MemoryActiveIndex) Delete(_ context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, rideID)
	return nil
}

func (m *MemoryActiveIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RedisActiveIndex stores one hash per active ride so every API replica sees
// the same entries. Keys expire after ttl in case a terminal transition never
// cleans them up.
type RedisActiveIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisActiveIndex(client *redis.Client, prefix string, ttl time.Duration) *RedisActiveIndex {
	if prefix == "" {
		prefix = "ride:active:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisActiveIndex{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisActiveIndex) key(rideID string) string { return r.prefix + rideID }

func (r *RedisActiveIndex) Put(ctx context.Context, a ActiveRide) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	k := r.key(a.RideID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		"rideId":    a.RideID,
		"riderId":   a.RiderID,
		"driverId":  a.DriverID,
		"lon":       strconv.FormatFloat(a.LastLocation.Lon, 'f', -1, 64),
		"lat":       strconv.FormatFloat(a.LastLocation.Lat, 'f', -1, 64),
		"updatedAt": a.UpdatedAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, k, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisActiveIndex) Get(ctx context.Context, rideID string) (ActiveRide, bool, error) {
	m, err := r.client.HGetAll(ctx, r.key(rideID)).Result()
	if err != nil {
		return ActiveRide{}, false, err
	}
	if len(m) == 0 {
		return ActiveRide{}, false, nil
	}
	a := ActiveRide{RideID: m["rideId"], RiderID: m["riderId"], DriverID: m["driverId"]}
	if a.LastLocation.Lon, err = strconv.ParseFloat(m["lon"], 64); err != nil {
		return ActiveRide{}, false, fmt.Errorf("active ride %s lon: %w", rideID, err)
	}
	if a.LastLocation.Lat, err = strconv.ParseFloat(m["lat"], 64); err != nil {
		return ActiveRide{}, false, fmt.Errorf("active ride %s lat: %w", rideID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, m["updatedAt"]); err == nil {
		a.UpdatedAt = t
	}
	return a, true, nil
}

func (r *RedisActiveIndex) SetLocation(ctx context.Context, rideID string, p geo.Point) error {
	k := r.key(rideID)
	n, err := r.client.Exists(ctx, k).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("active ride %s: %w", rideID, models.ErrNotFound)
	}
	return r.client.HSet(ctx, k, map[string]interface{}{
		"lon":       strconv.FormatFloat(p.Lon, 'f', -1, 64),
		"lat":       strconv.FormatFloat(p.Lat, 'f', -1, 64),
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisActiveIndex) Delete(ctx context.Context, rideID string) error {
	return r.client.Del(ctx, r.key(rideID)).Err()
}
