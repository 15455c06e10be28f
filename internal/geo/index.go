package geo

import (
	"context"
	"sort"
	"sync"
)

// Hit is a locator result: a member id and its distance from the query point.
type Hit struct {
	ID             string
	Point          Point
	DistanceMeters float64
}

// Locator is the minimal geospatial index the driver directory needs.
// Nearby returns hits nearest first, no further than radiusMeters.
type Locator interface {
	Upsert(ctx context.Context, id string, p Point) error
	Remove(ctx context.Context, id string) error
	Nearby(ctx context.Context, p Point, radiusMeters float64, limit int) ([]Hit, error)
}

// Index is an in-process Locator used when Redis is not configured.
type Index struct {
	mu      sync.RWMutex
	members map[string]Point
}

func NewIndex() *Index {
	return &Index{members: make(map[string]Point)}
}

func (g *Index) Upsert(_ context.Context, id string, p Point) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[id] = p
	return nil
}

func (g *Index) Remove(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, id)
	return nil
}

// Nearby prefilters with a bounding box, then checks the exact radius.
// A limit <= 0 returns every member in range.
func (g *Index) Nearby(_ context.Context, p Point, radiusMeters float64, limit int) ([]Hit, error) {
	radiusKm := radiusMeters / 1000
	box := BoundingBox(p, radiusKm)

	g.mu.RLock()
	hits := make([]Hit, 0, len(g.members))
	for id, at := range g.members {
		if !box.Contains(at) || !IsWithinRadius(p, at, radiusKm) {
			continue
		}
		hits = append(hits, Hit{ID: id, Point: at, DistanceMeters: Distance(p, at) * 1000})
	}
	g.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters == hits[j].DistanceMeters {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].DistanceMeters < hits[j].DistanceMeters
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
