package geo

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Locator using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	if key == "" {
		key = "drivers_geo"
	}
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, id string, p Point) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lon, Latitude: p.Lat, Name: id}).Err()
}

// Remove drops the member; GEO sets are sorted sets underneath.
func (r *RedisGeo) Remove(ctx context.Context, id string) error {
	return r.client.ZRem(ctx, r.key, id).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, p Point, radiusMeters float64, limit int) ([]Hit, error) {
	q := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lon,
			Latitude:   p.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}
	if limit > 0 {
		q.Count = limit
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, q).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		out = append(out, Hit{
			ID:             g.Name,
			Point:          Point{Lon: g.Longitude, Lat: g.Latitude},
			DistanceMeters: g.Dist,
		})
	}
	return out, nil
}
