package geo

import (
	"encoding/json"
	"fmt"
	"math"
)

// EarthRadiusKm is the mean earth radius used by every distance helper here.
const EarthRadiusKm = 6371.0

// DefaultSpeedKmh is the average city speed assumed by ETA.
const DefaultSpeedKmh = 30.0

// Point is a WGS84 position. On the wire it is the GeoJSON-style pair
// [lon, lat].
type Point struct {
	Lon float64
	Lat float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lon, p.Lat})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("coordinates must be [lon, lat]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinates must have exactly 2 values, got %d", len(pair))
	}
	p.Lon, p.Lat = pair[0], pair[1]
	return nil
}

// Valid reports whether the point lies inside the lon/lat domain.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) {
		return false
	}
	return p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lon, p.Lat)
}

// Distance is the haversine great-circle distance in kilometres.
func Distance(p1, p2 Point) float64 {
	dLat := toRad(p2.Lat - p1.Lat)
	dLon := toRad(p2.Lon - p1.Lon)
	lat1 := toRad(p1.Lat)
	lat2 := toRad(p2.Lat)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Bearing returns the initial compass bearing from p1 to p2 in [0, 360).
func Bearing(p1, p2 Point) float64 {
	lon1, lat1 := toRad(p1.Lon), toRad(p1.Lat)
	lon2, lat2 := toRad(p2.Lon), toRad(p2.Lat)

	y := math.Sin(lon2-lon1) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	b := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if b >= 360 {
		b = 0
	}
	return b
}

// ETA returns whole minutes needed to cover distanceKm at avgSpeedKmh.
func ETA(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultSpeedKmh
	}
	return int(math.Round(distanceKm / avgSpeedKmh * 60))
}

func IsWithinRadius(center, p Point, radiusKm float64) bool {
	return Distance(center, p) <= radiusKm
}

// Box is an axis-aligned lat/lon rectangle.
type Box struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Contains reports whether p lies in the box. A longitude range reaching past
// ±180 wraps across the antimeridian.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MaxLon-b.MinLon >= 360 {
		return true
	}
	lon := p.Lon
	switch {
	case lon < b.MinLon:
		lon += 360
	case lon > b.MaxLon:
		lon -= 360
	}
	return lon >= b.MinLon && lon <= b.MaxLon
}

// BoundingBox returns a box enclosing the circle of radiusKm around center.
// The longitude span is divided by cos(lat) and blows up near the poles.
func BoundingBox(center Point, radiusKm float64) Box {
	latChange := radiusKm / EarthRadiusKm * (180 / math.Pi)
	lonChange := latChange / math.Cos(toRad(center.Lat))
	return Box{
		MinLat: center.Lat - latChange,
		MaxLat: center.Lat + latChange,
		MinLon: center.Lon - lonChange,
		MaxLon: center.Lon + lonChange,
	}
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
