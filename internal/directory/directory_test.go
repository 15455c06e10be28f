package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/storage"
)

func newTestDirectory(t *testing.T) (*Directory, *storage.MemoryStore, *geo.Index) {
	t.Helper()
	store := storage.NewMemoryStore()
	idx := geo.NewIndex()
	return New(store, idx, nil, 0), store, idx
}

func register(t *testing.T, d *Directory, id string, p geo.Point, online bool) {
	t.Helper()
	drv := models.NewDriver(id, "user-"+id, models.Vehicle{Type: models.ClassSedan, Model: "Swift", Number: "DL1"}, p)
	if err := d.Register(context.Background(), drv); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if online {
		if err := d.UpdateStatus(context.Background(), id, models.DriverAvailable); err != nil {
			t.Fatalf("online %s: %v", id, err)
		}
	}
}

func TestFindNearbyDriversOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)
	origin := geo.Point{Lon: 77.2090, Lat: 28.6139}

	register(t, d, "far", geo.Point{Lon: 77.2090, Lat: 28.6400}, true)   // ~2.9 km
	register(t, d, "near", geo.Point{Lon: 77.2090, Lat: 28.6180}, true)  // ~0.45 km
	register(t, d, "off", geo.Point{Lon: 77.2091, Lat: 28.6140}, false)  // offline
	register(t, d, "gone", geo.Point{Lon: 77.2090, Lat: 28.7500}, true)  // ~15 km

	got, err := d.FindNearbyDrivers(ctx, origin, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "near" || got[1].ID != "far" {
		ids := make([]string, len(got))
		for i, g := range got {
			ids[i] = g.ID
		}
		t.Fatalf("expected [near far], got %v", ids)
	}

	got, _ = d.FindNearbyDrivers(ctx, origin, 1000)
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("expected only near within 1km, got %d drivers", len(got))
	}
}

func TestFindNearbyDriversLimitSkipsEngaged(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := New(store, geo.NewIndex(), nil, 8)
	origin := geo.Point{Lon: 77.2090, Lat: 28.6139}

	// eight engaged drivers crowd the pickup, the only free one is ~1 km out
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("busy-%d", i)
		register(t, d, id, geo.Point{Lon: 77.2090 + float64(i)*0.00001, Lat: 28.6140}, true)
		if res, err := d.Claim(ctx, id, "ride-"+id); err != nil || res != Assigned {
			t.Fatalf("claim %s: %v %v", id, res, err)
		}
	}
	register(t, d, "free", geo.Point{Lon: 77.2090, Lat: 28.6229}, true)

	got, err := d.FindNearbyDrivers(ctx, origin, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "free" {
		t.Fatalf("expected only the free driver, got %d drivers", len(got))
	}

	for i := 0; i < 10; i++ {
		register(t, d, fmt.Sprintf("extra-%d", i), geo.Point{Lon: 77.2100, Lat: 28.6150}, true)
	}
	got, _ = d.FindNearbyDrivers(ctx, origin, 5000)
	if len(got) != 8 {
		t.Fatalf("expected results capped at 8, got %d", len(got))
	}
}

func TestUpdateStatusRules(t *testing.T) {
	ctx := context.Background()
	d, _, idx := newTestDirectory(t)
	p := geo.Point{Lon: 10, Lat: 10}
	register(t, d, "d1", p, true)

	if err := d.UpdateStatus(ctx, "d1", models.DriverEngaged); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation for engaged, got %v", err)
	}

	if err := d.UpdateStatus(ctx, "d1", models.DriverOffline); err != nil {
		t.Fatal(err)
	}
	hits, _ := idx.Nearby(ctx, p, 100, 0)
	if len(hits) != 0 {
		t.Fatal("offline driver should leave the locator")
	}

	_ = d.UpdateStatus(ctx, "d1", models.DriverAvailable)
	if res, _ := d.Claim(ctx, "d1", "r1"); res != Assigned {
		t.Fatal("expected claim to succeed")
	}
	if err := d.UpdateStatus(ctx, "d1", models.DriverOffline); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict toggling engaged driver, got %v", err)
	}
}

func TestClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)
	register(t, d, "d1", geo.Point{Lon: 1, Lat: 1}, true)

	if res, err := d.Claim(ctx, "d1", "r1"); err != nil || res != Assigned {
		t.Fatalf("first claim: %v %v", res, err)
	}
	if res, _ := d.Claim(ctx, "d1", "r2"); res != Taken {
		t.Fatal("second claim must report taken")
	}
	drv, _ := d.Get(ctx, "d1")
	if drv.Status != models.DriverEngaged || drv.CurrentRide != "r1" {
		t.Fatalf("unexpected driver state %+v", drv)
	}

	if err := d.Release(ctx, "d1", "r1"); err != nil {
		t.Fatal(err)
	}
	drv, _ = d.Get(ctx, "d1")
	if drv.Status != models.DriverAvailable || drv.CurrentRide != "" {
		t.Fatalf("driver not released: %+v", drv)
	}
}

func TestUpdateRatingRunningMean(t *testing.T) {
	ctx := context.Background()
	d, store, _ := newTestDirectory(t)
	drv := models.NewDriver("d1", "u1", models.Vehicle{Type: models.ClassBike}, geo.Point{Lon: 1, Lat: 1})
	drv.Ratings = models.Ratings{Average: 4, Count: 2}
	_ = store.CreateDriver(ctx, drv)

	if err := d.UpdateRating(ctx, "d1", 5); err != nil {
		t.Fatal(err)
	}
	got, _ := d.Get(ctx, "d1")
	if got.Ratings.Count != 3 || got.Ratings.Average < 4.333 || got.Ratings.Average > 4.334 {
		t.Fatalf("unexpected ratings %+v", got.Ratings)
	}

	for _, bad := range []int{0, 6} {
		if err := d.UpdateRating(ctx, "d1", bad); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("rating %d: expected ErrValidation, got %v", bad, err)
		}
	}
}

func TestUpdateLocationReindexes(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)
	register(t, d, "d1", geo.Point{Lon: 0, Lat: 0}, true)

	moved := geo.Point{Lon: 72.8777, Lat: 19.0760}
	if err := d.UpdateLocation(ctx, "d1", moved); err != nil {
		t.Fatal(err)
	}
	got, _ := d.FindNearbyDrivers(ctx, moved, 100)
	if len(got) != 1 || got[0].Location != moved {
		t.Fatalf("expected driver at new position, got %+v", got)
	}
	if err := d.UpdateLocation(ctx, "d1", geo.Point{Lon: 200, Lat: 0}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := d.UpdateLocation(ctx, "missing", moved); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
