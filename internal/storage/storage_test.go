package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
)

func newTestRide(rider string, created time.Time) *models.Ride {
	loc := models.Location{Coordinates: geo.Point{Lon: 77.2, Lat: 28.6}, Address: "x"}
	r := models.NewRide(rider, loc, loc, models.ClassSedan, models.PayCash, created)
	return r
}

func availableDriver(id string) *models.Driver {
	d := models.NewDriver(id, "user-"+id, models.Vehicle{Type: models.ClassSedan}, geo.Point{Lon: 77.2, Lat: 28.6})
	d.Status = models.DriverAvailable
	d.Availability.IsActive = true
	return d
}

func TestMemoryStoreRideVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := newTestRide("u1", time.Now())
	if err := s.CreateRide(ctx, r); err != nil {
		t.Fatal(err)
	}
	if r.Version != 1 {
		t.Fatalf("expected version 1, got %d", r.Version)
	}

	a, _ := s.GetRide(ctx, r.ID)
	b, _ := s.GetRide(ctx, r.ID)

	a.Status = models.RideSearching
	if err := s.UpdateRide(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("expected version 2, got %d", a.Version)
	}

	b.Status = models.RideCanceled
	if err := s.UpdateRide(ctx, b); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale write, got %v", err)
	}

	got, _ := s.GetRide(ctx, r.ID)
	if got.Status != models.RideSearching {
		t.Fatalf("stale write leaked: %s", got.Status)
	}

	if _, err := s.GetRide(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRouteIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := newTestRide("u1", time.Now())
	_ = s.CreateRide(ctx, r)

	_ = s.AppendRoutePoint(ctx, r.ID, geo.Point{Lon: 1, Lat: 1})
	_ = s.AppendRoutePoint(ctx, r.ID, geo.Point{Lon: 2, Lat: 2})

	// an update carrying a stale route must not drop points
	r.Status = models.RideSearching
	if err := s.UpdateRide(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRide(ctx, r.ID)
	if len(got.Route) != 2 || got.Route[1].Lon != 2 {
		t.Fatalf("unexpected route %+v", got.Route)
	}

	got.Status = models.RideCanceled
	_ = s.UpdateRide(ctx, got)
	if err := s.AppendRoutePoint(ctx, r.ID, geo.Point{}); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict on terminal ride, got %v", err)
	}
}

func TestMemoryStoreListRides(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = s.CreateRide(ctx, newTestRide("u1", base.Add(time.Duration(i)*time.Minute)))
	}
	_ = s.CreateRide(ctx, newTestRide("u2", base))

	page, total, err := s.ListRides(ctx, RideFilter{RiderID: "u1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if !page[0].CreatedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("expected newest-first ordering, got %v", page[0].CreatedAt)
	}

	empty, total, _ := s.ListRides(ctx, RideFilter{RiderID: "u1", Offset: 10})
	if len(empty) != 0 || total != 5 {
		t.Fatalf("expected empty page past the end, got %d", len(empty))
	}
}

func TestMemoryStoreClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateDriver(ctx, availableDriver("d1"))

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(ride string) {
			defer wg.Done()
			ok, err := s.ClaimDriver(ctx, "d1", ride)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				wins <- ride
			}
		}(fmt.Sprintf("r%d", i))
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one claim to win, got %v", winners)
	}
	d, _ := s.GetDriver(ctx, "d1")
	if d.Status != models.DriverEngaged || d.CurrentRide != winners[0] {
		t.Fatalf("driver not linked to winner: %+v", d)
	}

	if ok, _ := s.ReleaseDriver(ctx, "d1", "someone-else"); ok {
		t.Fatal("release for a different ride must not free the driver")
	}
	if ok, _ := s.ReleaseDriver(ctx, "d1", winners[0]); !ok {
		t.Fatal("expected release to succeed")
	}
}

func TestMemoryStoreStatusGuardsEngaged(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateDriver(ctx, availableDriver("d1"))
	_, _ = s.ClaimDriver(ctx, "d1", "r1")

	if err := s.SetDriverStatus(ctx, "d1", models.DriverOffline, false); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict for engaged driver, got %v", err)
	}
	if err := s.SetDriverStatus(ctx, "nope", models.DriverOffline, false); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDriverAccumulators(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := availableDriver("d1")
	d.Ratings = models.Ratings{Average: 4, Count: 2}
	_ = s.CreateDriver(ctx, d)

	_ = s.AddDriverRating(ctx, "d1", 5)
	_ = s.AddDriverTrip(ctx, "d1", 221, 10)
	_ = s.AddDriverTrip(ctx, "d1", 100, 2.5)

	got, _ := s.GetDriver(ctx, "d1")
	if got.Ratings.Count != 3 || got.Ratings.Average < 4.333 || got.Ratings.Average > 4.334 {
		t.Fatalf("unexpected ratings %+v", got.Ratings)
	}
	if got.Statistics.TotalRides != 2 || got.Statistics.TotalEarnings != 321 || got.Statistics.TotalDistance != 12.5 {
		t.Fatalf("unexpected statistics %+v", got.Statistics)
	}
}

func TestMemoryActiveIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryActiveIndex()
	if err := idx.SetLocation(ctx, "r1", geo.Point{}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = idx.Put(ctx, ActiveRide{RideID: "r1", DriverID: "d1", RiderID: "u1"})
	_ = idx.SetLocation(ctx, "r1", geo.Point{Lon: 3, Lat: 4})

	a, ok, _ := idx.Get(ctx, "r1")
	if !ok || a.LastLocation.Lon != 3 || a.DriverID != "d1" {
		t.Fatalf("unexpected entry %+v", a)
	}
	_ = idx.Delete(ctx, "r1")
	if _, ok, _ := idx.Get(ctx, "r1"); ok || idx.Len() != 0 {
		t.Fatal("expected entry removed")
	}
}
