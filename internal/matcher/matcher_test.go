package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-companion/internal/directory"
	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/payments"
	"github.com/example/ride-companion/internal/storage"
)

var (
	pickup  = models.Location{Coordinates: geo.Point{Lon: 77.2167, Lat: 28.6315}, Address: "Connaught Place"}
	dropoff = models.Location{Coordinates: geo.Point{Lon: 77.2295, Lat: 28.6129}, Address: "India Gate"}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type noteRecorder struct {
	mu    sync.Mutex
	byUsr map[string][]models.Notification
}

func (n *noteRecorder) Notify(_ context.Context, userID string, note models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.byUsr == nil {
		n.byUsr = make(map[string][]models.Notification)
	}
	n.byUsr[userID] = append(n.byUsr[userID], note)
	return nil
}

func (n *noteRecorder) count(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.byUsr[userID])
}

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	active *storage.MemoryActiveIndex
	dir    *directory.Directory
	notes  *noteRecorder
	pay    *payments.MemoryGateway
	clock  *clock
}

// candidateLimit mirrors the MATCHER_TOP_N default the server runs with.
const candidateLimit = 8

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	active := storage.NewMemoryActiveIndex()
	dir := directory.New(store, geo.NewIndex(), nil, candidateLimit)
	notes := &noteRecorder{}
	pay := payments.NewMemoryGateway()
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := &Service{
		Drivers:  dir,
		Rides:    store,
		Active:   active,
		Notifier: notes,
		Payments: pay,
		Surge:    1,
		Now:      c.Now,
	}
	return &fixture{svc: svc, store: store, active: active, dir: dir, notes: notes, pay: pay, clock: c}
}

func (f *fixture) addDriver(t *testing.T, id string, p geo.Point, ratings models.Ratings) {
	t.Helper()
	d := models.NewDriver(id, "user-"+id, models.Vehicle{Type: models.ClassSedan, Model: "Dzire", Number: "DL3C"}, p)
	d.Ratings = ratings
	ctx := context.Background()
	if err := f.dir.Register(ctx, d); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.dir.UpdateStatus(ctx, id, models.DriverAvailable); err != nil {
		t.Fatalf("go online: %v", err)
	}
}

func (f *fixture) request(t *testing.T, method models.PaymentMethod) *RequestResult {
	t.Helper()
	res, err := f.svc.RequestRide(context.Background(), RideRequest{
		RiderID: "rider-1", Pickup: pickup, Dropoff: dropoff, Class: models.ClassSedan, PaymentMethod: method,
	})
	if err != nil {
		t.Fatalf("request ride: %v", err)
	}
	return res
}

func (f *fixture) advance(t *testing.T, rideID string, statuses ...models.RideStatus) *models.Ride {
	t.Helper()
	var r *models.Ride
	for _, st := range statuses {
		var err error
		r, err = f.svc.UpdateRideStatus(context.Background(), rideID, st, "user-d1")
		if err != nil {
			t.Fatalf("-> %s: %v", st, err)
		}
	}
	return r
}

func TestRequestRideNoDriversPersistsNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestRide(context.Background(), RideRequest{
		RiderID: "rider-1", Pickup: pickup, Dropoff: dropoff, Class: models.ClassSedan,
	})
	if !errors.Is(err, models.ErrNoDriversAvailable) {
		t.Fatalf("expected ErrNoDriversAvailable, got %v", err)
	}
	_, total, _ := f.store.ListRides(context.Background(), storage.RideFilter{})
	if total != 0 {
		t.Fatalf("expected no persisted rides, got %d", total)
	}
}

func TestRequestRideValidates(t *testing.T) {
	f := newFixture(t)
	bad := pickup
	bad.Coordinates = geo.Point{Lon: 190, Lat: 0}
	_, err := f.svc.RequestRide(context.Background(), RideRequest{RiderID: "rider-1", Pickup: bad, Dropoff: dropoff, Class: models.ClassSedan})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRequestRideAssignsNearestDriver(t *testing.T) {
	f := newFixture(t)
	f.addDriver(t, "far", geo.Point{Lon: 77.2167, Lat: 28.6500}, models.Ratings{})
	f.addDriver(t, "d1", geo.Point{Lon: 77.2170, Lat: 28.6330}, models.Ratings{})

	res := f.request(t, "")
	if res.Outcome != OutcomeAssigned || res.Driver.ID != "d1" {
		t.Fatalf("expected d1 assigned, got %s %+v", res.Outcome, res.Driver)
	}
	r := res.Ride
	if r.Status != models.RideAccepted || r.DriverID != "d1" || r.Timing.Accepted == nil {
		t.Fatalf("unexpected ride %+v", r)
	}
	if r.PaymentMethod != models.PayCash || r.Fare.Currency != "INR" || r.Fare.Total == 0 {
		t.Fatalf("unexpected payment/fare %+v %s", r.Fare, r.PaymentMethod)
	}
	if want := models.EstimateDuration(r.Distance.Estimated); r.Duration.Estimated != want {
		t.Fatalf("expected estimated duration %d, got %d", want, r.Duration.Estimated)
	}

	d, _ := f.dir.Get(context.Background(), "d1")
	if d.Status != models.DriverEngaged || d.CurrentRide != r.ID {
		t.Fatalf("driver not engaged on ride: %+v", d)
	}
	if _, ok, _ := f.active.Get(context.Background(), r.ID); !ok {
		t.Fatal("expected active index entry")
	}
	if f.notes.count("rider-1") != 1 || f.notes.count("user-d1") != 1 {
		t.Fatal("expected rider and driver to be notified")
	}
}

func TestSequentialRequestsForSingleDriver(t *testing.T) {
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})

	first := f.request(t, "")
	if first.Outcome != OutcomeAssigned {
		t.Fatalf("expected first request assigned, got %s", first.Outcome)
	}
	_, err := f.svc.RequestRide(context.Background(), RideRequest{
		RiderID: "rider-2", Pickup: pickup, Dropoff: dropoff, Class: models.ClassSedan,
	})
	if !errors.Is(err, models.ErrNoDriversAvailable) {
		t.Fatalf("expected second request to find no drivers, got %v", err)
	}
}

// staleDrivers returns a fixed candidate snapshot, as two requests that
// queried the locator at the same moment would see.
type staleDrivers struct {
	*directory.Directory
	snapshot []*models.Driver
}

func (s staleDrivers) FindNearbyDrivers(context.Context, geo.Point, float64) ([]*models.Driver, error) {
	out := make([]*models.Driver, len(s.snapshot))
	for i, d := range s.snapshot {
		out[i] = d.Clone()
	}
	return out, nil
}

func TestConcurrentRequestsClaimDriverOnce(t *testing.T) {
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})
	snap, _ := f.dir.FindNearbyDrivers(context.Background(), pickup.Coordinates, 0)
	f.svc.Drivers = staleDrivers{Directory: f.dir, snapshot: snap}

	const riders = 8
	results := make([]*RequestResult, riders)
	var wg sync.WaitGroup
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.RequestRide(context.Background(), RideRequest{
				RiderID: "rider", Pickup: pickup, Dropoff: dropoff, Class: models.ClassSedan,
			})
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	var winner string
	assigned := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		switch res.Outcome {
		case OutcomeAssigned:
			assigned++
			winner = res.Ride.ID
		case OutcomeAllTaken:
			stored, _ := f.store.GetRide(context.Background(), res.Ride.ID)
			if stored.Status != models.RideRequested || stored.DriverID != "" {
				t.Fatalf("losing ride should stay requested without driver: %+v", stored)
			}
		}
	}
	if assigned != 1 {
		t.Fatalf("expected exactly one assignment, got %d", assigned)
	}
	d, _ := f.dir.Get(context.Background(), "d1")
	if d.Status != models.DriverEngaged || d.CurrentRide != winner {
		t.Fatalf("driver should be engaged on the winning ride: %+v", d)
	}
}

// failingRides fails the first n UpdateRide calls.
type failingRides struct {
	*storage.MemoryStore
	n int
}

func (f *failingRides) UpdateRide(ctx context.Context, r *models.Ride) error {
	if f.n > 0 {
		f.n--
		return errors.New("db down")
	}
	return f.MemoryStore.UpdateRide(ctx, r)
}

func TestFailedAssignmentReleasesDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})
	f.svc.Rides = &failingRides{MemoryStore: f.store, n: 1}

	_, err := f.svc.RequestRide(ctx, RideRequest{RiderID: "rider-1", Pickup: pickup, Dropoff: dropoff, Class: models.ClassSedan, PaymentMethod: models.PayCard})
	if err == nil {
		t.Fatal("expected assignment error")
	}
	d, _ := f.dir.Get(ctx, "d1")
	if d.Status != models.DriverAvailable || d.CurrentRide != "" {
		t.Fatalf("claim should be compensated, driver is %+v", d)
	}

	rides, _, _ := f.store.ListRides(ctx, storage.RideFilter{RiderID: "rider-1"})
	if len(rides) != 1 {
		t.Fatalf("expected one stored ride, got %d", len(rides))
	}
	r := rides[0]
	if r.Status != models.RideCanceled || r.Cancellation == nil || r.Cancellation.By != models.CanceledBySystem {
		t.Fatalf("ride should be canceled by the system, got %s %+v", r.Status, r.Cancellation)
	}
	hold, ok := f.pay.Get(r.PaymentRef)
	if !ok || !hold.Canceled || r.PaymentStatus != models.PaymentRefunded {
		t.Fatalf("expected released hold and refunded status, got %+v %s", hold, r.PaymentStatus)
	}
	if got := f.notes.count("rider-1"); got != 1 {
		t.Fatalf("expected rider to hear about the cancellation, got %d notes", got)
	}
}

func TestFailedAssignmentReleasesHoldWhenCancelFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})
	f.svc.Rides = &failingRides{MemoryStore: f.store, n: 2}

	_, err := f.svc.RequestRide(ctx, RideRequest{RiderID: "rider-1", Pickup: pickup, Dropoff: dropoff, Class: models.ClassSedan, PaymentMethod: models.PayCard})
	if err == nil {
		t.Fatal("expected assignment error")
	}
	rides, _, _ := f.store.ListRides(ctx, storage.RideFilter{RiderID: "rider-1"})
	if len(rides) != 1 {
		t.Fatalf("expected one stored ride, got %d", len(rides))
	}
	if hold, _ := f.pay.Get(rides[0].PaymentRef); !hold.Canceled {
		t.Fatalf("hold should be released even if the ride cannot be canceled: %+v", hold)
	}
}

func TestRequestRideSkipsEngagedDriversNearPickup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < candidateLimit+2; i++ {
		id := fmt.Sprintf("busy-%d", i)
		f.addDriver(t, id, geo.Point{Lon: pickup.Coordinates.Lon + float64(i)*0.00001, Lat: pickup.Coordinates.Lat}, models.Ratings{})
		if res, err := f.dir.Claim(ctx, id, "other-ride-"+id); err != nil || res != directory.Assigned {
			t.Fatalf("claim %s: %v %v", id, res, err)
		}
	}
	// ~1.1 km north of pickup
	f.addDriver(t, "free", geo.Point{Lon: pickup.Coordinates.Lon, Lat: pickup.Coordinates.Lat + 0.01}, models.Ratings{})

	res := f.request(t, "")
	if res.Outcome != OutcomeAssigned || res.Driver.ID != "free" {
		t.Fatalf("expected the free driver assigned, got %s %+v", res.Outcome, res.Driver)
	}
}

func TestTransitionGrid(t *testing.T) {
	for _, from := range models.AllRideStatuses {
		for _, to := range models.AllRideStatuses {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				ctx := context.Background()
				f := newFixture(t)
				f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})

				r := models.NewRide("rider-1", pickup, dropoff, models.ClassSedan, models.PayCash, f.clock.Now())
				r.Status = from
				if from != models.RideRequested && from != models.RideSearching {
					r.DriverID = "d1"
					_, _ = f.dir.Claim(ctx, "d1", r.ID)
				}
				if err := f.store.CreateRide(ctx, r); err != nil {
					t.Fatal(err)
				}

				got, err := f.svc.UpdateRideStatus(ctx, r.ID, to, "rider-1")
				stored, _ := f.store.GetRide(ctx, r.ID)
				if models.CanTransition(from, to) {
					if err != nil {
						t.Fatalf("expected success, got %v", err)
					}
					if got.Status != to || stored.Status != to {
						t.Fatalf("expected %s, got %s / stored %s", to, got.Status, stored.Status)
					}
					return
				}
				if !errors.Is(err, models.ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				if stored.Status != from || stored.Version != 1 {
					t.Fatalf("ride must be unchanged, got %s v%d", stored.Status, stored.Version)
				}
			})
		}
	}
}

func TestCompletionFinalizesRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})
	res := f.request(t, "")
	id := res.Ride.ID

	f.advance(t, id, models.RideArrived, models.RideInProgress)
	for _, p := range []geo.Point{pickup.Coordinates, dropoff.Coordinates} {
		if _, err := f.svc.UpdateRideLocation(ctx, id, "d1", p); err != nil {
			t.Fatalf("location: %v", err)
		}
	}
	f.clock.Advance(17*time.Minute + 40*time.Second)
	done := f.advance(t, id, models.RideCompleted)

	wantKm := geo.Distance(pickup.Coordinates, dropoff.Coordinates)
	if done.Distance.Actual < wantKm-1e-9 || done.Distance.Actual > wantKm+1e-9 || done.Duration.Actual != 18 {
		t.Fatalf("unexpected actuals %+v %+v", done.Distance, done.Duration)
	}
	want := models.CalculateFare(wantKm, 18, 1)
	if done.Fare.Total != want.Total {
		t.Fatalf("expected fare %v, got %v", want.Total, done.Fare.Total)
	}

	stored, _ := f.store.GetRide(ctx, id)
	if stored.PaymentStatus != models.PaymentCompleted || stored.Timing.Completed == nil {
		t.Fatalf("unexpected stored ride %+v", stored)
	}
	d, _ := f.dir.Get(ctx, "d1")
	if d.Status != models.DriverAvailable || d.CurrentRide != "" {
		t.Fatalf("driver not released: %+v", d)
	}
	if d.Statistics.TotalRides != 1 || d.Statistics.TotalEarnings != want.Total {
		t.Fatalf("unexpected statistics %+v", d.Statistics)
	}
	if f.active.Len() != 0 {
		t.Fatal("active index should be empty after completion")
	}
	if _, err := f.svc.UpdateRideLocation(ctx, id, "d1", pickup.Coordinates); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for completed ride, got %v", err)
	}
}

func TestCancellationInitiator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})

	cases := []struct {
		actor  string
		reason string
		want   models.CancelInitiator
		wantRs string
	}{
		{"rider-1", "", models.CanceledByRider, models.DefaultCancelReason},
		{"user-d1", "flat tyre", models.CanceledByDriver, "flat tyre"},
		{"d1", "", models.CanceledByDriver, models.DefaultCancelReason},
		{"ops-42", "fraud check", models.CanceledBySystem, "fraud check"},
	}
	for _, tc := range cases {
		res := f.request(t, "")
		r, err := f.svc.CancelRide(ctx, res.Ride.ID, tc.actor, tc.reason)
		if err != nil {
			t.Fatalf("cancel by %s: %v", tc.actor, err)
		}
		if r.Cancellation == nil || r.Cancellation.By != tc.want || r.Cancellation.Reason != tc.wantRs {
			t.Fatalf("actor %s: unexpected cancellation %+v", tc.actor, r.Cancellation)
		}
		if r.Timing.Canceled == nil {
			t.Fatal("expected canceled timestamp")
		}
		d, _ := f.dir.Get(ctx, "d1")
		if d.Status != models.DriverAvailable {
			t.Fatalf("driver should be free after cancellation, got %s", d.Status)
		}
	}
	if f.active.Len() != 0 {
		t.Fatal("active index should be empty")
	}
}

func TestCardPaymentHoldCaptureAndRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})

	res := f.request(t, models.PayCard)
	hold, ok := f.pay.Get(res.Ride.PaymentRef)
	if !ok || hold.Amount != payments.HoldAmount(res.Ride.Fare) || hold.Currency != "INR" {
		t.Fatalf("unexpected hold %+v", hold)
	}
	done := f.advance(t, res.Ride.ID, models.RideArrived, models.RideInProgress, models.RideCompleted)
	hold, _ = f.pay.Get(res.Ride.PaymentRef)
	if hold.Captured != done.Fare.MinorUnits() || done.PaymentStatus != models.PaymentCompleted {
		t.Fatalf("expected capture of %d, got %+v (%s)", done.Fare.MinorUnits(), hold, done.PaymentStatus)
	}

	res = f.request(t, models.PayCard)
	r, _ := f.svc.CancelRide(ctx, res.Ride.ID, "rider-1", "")
	hold, _ = f.pay.Get(res.Ride.PaymentRef)
	if !hold.Canceled || r.PaymentStatus != models.PaymentRefunded {
		t.Fatalf("expected released hold and refunded status, got %+v %s", hold, r.PaymentStatus)
	}

	f.pay.FailHolds = true
	_, err := f.svc.RequestRide(ctx, RideRequest{RiderID: "rider-9", Pickup: pickup, Dropoff: dropoff, Class: models.ClassSedan, PaymentMethod: models.PayCard})
	if !errors.Is(err, models.ErrPayment) {
		t.Fatalf("expected ErrPayment, got %v", err)
	}
	page, _ := f.svc.RideHistory(ctx, "rider-9", "", 1, 10)
	if page.Total != 0 {
		t.Fatal("a declined hold must not persist a ride")
	}
}

func TestUpdateRideLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", geo.Point{Lon: 77.2100, Lat: 28.6300}, models.Ratings{})
	f.addDriver(t, "d2", geo.Point{Lon: 77.3000, Lat: 28.7000}, models.Ratings{})
	res := f.request(t, "")
	id := res.Ride.ID

	if _, err := f.svc.UpdateRideLocation(ctx, id, "d2", pickup.Coordinates); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.UpdateRideLocation(ctx, id, "d1", geo.Point{Lon: 0, Lat: 95}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	p := geo.Point{Lon: 77.2130, Lat: 28.6310}
	up, err := f.svc.UpdateRideLocation(ctx, id, "d1", p)
	if err != nil {
		t.Fatal(err)
	}
	wantETA := geo.ETA(geo.Distance(p, pickup.Coordinates), geo.DefaultSpeedKmh)
	if up.Status != models.RideAccepted || up.Location != p || up.ETAMinutes != wantETA {
		t.Fatalf("unexpected update %+v (want eta %d)", up, wantETA)
	}
	if up.Bearing < 0 || up.Bearing >= 360 {
		t.Fatalf("bearing out of range: %v", up.Bearing)
	}

	stored, _ := f.store.GetRide(ctx, id)
	if len(stored.Route) != 1 || stored.Route[0] != p {
		t.Fatalf("expected route point recorded, got %+v", stored.Route)
	}
	d, _ := f.dir.Get(ctx, "d1")
	if d.Location != p {
		t.Fatalf("driver location not updated: %+v", d.Location)
	}
	entry, _, _ := f.active.Get(ctx, id)
	if entry.LastLocation != p {
		t.Fatalf("active entry not refreshed: %+v", entry)
	}
}

func TestActiveIndexRebuiltAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})
	res := f.request(t, "")

	// a new process starts with an empty index
	fresh := storage.NewMemoryActiveIndex()
	f.svc.Active = fresh
	if _, err := f.svc.UpdateRideLocation(ctx, res.Ride.ID, "d1", pickup.Coordinates); err != nil {
		t.Fatalf("expected lazy rebuild, got %v", err)
	}
	if fresh.Len() != 1 {
		t.Fatal("expected rebuilt entry")
	}

	restored := storage.NewMemoryActiveIndex()
	f.svc.Active = restored
	n, err := f.svc.RestoreActive(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one restored ride, got %d (%v)", n, err)
	}
	entry, ok, _ := restored.Get(ctx, res.Ride.ID)
	if !ok || entry.DriverID != "d1" || entry.LastLocation != pickup.Coordinates {
		t.Fatalf("unexpected restored entry %+v", entry)
	}
}

func TestLocationForUnassignedRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := models.NewRide("rider-1", pickup, dropoff, models.ClassSedan, models.PayCash, f.clock.Now())
	_ = f.store.CreateRide(ctx, r)
	if _, err := f.svc.UpdateRideLocation(ctx, r.ID, "d1", pickup.Coordinates); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.UpdateRideLocation(ctx, "RDMISSING", "d1", pickup.Coordinates); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRateRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{Average: 4, Count: 2})
	res := f.request(t, "")
	id := res.Ride.ID

	if _, err := f.svc.RateRide(ctx, id, "rider-1", false, 5, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("rating an active ride: expected ErrValidation, got %v", err)
	}
	f.advance(t, id, models.RideArrived, models.RideInProgress, models.RideCompleted)

	if _, err := f.svc.RateRide(ctx, id, "rider-1", false, 6, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation for rating 6, got %v", err)
	}
	if _, err := f.svc.RateRide(ctx, id, "stranger", false, 5, ""); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	r, err := f.svc.RateRide(ctx, id, "rider-1", false, 5, "smooth ride")
	if err != nil {
		t.Fatal(err)
	}
	if r.Rating.Driver == nil || r.Rating.Driver.Rating != 5 || r.Rating.Rider != nil {
		t.Fatalf("rider rating should land in the driver slot: %+v", r.Rating)
	}
	d, _ := f.dir.Get(ctx, "d1")
	if d.Ratings.Count != 3 || d.Ratings.Average < 4.333 || d.Ratings.Average > 4.334 {
		t.Fatalf("unexpected driver ratings %+v", d.Ratings)
	}
	if _, err := f.svc.RateRide(ctx, id, "rider-1", false, 1, ""); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict on second rating, got %v", err)
	}

	r, err = f.svc.RateRide(ctx, id, "user-d1", true, 4, "")
	if err != nil {
		t.Fatal(err)
	}
	if r.Rating.Rider == nil || r.Rating.Rider.Rating != 4 {
		t.Fatalf("driver rating should land in the rider slot: %+v", r.Rating)
	}
	d, _ = f.dir.Get(ctx, "d1")
	if d.Ratings.Count != 3 {
		t.Fatal("a driver rating the rider must not touch the driver's average")
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDriver(t, "d1", pickup.Coordinates, models.Ratings{})
	res := f.request(t, "")
	id := res.Ride.ID

	for _, caller := range []string{"rider-1", "user-d1", "d1"} {
		if _, err := f.svc.GetRideStatus(ctx, id, caller); err != nil {
			t.Fatalf("%s should see the ride: %v", caller, err)
		}
	}
	if _, err := f.svc.GetRideStatus(ctx, id, "someone"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if r, err := f.svc.ActiveRide(ctx, "rider-1", false); err != nil || r.ID != id {
		t.Fatalf("rider active ride: %v", err)
	}
	if r, err := f.svc.ActiveRide(ctx, "user-d1", true); err != nil || r.ID != id {
		t.Fatalf("driver active ride: %v", err)
	}

	_, _ = f.svc.CancelRide(ctx, id, "rider-1", "")
	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Minute)
		r := f.request(t, "")
		_, _ = f.svc.CancelRide(ctx, r.Ride.ID, "rider-1", "")
	}
	if _, err := f.svc.ActiveRide(ctx, "rider-1", false); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected no active ride, got %v", err)
	}

	page, err := f.svc.RideHistory(ctx, "rider-1", models.RideCanceled, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || page.Pages != 2 || len(page.Rides) != 1 || page.Rides[0].ID != id {
		t.Fatalf("unexpected page %+v", page)
	}
	if _, err := f.svc.RideHistory(ctx, "rider-1", "flying", 1, 10); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
