// Package matcher runs the ride lifecycle: request, driver assignment,
// location tracking, status transitions, completion, cancellation and rating.
package matcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-companion/internal/directory"
	"github.com/example/ride-companion/internal/dispatch"
	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/ingest"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/observability"
	"github.com/example/ride-companion/internal/payments"
	"github.com/example/ride-companion/internal/storage"
)

// Drivers is the slice of the driver directory the service depends on.
type Drivers interface {
	FindNearbyDrivers(ctx context.Context, at geo.Point, maxDistanceMeters float64) ([]*models.Driver, error)
	Claim(ctx context.Context, driverID, rideID string) (directory.ClaimResult, error)
	Release(ctx context.Context, driverID, rideID string) error
	UpdateLocation(ctx context.Context, driverID string, p geo.Point) error
	UpdateStatistics(ctx context.Context, driverID string, fare, distanceKm float64) error
	UpdateRating(ctx context.Context, driverID string, rating int) error
	Get(ctx context.Context, id string) (*models.Driver, error)
	ForUser(ctx context.Context, userID string) (*models.Driver, error)
}

// ETAEstimator returns travel minutes between two points.
type ETAEstimator interface {
	Minutes(ctx context.Context, from, to geo.Point) int
}

type Service struct {
	Drivers  Drivers
	Rides    storage.RideStore
	Active   storage.ActiveIndex
	Notifier dispatch.Notifier     // optional
	Events   ingest.EventPublisher // optional
	Payments payments.Gateway      // required for card rides
	ETA      ETAEstimator          // optional, haversine when nil
	Logger   *slog.Logger

	Surge              float64
	SearchRadiusMeters float64
	Now                func() time.Time

	locks keyedMutex
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) etaMinutes(ctx context.Context, from, to geo.Point) int {
	if s.ETA != nil {
		return s.ETA.Minutes(ctx, from, to)
	}
	return geo.ETA(geo.Distance(from, to), geo.DefaultSpeedKmh)
}

// notify is best effort; delivery failures never undo a transition.
func (s *Service) notify(ctx context.Context, userID string, n models.Notification) {
	if s.Notifier == nil || userID == "" {
		return
	}
	if err := s.Notifier.Notify(ctx, userID, n); err != nil {
		s.log().Warn("notification failed", "user_id", userID, "type", n.Type, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, ev models.RideEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishRideEvent(ctx, ev); err != nil {
		s.log().Warn("publish ride event failed", "ride_id", ev.RideID, "type", ev.Type, "err", err)
	}
}

func (s *Service) rideEvent(t models.EventType, r *models.Ride, from models.RideStatus) models.RideEvent {
	return models.RideEvent{
		Type:     t,
		RideID:   r.ID,
		RiderID:  r.RiderID,
		DriverID: r.DriverID,
		From:     from,
		Status:   r.Status,
		Fare:     r.Fare.Total,
		At:       r.UpdatedAt,
	}
}

// driverUser resolves the user id behind the ride's driver, "" when unknown.
func (s *Service) driverUser(ctx context.Context, r *models.Ride) string {
	if r.DriverID == "" {
		return ""
	}
	d, err := s.Drivers.Get(ctx, r.DriverID)
	if err != nil {
		s.log().Warn("driver lookup failed", "driver_id", r.DriverID, "err", err)
		return ""
	}
	return d.UserID
}

// isDriverActor reports whether actorID is the ride's driver, by driver id
// or by the driver's user id.
func (s *Service) isDriverActor(ctx context.Context, r *models.Ride, actorID string) bool {
	if r.DriverID == "" || actorID == "" {
		return false
	}
	if actorID == r.DriverID {
		return true
	}
	return s.driverUser(ctx, r) == actorID
}

func (s *Service) forget(ctx context.Context, rideID string) {
	if err := s.Active.Delete(ctx, rideID); err != nil {
		s.log().Error("active index delete failed", "ride_id", rideID, "err", err)
		return
	}
	observability.ActiveRides.Dec()
}

// keyedMutex serialises work on one ride id within the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
