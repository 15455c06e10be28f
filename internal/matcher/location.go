package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/observability"
	"github.com/example/ride-companion/internal/storage"
)

type LocationUpdate struct {
	RideID     string            `json:"rideId"`
	Status     models.RideStatus `json:"status"`
	Location   geo.Point         `json:"location"`
	Bearing    float64           `json:"bearing"`
	ETAMinutes int               `json:"etaMinutes"`
}

// UpdateRideLocation records a position reported by the ride's driver. The
// ETA is to the pickup until the driver arrives, then to the dropoff.
func (s *Service) UpdateRideLocation(ctx context.Context, rideID, driverID string, p geo.Point) (*LocationUpdate, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: invalid coordinates format", models.ErrValidation)
	}
	unlock := s.locks.Lock(rideID)
	defer unlock()

	entry, err := s.activeEntry(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if entry.DriverID != driverID {
		return nil, fmt.Errorf("driver %s on ride %s: %w", driverID, rideID, models.ErrUnauthorized)
	}
	ride, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status.Terminal() {
		s.forget(ctx, rideID)
		return nil, fmt.Errorf("ride %s is %s: %w", rideID, ride.Status, models.ErrNotFound)
	}

	if err := s.Drivers.UpdateLocation(ctx, driverID, p); err != nil {
		return nil, fmt.Errorf("driver location: %w", err)
	}
	if err := s.Rides.AppendRoutePoint(ctx, rideID, p); err != nil {
		return nil, fmt.Errorf("append route: %w", err)
	}
	if err := s.Active.SetLocation(ctx, rideID, p); err != nil {
		s.log().Warn("active index location update failed", "ride_id", rideID, "err", err)
	}
	observability.LocationUpdates.Inc()

	target := ride.Dropoff.Coordinates
	if ride.Status == models.RideAccepted {
		target = ride.Pickup.Coordinates
	}
	prev := entry.LastLocation
	var bearing float64
	if prev == (geo.Point{}) || prev == p {
		bearing = geo.Bearing(p, target)
	} else {
		bearing = geo.Bearing(prev, p)
	}
	return &LocationUpdate{
		RideID:     rideID,
		Status:     ride.Status,
		Location:   p,
		Bearing:    bearing,
		ETAMinutes: s.etaMinutes(ctx, p, target),
	}, nil
}

// activeEntry reads the index and rebuilds a missing entry from the stored
// ride, which covers entries lost with a restarted process.
func (s *Service) activeEntry(ctx context.Context, rideID string) (storage.ActiveRide, error) {
	entry, ok, err := s.Active.Get(ctx, rideID)
	if err != nil {
		return storage.ActiveRide{}, fmt.Errorf("active index: %w", err)
	}
	if ok {
		return entry, nil
	}
	ride, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return storage.ActiveRide{}, err
	}
	if ride.Status.Terminal() || ride.DriverID == "" {
		return storage.ActiveRide{}, fmt.Errorf("active ride %s: %w", rideID, models.ErrNotFound)
	}
	entry = activeFromRide(ride)
	if err := s.Active.Put(ctx, entry); err != nil {
		s.log().Warn("active index rebuild failed", "ride_id", rideID, "err", err)
	} else {
		observability.ActiveRides.Inc()
		s.log().Info("active ride rebuilt from store", "ride_id", rideID)
	}
	return entry, nil
}

func activeFromRide(r *models.Ride) storage.ActiveRide {
	a := storage.ActiveRide{RideID: r.ID, RiderID: r.RiderID, DriverID: r.DriverID, UpdatedAt: r.UpdatedAt}
	if n := len(r.Route); n > 0 {
		a.LastLocation = r.Route[n-1]
	}
	return a
}

// RestoreActive repopulates the active-ride index from every stored ride that
// has a driver and is not terminal. It returns the number of entries written.
func (s *Service) RestoreActive(ctx context.Context) (int, error) {
	rides, err := s.Rides.ListAssignedRides(ctx)
	if err != nil {
		return 0, fmt.Errorf("list assigned rides: %w", err)
	}
	var errs []error
	n := 0
	for _, r := range rides {
		if err := s.Active.Put(ctx, activeFromRide(r)); err != nil {
			errs = append(errs, fmt.Errorf("ride %s: %w", r.ID, err))
			continue
		}
		n++
	}
	observability.ActiveRides.Set(float64(n))
	return n, errors.Join(errs...)
}
