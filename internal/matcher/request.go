package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ride-companion/internal/directory"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/observability"
	"github.com/example/ride-companion/internal/payments"
	"github.com/example/ride-companion/internal/storage"
)

type RideRequest struct {
	RiderID       string
	Pickup        models.Location
	Dropoff       models.Location
	Class         models.RideClass
	PaymentMethod models.PaymentMethod
}

// Outcome tags the result of driver assignment.
type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	// OutcomeAllTaken means every nearby driver was claimed by a concurrent
	// request. The ride stays requested with no driver.
	OutcomeAllTaken Outcome = "allTaken"
)

type RequestResult struct {
	Ride    *models.Ride   `json:"ride"`
	Outcome Outcome        `json:"outcome"`
	Driver  *models.Driver `json:"driver,omitempty"`
}

// RequestRide creates a ride for the rider and tries to assign the nearest
// available driver. When no driver is in range it fails with
// models.ErrNoDriversAvailable and nothing is persisted.
func (s *Service) RequestRide(ctx context.Context, req RideRequest) (*RequestResult, error) {
	start := time.Now()
	if err := models.ValidateRideRequest(req.RiderID, req.Pickup, req.Dropoff, req.Class, req.PaymentMethod); err != nil {
		observability.RideRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}

	candidates, err := s.Drivers.FindNearbyDrivers(ctx, req.Pickup.Coordinates, s.SearchRadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("find drivers: %w", err)
	}
	if len(candidates) == 0 {
		observability.RideRequests.WithLabelValues("no_drivers").Inc()
		return nil, models.ErrNoDriversAvailable
	}

	ride := models.NewRide(req.RiderID, req.Pickup, req.Dropoff, req.Class, req.PaymentMethod, s.now())
	ride.CalculateFare(ride.Distance.Estimated, float64(ride.Duration.Estimated), s.Surge)

	if ride.PaymentMethod == models.PayCard {
		if err := s.placeHold(ctx, ride); err != nil {
			observability.RideRequests.WithLabelValues("payment_failed").Inc()
			return nil, err
		}
	}

	if err := s.Rides.CreateRide(ctx, ride); err != nil {
		s.releaseHold(ctx, ride)
		return nil, fmt.Errorf("create ride: %w", err)
	}
	s.publish(ctx, s.rideEvent(models.EventRideRequested, ride, ""))

	res, err := s.assign(ctx, ride, candidates)
	if err != nil {
		observability.RideRequests.WithLabelValues("assign_failed").Inc()
		s.abandon(ctx, ride, err)
		return nil, fmt.Errorf("assign ride %s: %w", ride.ID, err)
	}
	observability.RideRequests.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == OutcomeAssigned {
		observability.MatchLatency.Observe(time.Since(start).Seconds())
	}
	return res, nil
}

func (s *Service) placeHold(ctx context.Context, ride *models.Ride) error {
	if s.Payments == nil {
		return fmt.Errorf("%w: card payments are not configured", models.ErrPayment)
	}
	id, err := s.Payments.Hold(ctx, payments.HoldAmount(ride.Fare), ride.Fare.Currency, ride.ID)
	if err != nil {
		observability.PaymentErrors.WithLabelValues("hold").Inc()
		return err
	}
	ride.PaymentRef = id
	return nil
}

// releaseHold cancels a hold whose ride never got persisted or could not be
// canceled.
func (s *Service) releaseHold(ctx context.Context, ride *models.Ride) {
	if ride.PaymentRef == "" || s.Payments == nil {
		return
	}
	if err := s.Payments.Cancel(ctx, ride.PaymentRef); err != nil {
		observability.PaymentErrors.WithLabelValues("cancel").Inc()
		s.log().Error("release orphan hold failed", "ride_id", ride.ID, "hold", ride.PaymentRef, "err", err)
	}
}

// assignFailedReason is recorded on rides canceled because assignment failed.
const assignFailedReason = "Driver assignment failed"

// abandon cancels a persisted ride whose assignment failed and releases its
// card hold. If the ride cannot be written the hold is still released.
func (s *Service) abandon(ctx context.Context, ride *models.Ride, cause error) {
	unlock := s.locks.Lock(ride.ID)
	defer unlock()

	canceled := ride.Clone()
	now := s.now()
	canceled.SetStatus(models.RideCanceled, now)
	canceled.Cancellation = &models.Cancellation{Reason: assignFailedReason, By: models.CanceledBySystem, At: now}
	if err := s.Rides.UpdateRide(ctx, canceled); err != nil {
		s.log().Error("cancel unassigned ride failed", "ride_id", ride.ID, "cause", cause, "err", err)
		s.releaseHold(ctx, ride)
		return
	}
	observability.RideTransitions.WithLabelValues(string(ride.Status), string(models.RideCanceled)).Inc()
	s.log().Warn("ride canceled after failed assignment", "ride_id", ride.ID, "cause", cause)

	s.settlePayment(ctx, canceled)
	s.publish(ctx, s.rideEvent(models.EventRideCanceled, canceled, ride.Status))
	s.notifyParties(ctx, canceled, models.EventRideCanceled)
}

// assign claims the first candidate that is still available, nearest first.
// The claim is a conditional write in the driver store, so two requests
// racing for one driver cannot both win.
func (s *Service) assign(ctx context.Context, ride *models.Ride, candidates []*models.Driver) (*RequestResult, error) {
	unlock := s.locks.Lock(ride.ID)
	defer unlock()

	for _, d := range candidates {
		res, err := s.Drivers.Claim(ctx, d.ID, ride.ID)
		if err != nil {
			return nil, fmt.Errorf("claim driver %s: %w", d.ID, err)
		}
		if res != directory.Assigned {
			observability.ClaimConflicts.Inc()
			continue
		}

		accepted := ride.Clone()
		now := s.now()
		accepted.SetStatus(models.RideSearching, now)
		accepted.SetStatus(models.RideAccepted, now)
		accepted.DriverID = d.ID
		accepted.DriverETAMinutes = s.etaMinutes(ctx, d.Location, ride.Pickup.Coordinates)
		if err := s.Rides.UpdateRide(ctx, accepted); err != nil {
			if rerr := s.Drivers.Release(ctx, d.ID, ride.ID); rerr != nil {
				s.log().Error("release after failed assignment", "ride_id", ride.ID, "driver_id", d.ID, "err", rerr)
			}
			return nil, fmt.Errorf("persist assignment: %w", err)
		}

		entry := storage.ActiveRide{RideID: ride.ID, RiderID: ride.RiderID, DriverID: d.ID, LastLocation: d.Location, UpdatedAt: now}
		if err := s.Active.Put(ctx, entry); err != nil {
			// the ride is durable; a later location update rebuilds the entry
			s.log().Error("active index put failed", "ride_id", ride.ID, "err", err)
		} else {
			observability.ActiveRides.Inc()
		}
		observability.MatchesTotal.Inc()
		observability.RideTransitions.WithLabelValues(string(models.RideRequested), string(models.RideAccepted)).Inc()

		s.log().Info("ride assigned", "ride_id", ride.ID, "driver_id", d.ID, "eta_min", accepted.DriverETAMinutes)
		s.publish(ctx, s.rideEvent(models.EventDriverAssigned, accepted, models.RideRequested))
		s.notify(ctx, accepted.RiderID, models.Notification{
			Type:      models.EventDriverAssigned,
			Title:     "Driver assigned",
			Message:   fmt.Sprintf("Your %s is %d min away", d.Vehicle.Model, accepted.DriverETAMinutes),
			Priority:  "high",
			Reference: accepted.ID,
			Data:      map[string]any{"driverId": d.ID, "etaMinutes": accepted.DriverETAMinutes},
		})
		s.notify(ctx, d.UserID, models.Notification{
			Type:      models.EventDriverAssigned,
			Title:     "New ride",
			Message:   "Pickup at " + accepted.Pickup.Address,
			Priority:  "high",
			Reference: accepted.ID,
			Data:      map[string]any{"fare": accepted.Fare.Total},
		})

		drv := d.Clone()
		drv.Status = models.DriverEngaged
		drv.CurrentRide = ride.ID
		return &RequestResult{Ride: accepted, Outcome: OutcomeAssigned, Driver: drv}, nil
	}

	s.log().Warn("all nearby drivers taken", "ride_id", ride.ID, "candidates", len(candidates))
	return &RequestResult{Ride: ride, Outcome: OutcomeAllTaken}, nil
}
