package matcher

import (
	"context"
	"fmt"

	"github.com/example/ride-companion/internal/models"
)

// RateRide stores a rating in the other party's slot. A driver rates the
// rider; a rider rates the driver, which also feeds the driver's average.
// Each side can rate a completed ride once.
func (s *Service) RateRide(ctx context.Context, rideID, raterID string, isDriverRating bool, rating int, feedback string) (*models.Ride, error) {
	if err := models.ValidateRating(rating, feedback); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(rideID)
	defer unlock()

	ride, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideCompleted {
		return nil, fmt.Errorf("%w: only completed rides can be rated", models.ErrValidation)
	}

	next := ride.Clone()
	entry := &models.RatingEntry{Rating: rating, Feedback: feedback}
	if isDriverRating {
		if !s.isDriverActor(ctx, ride, raterID) {
			return nil, fmt.Errorf("rate ride %s: %w", rideID, models.ErrUnauthorized)
		}
		if ride.Rating.Rider != nil {
			return nil, fmt.Errorf("rider already rated on %s: %w", rideID, models.ErrConflict)
		}
		next.Rating.Rider = entry
	} else {
		if raterID != ride.RiderID {
			return nil, fmt.Errorf("rate ride %s: %w", rideID, models.ErrUnauthorized)
		}
		if ride.Rating.Driver != nil {
			return nil, fmt.Errorf("driver already rated on %s: %w", rideID, models.ErrConflict)
		}
		next.Rating.Driver = entry
	}
	next.UpdatedAt = s.now()

	if err := s.Rides.UpdateRide(ctx, next); err != nil {
		return nil, err
	}
	if !isDriverRating && next.DriverID != "" {
		if err := s.Drivers.UpdateRating(ctx, next.DriverID, rating); err != nil {
			return nil, fmt.Errorf("driver rating: %w", err)
		}
	}

	s.publish(ctx, s.rideEvent(models.EventRideRated, next, next.Status))
	recipient := next.RiderID
	if !isDriverRating {
		recipient = s.driverUser(ctx, next)
	}
	s.notify(ctx, recipient, models.Notification{
		Type:      models.EventRideRated,
		Title:     "New rating",
		Message:   fmt.Sprintf("You received a %d star rating", rating),
		Priority:  "low",
		Reference: next.ID,
		Data:      map[string]any{"rating": rating},
	})
	return next, nil
}
