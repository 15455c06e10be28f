package matcher

import (
	"context"
	"fmt"

	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/storage"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// GetRideStatus returns the ride to its rider or to its assigned driver.
func (s *Service) GetRideStatus(ctx context.Context, rideID, callerID string) (*models.Ride, error) {
	ride, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if callerID != ride.RiderID && !s.isDriverActor(ctx, ride, callerID) {
		return nil, fmt.Errorf("ride %s: %w", rideID, models.ErrUnauthorized)
	}
	return ride, nil
}

// ActiveRide returns the caller's ride that is accepted, arrived or in
// progress. asDriver resolves userID through the driver directory.
func (s *Service) ActiveRide(ctx context.Context, userID string, asDriver bool) (*models.Ride, error) {
	if !asDriver {
		return s.Rides.FindActiveRide(ctx, userID, "")
	}
	d, err := s.Drivers.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Rides.FindActiveRide(ctx, "", d.ID)
}

type HistoryPage struct {
	Rides []*models.Ride `json:"rides"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Pages int            `json:"pages"`
}

// RideHistory lists a rider's rides newest first. page is 1-based.
func (s *Service) RideHistory(ctx context.Context, riderID string, status models.RideStatus, page, limit int) (*HistoryPage, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown ride status %q", models.ErrValidation, status)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rides, total, err := s.Rides.ListRides(ctx, storage.RideFilter{
		RiderID: riderID,
		Status:  status,
		Limit:   limit,
		Offset:  (page - 1) * limit,
	})
	if err != nil {
		return nil, err
	}
	return &HistoryPage{
		Rides: rides,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: (total + limit - 1) / limit,
	}, nil
}
