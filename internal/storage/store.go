package storage

import (
	"context"
	"time"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
)

// RideFilter narrows ListRides. Zero values mean "any".
type RideFilter struct {
	RiderID  string
	DriverID string
	Status   models.RideStatus
	Limit    int
	Offset   int
}

// RideStore defines persistence operations for rides.
//
// UpdateRide is optimistic: it fails with models.ErrConflict unless r.Version
// matches the stored version, and bumps r.Version on success. The route is
// append-only and owned by AppendRoutePoint; UpdateRide never rewrites it.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride) error
	AppendRoutePoint(ctx context.Context, id string, p geo.Point) error
	ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, int, error)
	// FindActiveRide returns the accepted/arrived/inProgress ride of a rider
	// or, when driverID is set, of a driver.
	FindActiveRide(ctx context.Context, riderID, driverID string) (*models.Ride, error)
	// ListAssignedRides returns non-terminal rides that have a driver.
	ListAssignedRides(ctx context.Context) ([]*models.Ride, error)
}

// DriverStore defines persistence operations for drivers.
//
// ClaimDriver is the conditional available -> engaged write used for
// assignment; it reports false when another ride got there first.
type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	GetDriverByUser(ctx context.Context, userID string) (*models.Driver, error)
	GetDrivers(ctx context.Context, ids []string) ([]*models.Driver, error)
	ClaimDriver(ctx context.Context, driverID, rideID string) (bool, error)
	ReleaseDriver(ctx context.Context, driverID, rideID string) (bool, error)
	SetDriverLocation(ctx context.Context, id string, p geo.Point) error
	SetDriverStatus(ctx context.Context, id string, status models.DriverStatus, active bool) error
	AddDriverTrip(ctx context.Context, id string, fare, distanceKm float64) error
	AddDriverRating(ctx context.Context, id string, rating float64) error
}

// ActiveRide is the live context kept for a ride while it is in flight.
type ActiveRide struct {
	RideID       string    `json:"rideId"`
	RiderID      string    `json:"riderId"`
	DriverID     string    `json:"driverId"`
	LastLocation geo.Point `json:"lastLocation"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ActiveIndex maps ride ids to their live context.
type ActiveIndex interface {
	Put(ctx context.Context, a ActiveRide) error
	Get(ctx context.Context, rideID string) (ActiveRide, bool, error)
	SetLocation(ctx context.Context, rideID string, p geo.Point) error
	Delete(ctx context.Context, rideID string) error
}

var activeStatuses = []models.RideStatus{models.RideAccepted, models.RideArrived, models.RideInProgress}

func isActiveStatus(s models.RideStatus) bool {
	for _, a := range activeStatuses {
		if a == s {
			return true
		}
	}
	return false
}
