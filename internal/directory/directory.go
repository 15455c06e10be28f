// Package directory owns driver state: registration, position, availability,
// ride claims, trip statistics and ratings. Positions are mirrored into a
// geo.Locator so nearby queries never scan the whole driver table.
package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/observability"
	"github.com/example/ride-companion/internal/storage"
)

// DefaultRadiusMeters bounds FindNearbyDrivers when the caller passes 0.
const DefaultRadiusMeters = 5000

// ClaimResult is the tagged outcome of a claim attempt.
type ClaimResult int

const (
	Taken ClaimResult = iota
	Assigned
)

type Directory struct {
	store   storage.DriverStore
	locator geo.Locator
	logger  *slog.Logger
	// candidateLimit caps how many matchable drivers a query returns.
	candidateLimit int
}

func New(store storage.DriverStore, locator geo.Locator, logger *slog.Logger, candidateLimit int) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{store: store, locator: locator, logger: logger, candidateLimit: candidateLimit}
}

// Register persists a new driver and indexes its position.
func (d *Directory) Register(ctx context.Context, drv *models.Driver) error {
	if drv.ID == "" || drv.UserID == "" {
		return fmt.Errorf("%w: driver id and user id are required", models.ErrValidation)
	}
	if !drv.Location.Valid() {
		return fmt.Errorf("%w: invalid driver location", models.ErrValidation)
	}
	if drv.Status == models.DriverEngaged || drv.CurrentRide != "" {
		return fmt.Errorf("%w: a new driver cannot start engaged", models.ErrValidation)
	}
	if err := d.store.CreateDriver(ctx, drv); err != nil {
		return err
	}
	return d.locator.Upsert(ctx, drv.ID, drv.Location)
}

func (d *Directory) Get(ctx context.Context, id string) (*models.Driver, error) {
	return d.store.GetDriver(ctx, id)
}

// ForUser resolves the driver profile owned by an authenticated user.
func (d *Directory) ForUser(ctx context.Context, userID string) (*models.Driver, error) {
	return d.store.GetDriverByUser(ctx, userID)
}

// FindNearbyDrivers returns matchable drivers within maxDistanceMeters,
// nearest first. The locator also holds engaged drivers, so the candidate
// limit is applied after filtering.
func (d *Directory) FindNearbyDrivers(ctx context.Context, at geo.Point, maxDistanceMeters float64) ([]*models.Driver, error) {
	if maxDistanceMeters <= 0 {
		maxDistanceMeters = DefaultRadiusMeters
	}
	hits, err := d.locator.Nearby(ctx, at, maxDistanceMeters, 0)
	if err != nil {
		return nil, fmt.Errorf("nearby lookup: %w", err)
	}
	if len(hits) == 0 {
		return []*models.Driver{}, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	drivers, err := d.store.GetDrivers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	byID := make(map[string]*models.Driver, len(drivers))
	for _, drv := range drivers {
		byID[drv.ID] = drv
	}
	out := make([]*models.Driver, 0, len(hits))
	for _, h := range hits {
		drv, ok := byID[h.ID]
		if !ok {
			d.logger.Warn("locator member without driver record", "driver_id", h.ID)
			continue
		}
		if !drv.Matchable() {
			continue
		}
		out = append(out, drv)
		if d.candidateLimit > 0 && len(out) == d.candidateLimit {
			break
		}
	}
	return out, nil
}

// UpdateLocation persists the position and re-indexes it.
func (d *Directory) UpdateLocation(ctx context.Context, driverID string, p geo.Point) error {
	if !p.Valid() {
		return fmt.Errorf("%w: invalid coordinates format", models.ErrValidation)
	}
	if err := d.store.SetDriverLocation(ctx, driverID, p); err != nil {
		return err
	}
	return d.locator.Upsert(ctx, driverID, p)
}

// UpdateStatus toggles a driver between offline and available. Engagement
// only happens through Claim so that engaged always implies a current ride.
func (d *Directory) UpdateStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	switch status {
	case models.DriverOffline, models.DriverAvailable:
	case models.DriverEngaged:
		return fmt.Errorf("%w: drivers become engaged only by accepting a ride", models.ErrValidation)
	default:
		return fmt.Errorf("%w: unknown driver status %q", models.ErrValidation, status)
	}
	prev, err := d.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if err := d.store.SetDriverStatus(ctx, driverID, status, status == models.DriverAvailable); err != nil {
		return err
	}
	switch {
	case status == models.DriverAvailable && prev.Status == models.DriverOffline:
		observability.DriversOnline.Inc()
		return d.locator.Upsert(ctx, driverID, prev.Location)
	case status == models.DriverOffline && prev.Status == models.DriverAvailable:
		observability.DriversOnline.Dec()
		return d.locator.Remove(ctx, driverID)
	}
	return nil
}

// Claim atomically moves the driver from available to engaged on rideID.
func (d *Directory) Claim(ctx context.Context, driverID, rideID string) (ClaimResult, error) {
	ok, err := d.store.ClaimDriver(ctx, driverID, rideID)
	if err != nil {
		return Taken, err
	}
	if !ok {
		return Taken, nil
	}
	return Assigned, nil
}

// Release frees the driver if it is still engaged on rideID.
func (d *Directory) Release(ctx context.Context, driverID, rideID string) error {
	ok, err := d.store.ReleaseDriver(ctx, driverID, rideID)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Warn("driver not engaged on ride at release", "driver_id", driverID, "ride_id", rideID)
	}
	return nil
}

func (d *Directory) UpdateStatistics(ctx context.Context, driverID string, fare, distanceKm float64) error {
	return d.store.AddDriverTrip(ctx, driverID, fare, distanceKm)
}

// UpdateRating folds a 1..5 rating into the driver's running average.
func (d *Directory) UpdateRating(ctx context.Context, driverID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", models.ErrValidation)
	}
	return d.store.AddDriverRating(ctx, driverID, float64(rating))
}
