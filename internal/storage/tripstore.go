package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
)

// MemoryStore keeps rides and drivers in process. It is the default when no
// Postgres DSN is configured and the backing store for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]*models.Ride
	drivers map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]*models.Ride),
		drivers: make(map[string]*models.Driver),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists: %w", r.ID, models.ErrConflict)
	}
	r.Version = 1
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, fmt.Errorf("ride %s: %w", id, models.ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return fmt.Errorf("ride %s: %w", r.ID, models.ErrNotFound)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("ride %s version %d, stored %d: %w", r.ID, r.Version, cur.Version, models.ErrConflict)
	}
	next := r.Clone()
	next.Route = cur.Route
	next.Version++
	m.rides[r.ID] = next
	r.Version = next.Version
	return nil
}

func (m *MemoryStore) AppendRoutePoint(_ context.Context, id string, p geo.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return fmt.Errorf("ride %s: %w", id, models.ErrNotFound)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("ride %s is %s: %w", id, r.Status, models.ErrConflict)
	}
	r.Route = append(r.Route, p)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListRides(_ context.Context, f RideFilter) ([]*models.Ride, int, error) {
	m.mu.RLock()
	var matched []*models.Ride
	for _, r := range m.rides {
		if f.RiderID != "" && r.RiderID != f.RiderID {
			continue
		}
		if f.DriverID != "" && r.DriverID != f.DriverID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		matched = append(matched, r.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*models.Ride{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) FindActiveRide(_ context.Context, riderID, driverID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if !isActiveStatus(r.Status) {
			continue
		}
		if driverID != "" && r.DriverID == driverID {
			return r.Clone(), nil
		}
		if driverID == "" && r.RiderID == riderID {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("active ride: %w", models.ErrNotFound)
}

func (m *MemoryStore) ListAssignedRides(_ context.Context) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.DriverID != "" && !r.Status.Terminal() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; ok {
		return fmt.Errorf("driver %s already exists: %w", d.ID, models.ErrConflict)
	}
	m.drivers[d.ID] = d.Clone()
	return nil
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, fmt.Errorf("driver %s: %w", id, models.ErrNotFound)
	}
	return d.Clone(), nil
}

func (m *MemoryStore) GetDriverByUser(_ context.Context, userID string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.UserID == userID {
			return d.Clone(), nil
		}
	}
	return nil, fmt.Errorf("driver for user %s: %w", userID, models.ErrNotFound)
}

func (m *MemoryStore) GetDrivers(_ context.Context, ids []string) ([]*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Driver, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.drivers[id]; ok {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ClaimDriver(_ context.Context, driverID, rideID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return false, fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	if !d.Engage(rideID) {
		return false, nil
	}
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) ReleaseDriver(_ context.Context, driverID, rideID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return false, fmt.Errorf("driver %s: %w", driverID, models.ErrNotFound)
	}
	if !d.Release(rideID) {
		return false, nil
	}
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) SetDriverLocation(_ context.Context, id string, p geo.Point) error {
	return m.mutateDriver(id, func(d *models.Driver) error {
		d.Location = p
		return nil
	})
}

func (m *MemoryStore) SetDriverStatus(_ context.Context, id string, status models.DriverStatus, active bool) error {
	return m.mutateDriver(id, func(d *models.Driver) error {
		if d.Status == models.DriverEngaged {
			return fmt.Errorf("driver %s is engaged on %s: %w", id, d.CurrentRide, models.ErrConflict)
		}
		d.Status = status
		d.Availability.IsActive = active
		return nil
	})
}

func (m *MemoryStore) AddDriverTrip(_ context.Context, id string, fare, distanceKm float64) error {
	return m.mutateDriver(id, func(d *models.Driver) error {
		d.AddTrip(fare, distanceKm)
		return nil
	})
}

func (m *MemoryStore) AddDriverRating(_ context.Context, id string, rating float64) error {
	return m.mutateDriver(id, func(d *models.Driver) error {
		d.AddRating(rating)
		return nil
	})
}

func (m *MemoryStore) mutateDriver(id string, fn func(*models.Driver) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return fmt.Errorf("driver %s: %w", id, models.ErrNotFound)
	}
	if err := fn(d); err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}
