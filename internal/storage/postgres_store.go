package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const rideColumns = `id, rider_id, driver_id, pickup, dropoff, status, ride_class, fare, surge_multiplier,
	payment_status, payment_method, payment_ref, timing, distance, duration, driver_eta_minutes,
	route, rating, cancellation, version, created_at, updated_at`

const driverColumns = `id, user_id, vehicle, documents, lon, lat, status, current_ride,
	rating_avg, rating_count, total_rides, total_earnings, total_distance, completion_rate,
	is_active, schedule, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded bootstrap schema. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	doc, err := encodeRide(r)
	if err != nil {
		return err
	}
	route, err := json.Marshal(r.Route)
	if err != nil {
		return err
	}
	r.Version = 1
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides (`+rideColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		r.ID, r.RiderID, nullString(r.DriverID), doc.pickup, doc.dropoff, string(r.Status), string(r.Class),
		doc.fare, r.SurgeMultiplier, string(r.PaymentStatus), string(r.PaymentMethod), nullString(r.PaymentRef),
		doc.timing, doc.distance, doc.duration, r.DriverETAMinutes, string(route), doc.rating, doc.cancellation,
		r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ride %s: %w", id, models.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	doc, err := encodeRide(r)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET
			driver_id = $2, status = $3, fare = $4, surge_multiplier = $5,
			payment_status = $6, payment_method = $7, payment_ref = $8,
			timing = $9, distance = $10, duration = $11, driver_eta_minutes = $12,
			rating = $13, cancellation = $14, updated_at = $15,
			version = version + 1
		WHERE id = $1 AND version = $16`,
		r.ID, nullString(r.DriverID), string(r.Status), doc.fare, r.SurgeMultiplier,
		string(r.PaymentStatus), string(r.PaymentMethod), nullString(r.PaymentRef),
		doc.timing, doc.distance, doc.duration, r.DriverETAMinutes,
		doc.rating, doc.cancellation, r.UpdatedAt, r.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return p.missingOrConflict(ctx, "rides", "ride", r.ID)
	}
	r.Version++
	return nil
}

func (p *PostgresStore) AppendRoutePoint(ctx context.Context, id string, pt geo.Point) error {
	b, err := json.Marshal([]geo.Point{pt})
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET route = route || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'canceled')`, id, string(b))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return p.missingOrConflict(ctx, "rides", "ride", id)
	}
	return nil
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, int, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.RiderID != "" {
		add("rider_id = $%d", f.RiderID)
	}
	if f.DriverID != "" {
		add("driver_id = $%d", f.DriverID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rides`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + rideColumns + ` FROM rides` + cond + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rides, err := p.queryRides(ctx, q, args...)
	return rides, total, err
}

func (p *PostgresStore) FindActiveRide(ctx context.Context, riderID, driverID string) (*models.Ride, error) {
	statuses := make([]string, len(activeStatuses))
	for i, s := range activeStatuses {
		statuses[i] = string(s)
	}
	col, id := "rider_id", riderID
	if driverID != "" {
		col, id = "driver_id", driverID
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE `+col+` = $1 AND status = ANY($2) ORDER BY created_at DESC LIMIT 1`, id, pq.Array(statuses))
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active ride: %w", models.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) ListAssignedRides(ctx context.Context) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id IS NOT NULL AND status NOT IN ('completed', 'canceled')`)
}

func (p *PostgresStore) queryRides(ctx context.Context, q string, args ...any) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Ride{}
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	vehicle, err := json.Marshal(d.Vehicle)
	if err != nil {
		return err
	}
	docs, err := json.Marshal(d.Documents)
	if err != nil {
		return err
	}
	schedule, err := json.Marshal(scheduleOrEmpty(d.Availability.Schedule))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO drivers (`+driverColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		d.ID, d.UserID, string(vehicle), string(docs), d.Location.Lon, d.Location.Lat, string(d.Status), nullString(d.CurrentRide),
		d.Ratings.Average, d.Ratings.Count, d.Statistics.TotalRides, d.Statistics.TotalEarnings,
		d.Statistics.TotalDistance, d.Statistics.CompletionRate, d.Availability.IsActive, string(schedule),
		d.CreatedAt, d.UpdatedAt)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("driver %s: %w", id, models.ErrNotFound)
	}
	return d, err
}

func (p *PostgresStore) GetDriverByUser(ctx context.Context, userID string) (*models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("driver for user %s: %w", userID, models.ErrNotFound)
	}
	return d, err
}

func (p *PostgresStore) GetDrivers(ctx context.Context, ids []string) ([]*models.Driver, error) {
	if len(ids) == 0 {
		return []*models.Driver{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Driver, 0, len(ids))
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClaimDriver is a single conditional UPDATE; the row lock taken by Postgres
// makes it safe across processes.
func (p *PostgresStore) ClaimDriver(ctx context.Context, driverID, rideID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET status = 'engaged', current_ride = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'available' AND is_active`, driverID, rideID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) ReleaseDriver(ctx context.Context, driverID, rideID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET status = 'available', current_ride = NULL, updated_at = NOW()
		WHERE id = $1 AND current_ride = $2`, driverID, rideID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) SetDriverLocation(ctx context.Context, id string, pt geo.Point) error {
	return p.execDriver(ctx, id, `UPDATE drivers SET lon = $2, lat = $3, updated_at = NOW() WHERE id = $1`, id, pt.Lon, pt.Lat)
}

func (p *PostgresStore) SetDriverStatus(ctx context.Context, id string, status models.DriverStatus, active bool) error {
	return p.execDriver(ctx, id, `UPDATE drivers SET status = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1 AND status <> 'engaged'`, id, string(status), active)
}

func (p *PostgresStore) AddDriverTrip(ctx context.Context, id string, fare, distanceKm float64) error {
	return p.execDriver(ctx, id, `UPDATE drivers SET total_rides = total_rides + 1,
		total_earnings = total_earnings + $2, total_distance = total_distance + $3, updated_at = NOW()
		WHERE id = $1`, id, fare, distanceKm)
}

func (p *PostgresStore) AddDriverRating(ctx context.Context, id string, rating float64) error {
	return p.execDriver(ctx, id, `UPDATE drivers SET
		rating_avg = (rating_avg * rating_count + $2) / (rating_count + 1),
		rating_count = rating_count + 1, updated_at = NOW()
		WHERE id = $1`, id, rating)
}

func (p *PostgresStore) execDriver(ctx context.Context, id, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return p.missingOrConflict(ctx, "drivers", "driver", id)
	}
	return nil
}

// missingOrConflict tells a vanished row apart from a failed condition.
func (p *PostgresStore) missingOrConflict(ctx context.Context, table, kind, id string) error {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", kind, id, models.ErrConflict)
}

type rideParams struct {
	pickup, dropoff, fare, timing, distance, duration, rating string
	cancellation                                               sql.NullString
}

// encodeRide renders the JSONB columns as text; lib/pq would send []byte as bytea.
func encodeRide(r *models.Ride) (rideParams, error) {
	var d rideParams
	var err error
	enc := func(v any) string {
		if err != nil {
			return ""
		}
		var b []byte
		b, err = json.Marshal(v)
		return string(b)
	}
	d.pickup = enc(r.Pickup)
	d.dropoff = enc(r.Dropoff)
	d.fare = enc(r.Fare)
	d.timing = enc(r.Timing)
	d.distance = enc(r.Distance)
	d.duration = enc(r.Duration)
	d.rating = enc(r.Rating)
	if r.Cancellation != nil {
		d.cancellation = sql.NullString{String: enc(r.Cancellation), Valid: true}
	}
	return d, err
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var driverID, paymentRef sql.NullString
	var status, class, payStatus, payMethod string
	var pickup, dropoff, fare, timing, distance, duration, route, rating, cancellation []byte
	err := row.Scan(&r.ID, &r.RiderID, &driverID, &pickup, &dropoff, &status, &class,
		&fare, &r.SurgeMultiplier, &payStatus, &payMethod, &paymentRef, &timing,
		&distance, &duration, &r.DriverETAMinutes, &route, &rating, &cancellation,
		&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.PaymentRef = paymentRef.String
	r.Status = models.RideStatus(status)
	r.Class = models.RideClass(class)
	r.PaymentStatus = models.PaymentStatus(payStatus)
	r.PaymentMethod = models.PaymentMethod(payMethod)

	parts := []struct {
		b []byte
		v any
	}{
		{pickup, &r.Pickup}, {dropoff, &r.Dropoff}, {fare, &r.Fare},
		{timing, &r.Timing}, {distance, &r.Distance}, {duration, &r.Duration},
		{route, &r.Route}, {rating, &r.Rating},
	}
	for _, part := range parts {
		if len(part.b) == 0 {
			continue
		}
		if err := json.Unmarshal(part.b, part.v); err != nil {
			return nil, fmt.Errorf("decode ride %s: %w", r.ID, err)
		}
	}
	if len(cancellation) > 0 {
		var c models.Cancellation
		if err := json.Unmarshal(cancellation, &c); err != nil {
			return nil, fmt.Errorf("decode ride %s cancellation: %w", r.ID, err)
		}
		r.Cancellation = &c
	}
	if r.Route == nil {
		r.Route = []geo.Point{}
	}
	return &r, nil
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var d models.Driver
	var status string
	var currentRide sql.NullString
	var vehicle, docs, schedule []byte
	err := row.Scan(&d.ID, &d.UserID, &vehicle, &docs, &d.Location.Lon, &d.Location.Lat, &status, &currentRide,
		&d.Ratings.Average, &d.Ratings.Count, &d.Statistics.TotalRides, &d.Statistics.TotalEarnings,
		&d.Statistics.TotalDistance, &d.Statistics.CompletionRate, &d.Availability.IsActive, &schedule,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = models.DriverStatus(status)
	d.CurrentRide = currentRide.String
	if err := json.Unmarshal(vehicle, &d.Vehicle); err != nil {
		return nil, fmt.Errorf("decode driver %s vehicle: %w", d.ID, err)
	}
	if err := json.Unmarshal(docs, &d.Documents); err != nil {
		return nil, fmt.Errorf("decode driver %s documents: %w", d.ID, err)
	}
	if err := json.Unmarshal(schedule, &d.Availability.Schedule); err != nil {
		return nil, fmt.Errorf("decode driver %s schedule: %w", d.ID, err)
	}
	return &d, nil
}

func scheduleOrEmpty(s []models.ScheduleSlot) []models.ScheduleSlot {
	if s == nil {
		return []models.ScheduleSlot{}
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
