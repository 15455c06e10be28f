package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-companion/internal/geo"
)

type RideStatus string

const (
	RideRequested  RideStatus = "requested"
	RideSearching  RideStatus = "searching"
	RideAccepted   RideStatus = "accepted"
	RideArrived    RideStatus = "arrived"
	RideInProgress RideStatus = "inProgress"
	RideCompleted  RideStatus = "completed"
	RideCanceled   RideStatus = "canceled"
)

// AllRideStatuses lists every lifecycle state in graph order.
var AllRideStatuses = []RideStatus{
	RideRequested, RideSearching, RideAccepted, RideArrived, RideInProgress, RideCompleted, RideCanceled,
}

var transitions = map[RideStatus][]RideStatus{
	RideRequested:  {RideSearching, RideCanceled},
	RideSearching:  {RideAccepted, RideCanceled},
	RideAccepted:   {RideArrived, RideCanceled},
	RideArrived:    {RideInProgress, RideCanceled},
	RideInProgress: {RideCompleted, RideCanceled},
	RideCompleted:  {},
	RideCanceled:   {},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to RideStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s RideStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCanceled
}

type RideClass string

const (
	ClassSedan  RideClass = "sedan"
	ClassSUV    RideClass = "suv"
	ClassLuxury RideClass = "luxury"
	ClassBike   RideClass = "bike"
)

func (c RideClass) Valid() bool {
	switch c {
	case ClassSedan, ClassSUV, ClassLuxury, ClassBike:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PayCash   PaymentMethod = "cash"
	PayCard   PaymentMethod = "card"
	PayWallet PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayCard, PayWallet:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type CancelInitiator string

const (
	CanceledByRider  CancelInitiator = "rider"
	CanceledByDriver CancelInitiator = "driver"
	CanceledBySystem CancelInitiator = "system"
)

// DefaultCancelReason is recorded when the caller gives none.
const DefaultCancelReason = "User canceled"

type Location struct {
	Coordinates geo.Point `json:"coordinates"`
	Address     string    `json:"address"`
}

type Timing struct {
	Requested time.Time  `json:"requested"`
	Accepted  *time.Time `json:"accepted,omitempty"`
	Arrived   *time.Time `json:"arrived,omitempty"`
	Started   *time.Time `json:"started,omitempty"`
	Completed *time.Time `json:"completed,omitempty"`
	Canceled  *time.Time `json:"canceled,omitempty"`
}

type Distance struct {
	Estimated float64 `json:"estimated"`
	Actual    float64 `json:"actual,omitempty"`
	Unit      string  `json:"unit"`
}

type Duration struct {
	Estimated int    `json:"estimated"`
	Actual    int    `json:"actual,omitempty"`
	Unit      string `json:"unit"`
}

type RatingEntry struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

type RideRatings struct {
	Driver *RatingEntry `json:"driver,omitempty"`
	Rider  *RatingEntry `json:"rider,omitempty"`
}

type Cancellation struct {
	Reason string          `json:"reason"`
	By     CancelInitiator `json:"by"`
	At     time.Time       `json:"at"`
}

type Ride struct {
	ID               string        `json:"rideId"`
	RiderID          string        `json:"riderId"`
	DriverID         string        `json:"driverId,omitempty"`
	Pickup           Location      `json:"pickupLocation"`
	Dropoff          Location      `json:"dropoffLocation"`
	Status           RideStatus    `json:"status"`
	Class            RideClass     `json:"rideType"`
	Fare             Fare          `json:"fare"`
	SurgeMultiplier  float64       `json:"surgeMultiplier"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	PaymentMethod    PaymentMethod `json:"paymentMethod"`
	PaymentRef       string        `json:"-"`
	Timing           Timing        `json:"timing"`
	Distance         Distance      `json:"distance"`
	Duration         Duration      `json:"duration"`
	DriverETAMinutes int           `json:"driverEtaMinutes,omitempty"`
	Route            []geo.Point   `json:"route"`
	Rating           RideRatings   `json:"rating"`
	Cancellation     *Cancellation `json:"cancellation,omitempty"`
	Version          int           `json:"-"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// NewRideID returns an id of the form RDXXXXXXXXX.
func NewRideID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "RD" + strings.ToUpper(hex[:9])
}

// NewRide builds a ride in the requested state with its estimates filled in.
// Fare is left to CalculateFare.
func NewRide(riderID string, pickup, dropoff Location, class RideClass, method PaymentMethod, now time.Time) *Ride {
	if method == "" {
		method = PayCash
	}
	km := geo.Distance(pickup.Coordinates, dropoff.Coordinates)
	return &Ride{
		ID:              NewRideID(),
		RiderID:         riderID,
		Pickup:          pickup,
		Dropoff:         dropoff,
		Status:          RideRequested,
		Class:           class,
		SurgeMultiplier: 1,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   method,
		Timing:          Timing{Requested: now},
		Distance:        Distance{Estimated: km, Unit: "km"},
		Duration:        Duration{Estimated: EstimateDuration(km), Unit: "minutes"},
		Route:           []geo.Point{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// EstimateDuration is the fixed three-minutes-per-kilometre heuristic.
func EstimateDuration(km float64) int {
	return int(math.Round(km * 3))
}

// CalculateFare prices the ride and stores the breakdown on it.
func (r *Ride) CalculateFare(distanceKm, durationMin, surge float64) Fare {
	if surge < 1 {
		surge = 1
	}
	r.SurgeMultiplier = surge
	r.Fare = CalculateFare(distanceKm, durationMin, surge)
	return r.Fare
}

func (r *Ride) AddRoutePoint(p geo.Point) {
	r.Route = append(r.Route, p)
}

// SetStatus moves the ride and stamps the matching timing slot.
// Callers check CanTransition first.
func (r *Ride) SetStatus(s RideStatus, at time.Time) {
	r.Status = s
	r.UpdatedAt = at
	t := at
	switch s {
	case RideAccepted:
		r.Timing.Accepted = &t
	case RideArrived:
		r.Timing.Arrived = &t
	case RideInProgress:
		r.Timing.Started = &t
	case RideCompleted:
		r.Timing.Completed = &t
	case RideCanceled:
		r.Timing.Canceled = &t
	}
}

// FinalizeCompletion derives actual distance from the recorded route and
// actual duration from the start and completion stamps.
func (r *Ride) FinalizeCompletion() {
	if len(r.Route) > 1 {
		var total float64
		for i := 1; i < len(r.Route); i++ {
			total += geo.Distance(r.Route[i-1], r.Route[i])
		}
		r.Distance.Actual = total
	}
	if r.Timing.Started != nil && r.Timing.Completed != nil {
		mins := r.Timing.Completed.Sub(*r.Timing.Started).Minutes()
		r.Duration.Actual = int(math.Round(mins))
	}
}

// BillableDistance prefers the measured distance over the estimate.
func (r *Ride) BillableDistance() float64 {
	if r.Distance.Actual > 0 {
		return r.Distance.Actual
	}
	return r.Distance.Estimated
}

func (r *Ride) BillableDuration() int {
	if r.Duration.Actual > 0 {
		return r.Duration.Actual
	}
	return r.Duration.Estimated
}

// Clone returns a deep copy safe to hand out of a store.
func (r *Ride) Clone() *Ride {
	cp := *r
	cp.Route = append([]geo.Point(nil), r.Route...)
	cp.Timing = Timing{Requested: r.Timing.Requested}
	cp.Timing.Accepted = cloneTime(r.Timing.Accepted)
	cp.Timing.Arrived = cloneTime(r.Timing.Arrived)
	cp.Timing.Started = cloneTime(r.Timing.Started)
	cp.Timing.Completed = cloneTime(r.Timing.Completed)
	cp.Timing.Canceled = cloneTime(r.Timing.Canceled)
	if r.Rating.Driver != nil {
		e := *r.Rating.Driver
		cp.Rating.Driver = &e
	}
	if r.Rating.Rider != nil {
		e := *r.Rating.Rider
		cp.Rating.Rider = &e
	}
	if r.Cancellation != nil {
		c := *r.Cancellation
		cp.Cancellation = &c
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
