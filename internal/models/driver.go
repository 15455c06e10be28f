package models

import (
	"time"

	"github.com/example/ride-companion/internal/geo"
)

type DriverStatus string

const (
	DriverOffline   DriverStatus = "offline"
	DriverAvailable DriverStatus = "available"
	DriverEngaged   DriverStatus = "engaged"
)

func (s DriverStatus) Valid() bool {
	switch s {
	case DriverOffline, DriverAvailable, DriverEngaged:
		return true
	}
	return false
}

type Vehicle struct {
	Type   RideClass `json:"type"`
	Model  string    `json:"model"`
	Number string    `json:"number"`
	Color  string    `json:"color,omitempty"`
}

type Document struct {
	Number     string     `json:"number,omitempty"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	Verified   bool       `json:"verified"`
}

type DriverDocuments struct {
	License             Document `json:"license"`
	Insurance           Document `json:"insurance"`
	VehicleRegistration Document `json:"vehicleRegistration"`
}

type Ratings struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type DriverStatistics struct {
	TotalRides     int     `json:"totalRides"`
	TotalEarnings  float64 `json:"totalEarnings"`
	TotalDistance  float64 `json:"totalDistance"`
	CompletionRate float64 `json:"completionRate"`
}

type ScheduleSlot struct {
	Day       string `json:"day"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type Availability struct {
	IsActive bool           `json:"isActive"`
	Schedule []ScheduleSlot `json:"schedule,omitempty"`
}

type Driver struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	Vehicle      Vehicle          `json:"vehicle"`
	Documents    DriverDocuments  `json:"documents"`
	Location     geo.Point        `json:"location"`
	Status       DriverStatus     `json:"status"`
	CurrentRide  string           `json:"currentRide,omitempty"`
	Ratings      Ratings          `json:"ratings"`
	Statistics   DriverStatistics `json:"statistics"`
	Availability Availability     `json:"availability"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// NewDriver returns a driver with the documented defaults: offline,
// inactive, completion rate 100.
func NewDriver(id, userID string, v Vehicle, at geo.Point) *Driver {
	now := time.Now().UTC()
	return &Driver{
		ID:         id,
		UserID:     userID,
		Vehicle:    v,
		Location:   at,
		Status:     DriverOffline,
		Statistics: DriverStatistics{CompletionRate: 100},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Matchable reports whether the driver can be offered a ride.
func (d *Driver) Matchable() bool {
	return d.Status == DriverAvailable && d.Availability.IsActive
}

// AddRating folds one rating into the running mean.
func (d *Driver) AddRating(rating float64) {
	total := d.Ratings.Average * float64(d.Ratings.Count)
	d.Ratings.Count++
	d.Ratings.Average = (total + rating) / float64(d.Ratings.Count)
}

func (d *Driver) AddTrip(fare, distanceKm float64) {
	d.Statistics.TotalRides++
	d.Statistics.TotalEarnings += fare
	d.Statistics.TotalDistance += distanceKm
}

// Engage links the driver to rideID. It fails unless the driver is matchable.
func (d *Driver) Engage(rideID string) bool {
	if !d.Matchable() {
		return false
	}
	d.Status = DriverEngaged
	d.CurrentRide = rideID
	return true
}

// Release frees the driver if it is still linked to rideID.
func (d *Driver) Release(rideID string) bool {
	if d.CurrentRide != rideID {
		return false
	}
	d.Status = DriverAvailable
	d.CurrentRide = ""
	return true
}

func (d *Driver) Clone() *Driver {
	cp := *d
	if d.Availability.Schedule != nil {
		cp.Availability.Schedule = append([]ScheduleSlot(nil), d.Availability.Schedule...)
	}
	return &cp
}
