package models

import (
	"time"

	"github.com/example/ride-companion/internal/geo"
)

type EventType string

const (
	EventRideRequested  EventType = "ride.requested"
	EventDriverAssigned EventType = "ride.driver_assigned"
	EventStatusChanged  EventType = "ride.status_changed"
	EventRideCompleted  EventType = "ride.completed"
	EventRideCanceled   EventType = "ride.canceled"
	EventRideRated      EventType = "ride.rated"
)

// RideEvent is published to the event bus on every lifecycle change.
type RideEvent struct {
	Type     EventType  `json:"type"`
	RideID   string     `json:"rideId"`
	RiderID  string     `json:"riderId"`
	DriverID string     `json:"driverId,omitempty"`
	From     RideStatus `json:"from,omitempty"`
	Status   RideStatus `json:"status"`
	Fare     float64    `json:"fare,omitempty"`
	At       time.Time  `json:"at"`
}

// Notification is the payload handed to the notification sender.
type Notification struct {
	Type      EventType      `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Priority  string         `json:"priority"`
	Reference string         `json:"reference,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// DriverLocation is the ingest message for a driver position update.
type DriverLocation struct {
	DriverID    string    `json:"driverId"`
	Coordinates geo.Point `json:"coordinates"`
	At          time.Time `json:"at"`
}
