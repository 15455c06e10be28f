package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/ride-companion/internal/models"
	"github.com/example/ride-companion/internal/observability"
)

// UpdateRideStatus moves the ride along the lifecycle graph. Illegal edges
// fail with a *models.TransitionError and leave the ride untouched.
func (s *Service) UpdateRideStatus(ctx context.Context, rideID string, status models.RideStatus, actorID string) (*models.Ride, error) {
	return s.transition(ctx, rideID, status, actorID, "")
}

// CancelRide cancels with an explicit reason.
func (s *Service) CancelRide(ctx context.Context, rideID, actorID, reason string) (*models.Ride, error) {
	return s.transition(ctx, rideID, models.RideCanceled, actorID, reason)
}

func (s *Service) transition(ctx context.Context, rideID string, status models.RideStatus, actorID, reason string) (*models.Ride, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown ride status %q", models.ErrValidation, status)
	}
	unlock := s.locks.Lock(rideID)
	defer unlock()

	ride, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	from := ride.Status
	if !models.CanTransition(from, status) {
		return nil, &models.TransitionError{From: from, To: status}
	}

	next := ride.Clone()
	now := s.now()
	next.SetStatus(status, now)
	switch status {
	case models.RideCompleted:
		next.FinalizeCompletion()
		next.CalculateFare(next.BillableDistance(), float64(next.BillableDuration()), next.SurgeMultiplier)
	case models.RideCanceled:
		if strings.TrimSpace(reason) == "" {
			reason = models.DefaultCancelReason
		}
		next.Cancellation = &models.Cancellation{Reason: reason, By: s.cancelInitiator(ctx, ride, actorID), At: now}
	}

	if err := s.Rides.UpdateRide(ctx, next); err != nil {
		return nil, err
	}
	observability.RideTransitions.WithLabelValues(string(from), string(status)).Inc()
	s.log().Info("ride status changed", "ride_id", rideID, "from", from, "to", status, "actor", actorID)

	if status.Terminal() {
		s.settlePayment(ctx, next)
		if next.DriverID != "" {
			s.releaseDriver(ctx, next)
			s.forget(ctx, rideID)
		}
	}

	evType := models.EventStatusChanged
	switch status {
	case models.RideCompleted:
		evType = models.EventRideCompleted
	case models.RideCanceled:
		evType = models.EventRideCanceled
	}
	s.publish(ctx, s.rideEvent(evType, next, from))
	s.notifyParties(ctx, next, evType)
	return next, nil
}

// cancelInitiator attributes a cancellation to the rider, the assigned
// driver, or the system for anyone else.
func (s *Service) cancelInitiator(ctx context.Context, r *models.Ride, actorID string) models.CancelInitiator {
	switch {
	case actorID != "" && actorID == r.RiderID:
		return models.CanceledByRider
	case s.isDriverActor(ctx, r, actorID):
		return models.CanceledByDriver
	default:
		return models.CanceledBySystem
	}
}

// settlePayment captures or releases the card hold once the ride is terminal
// and persists the resulting payment status. Cash is settled on completion;
// wallet rides are settled by the wallet service and stay pending here.
func (s *Service) settlePayment(ctx context.Context, r *models.Ride) {
	if r.PaymentStatus != models.PaymentPending {
		return
	}
	next := r.PaymentStatus
	switch r.PaymentMethod {
	case models.PayCash:
		if r.Status == models.RideCompleted {
			next = models.PaymentCompleted
		}
	case models.PayCard:
		next = s.settleCard(ctx, r)
	}
	if next == r.PaymentStatus {
		return
	}
	r.PaymentStatus = next
	if err := s.Rides.UpdateRide(ctx, r); err != nil {
		s.log().Error("persist payment status failed", "ride_id", r.ID, "payment_status", next, "err", err)
	}
}

func (s *Service) settleCard(ctx context.Context, r *models.Ride) models.PaymentStatus {
	if r.PaymentRef == "" || s.Payments == nil {
		return models.PaymentFailed
	}
	if r.Status == models.RideCompleted {
		if err := s.Payments.Capture(ctx, r.PaymentRef, r.Fare.MinorUnits()); err != nil {
			observability.PaymentErrors.WithLabelValues("capture").Inc()
			s.log().Error("capture failed", "ride_id", r.ID, "hold", r.PaymentRef, "err", err)
			return models.PaymentFailed
		}
		return models.PaymentCompleted
	}
	if err := s.Payments.Cancel(ctx, r.PaymentRef); err != nil {
		observability.PaymentErrors.WithLabelValues("cancel").Inc()
		s.log().Error("release hold failed", "ride_id", r.ID, "hold", r.PaymentRef, "err", err)
		return models.PaymentFailed
	}
	return models.PaymentRefunded
}

// releaseDriver frees the assigned driver and, on completion, books the trip
// into the driver's statistics. The ride is already terminal at this point,
// so failures are logged rather than returned.
func (s *Service) releaseDriver(ctx context.Context, r *models.Ride) {
	if r.DriverID == "" {
		return
	}
	if r.Status == models.RideCompleted {
		if err := s.Drivers.UpdateStatistics(ctx, r.DriverID, r.Fare.Total, r.BillableDistance()); err != nil {
			s.log().Error("driver statistics update failed", "ride_id", r.ID, "driver_id", r.DriverID, "err", err)
		}
	}
	if err := s.Drivers.Release(ctx, r.DriverID, r.ID); err != nil {
		s.log().Error("driver release failed", "ride_id", r.ID, "driver_id", r.DriverID, "err", err)
	}
}

var statusMessages = map[models.RideStatus]string{
	models.RideArrived:    "Your driver has arrived",
	models.RideInProgress: "Your ride has started",
	models.RideCompleted:  "Your ride is complete",
	models.RideCanceled:   "Your ride was canceled",
}

func (s *Service) notifyParties(ctx context.Context, r *models.Ride, t models.EventType) {
	msg, ok := statusMessages[r.Status]
	if !ok {
		msg = "Ride status: " + string(r.Status)
	}
	n := models.Notification{
		Type:      t,
		Title:     "Ride update",
		Message:   msg,
		Priority:  "normal",
		Reference: r.ID,
		Data:      map[string]any{"status": string(r.Status)},
	}
	if r.Status == models.RideCompleted {
		n.Data["fare"] = r.Fare.Total
	}
	if r.Cancellation != nil {
		n.Priority = "high"
		n.Data["reason"] = r.Cancellation.Reason
		n.Data["by"] = string(r.Cancellation.By)
	}
	s.notify(ctx, r.RiderID, n)
	s.notify(ctx, s.driverUser(ctx, r), n)
}
