package models

import (
	"strings"
)

const MaxFeedbackLen = 500

func ValidateLocation(field string, l Location) error {
	if !l.Coordinates.Valid() {
		return validationf("%s: invalid coordinates format", field)
	}
	if strings.TrimSpace(l.Address) == "" {
		return validationf("%s: address is required", field)
	}
	return nil
}

func ValidateRideRequest(riderID string, pickup, dropoff Location, class RideClass, method PaymentMethod) error {
	if riderID == "" {
		return validationf("rider id is required")
	}
	if err := ValidateLocation("pickupLocation", pickup); err != nil {
		return err
	}
	if err := ValidateLocation("dropoffLocation", dropoff); err != nil {
		return err
	}
	if !class.Valid() {
		return validationf("invalid ride type %q", class)
	}
	if method != "" && !method.Valid() {
		return validationf("invalid payment method %q", method)
	}
	return nil
}

func ValidateRating(rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return validationf("rating must be between 1 and 5")
	}
	if len(feedback) > MaxFeedbackLen {
		return validationf("feedback must not exceed %d characters", MaxFeedbackLen)
	}
	return nil
}
