package models

import "math"

// Pricing policy. These are fixed; there is no per-city pricing table.
const (
	BaseFare      = 50.0
	PerKmRate     = 12.0
	PerMinuteRate = 2.0
	TaxRate       = 0.05
	FareCurrency  = "INR"
)

type Fare struct {
	Base     float64 `json:"base"`
	Distance float64 `json:"distance"`
	Time     float64 `json:"time"`
	Surge    float64 `json:"surge"`
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// CalculateFare returns the breakdown for a trip. Surge applies to the sum of
// base, distance and time components; tax applies on top of the subtotal and
// only the total is rounded.
func CalculateFare(distanceKm, durationMin, surge float64) Fare {
	distanceFare := distanceKm * PerKmRate
	timeFare := durationMin * PerMinuteRate
	surgeFare := (BaseFare + distanceFare + timeFare) * (surge - 1)
	subtotal := BaseFare + distanceFare + timeFare + surgeFare
	tax := subtotal * TaxRate
	return Fare{
		Base:     BaseFare,
		Distance: distanceFare,
		Time:     timeFare,
		Surge:    surgeFare,
		Subtotal: subtotal,
		Tax:      tax,
		Total:    math.Round(subtotal + tax),
		Currency: FareCurrency,
	}
}

// MinorUnits is the total in the currency's smallest unit (paise for INR).
func (f Fare) MinorUnits() int64 {
	return int64(math.Round(f.Total * 100))
}
