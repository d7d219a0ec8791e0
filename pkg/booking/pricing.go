package booking

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"agrimarket/pkg/config"
	"agrimarket/pkg/fault"
)

// Rate is the tariff of one vehicle type.
type Rate struct {
	BaseFare   decimal.Decimal
	PerKm      decimal.Decimal
	PerKg      decimal.Decimal
	CapacityKg float64
}

// Pricing holds the fare table used for quotes.
type Pricing struct {
	MinimumFare decimal.Decimal
	Vehicles    map[VehicleType]Rate
}

// Quote is a priced trip that has not been booked.
type Quote struct {
	DistanceKm  float64         `json:"distance_km"`
	WeightKg    float64         `json:"weight_kg"`
	VehicleType VehicleType     `json:"vehicle_type"`
	Price       decimal.Decimal `json:"price"`
}

// PricingFromConfig parses the decimal strings of the pricing section.
func PricingFromConfig(cfg config.PricingConfig) (Pricing, error) {
	minimum, err := decimal.NewFromString(cfg.MinimumFare)
	if err != nil {
		return Pricing{}, fmt.Errorf("minimum fare: %w", err)
	}
	p := Pricing{MinimumFare: minimum, Vehicles: make(map[VehicleType]Rate, len(cfg.Vehicles))}
	for name, raw := range cfg.Vehicles {
		var r Rate
		if r.BaseFare, err = decimal.NewFromString(raw.BaseFare); err != nil {
			return Pricing{}, fmt.Errorf("%s base fare: %w", name, err)
		}
		if r.PerKm, err = decimal.NewFromString(raw.PerKm); err != nil {
			return Pricing{}, fmt.Errorf("%s per km: %w", name, err)
		}
		if r.PerKg, err = decimal.NewFromString(raw.PerKg); err != nil {
			return Pricing{}, fmt.Errorf("%s per kg: %w", name, err)
		}
		r.CapacityKg = raw.CapacityKg
		p.Vehicles[VehicleType(name)] = r
	}
	return p, nil
}

// Quote computes the fare for moving weightKg over distanceKm with the given vehicle.
func (p Pricing) Quote(distanceKm, weightKg float64, vehicle VehicleType) (decimal.Decimal, error) {
	rate, ok := p.Vehicles[vehicle]
	if !ok {
		return decimal.Zero, fault.Validation(fmt.Sprintf("unknown vehicle type %q", vehicle))
	}
	if !finite(distanceKm) || !finite(weightKg) {
		return decimal.Zero, fault.Validation("distance and weight must be finite numbers")
	}
	if distanceKm <= 0 {
		return decimal.Zero, fault.Validation("distance must be positive")
	}
	if weightKg <= 0 {
		return decimal.Zero, fault.Validation("weight must be positive")
	}
	if weightKg > rate.CapacityKg {
		return decimal.Zero, fault.Validation(fmt.Sprintf("%s carries at most %g kg", vehicle, rate.CapacityKg))
	}
	fare := rate.BaseFare.
		Add(rate.PerKm.Mul(decimal.NewFromFloat(distanceKm))).
		Add(rate.PerKg.Mul(decimal.NewFromFloat(weightKg)))
	if fare.LessThan(p.MinimumFare) {
		fare = p.MinimumFare
	}
	return fare.Round(2), nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
