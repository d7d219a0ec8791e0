package crop

import (
	"time"

	"github.com/shopspring/decimal"

	"agrimarket/pkg/fault"
)

// Crop is a harvest a farmer lists for sale.
type Crop struct {
	ID          string          `json:"id"`
	FarmerID    string          `json:"farmer_id"`
	Name        string          `json:"name"`
	Variety     string          `json:"variety,omitempty"`
	QuantityKg  float64         `json:"quantity_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	Location    string          `json:"location,omitempty"`
	HarvestedAt *time.Time      `json:"harvested_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Listing is the farmer input for a new crop.
type Listing struct {
	Name        string          `json:"name"`
	Variety     string          `json:"variety"`
	QuantityKg  float64         `json:"quantity_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	Location    string          `json:"location"`
	HarvestedAt *time.Time      `json:"harvested_at"`
}

// Change holds the fields an owner may edit after listing.
type Change struct {
	QuantityKg  float64         `json:"quantity_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	HarvestedAt *time.Time      `json:"harvested_at"`
}

// Filter narrows List results.
type Filter struct {
	FarmerID string
	Name     string
}

var (
	// ErrNotFound is returned when a crop is missing.
	ErrNotFound  = fault.NotFound("crop not found")
	ErrForbidden = fault.Forbidden("crop belongs to another farmer")
)
