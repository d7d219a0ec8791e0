package bid

import (
	"time"

	"github.com/shopspring/decimal"

	"agrimarket/pkg/fault"
)

// Status of an auction.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Bid is a crop auction listing.
type Bid struct {
	ID               string          `json:"id"`
	FarmerID         string          `json:"farmer_id"`
	CropID           string          `json:"crop_id,omitempty"`
	CropName         string          `json:"crop_name"`
	QuantityKg       float64         `json:"quantity_kg"`
	StartingPrice    decimal.Decimal `json:"starting_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	HighestBidderID  string          `json:"highest_bidder_id,omitempty"`
	OfferCount       int             `json:"offer_count"`
	EndTime          time.Time       `json:"end_time"`
	Status           Status          `json:"status"`
	WinnerID         string          `json:"winner_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	RemainingSeconds int64           `json:"remaining_seconds"`
}

// Remaining is the countdown to EndTime in whole seconds, never negative.
func (b Bid) Remaining(now time.Time) int64 {
	if b.Status != StatusOpen {
		return 0
	}
	left := b.EndTime.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// Offer is one buyer's price on a bid.
type Offer struct {
	ID        string          `json:"id"`
	BidID     string          `json:"bid_id"`
	BuyerID   string          `json:"buyer_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Listing is the farmer input for a new auction.
type Listing struct {
	CropID        string          `json:"crop_id"`
	CropName      string          `json:"crop_name"`
	QuantityKg    float64         `json:"quantity_kg"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	EndTime       time.Time       `json:"end_time"`
}

// Filter narrows List results.
type Filter struct {
	Status   Status
	FarmerID string
}

var (
	ErrNotFound     = fault.NotFound("bid not found")
	ErrForbidden    = fault.Forbidden("bid belongs to another farmer")
	ErrAuctionEnded = fault.Conflict("auction has ended")
	ErrBidTooLow    = fault.Conflict("offer is below the minimum acceptable amount")
	ErrHasOffers    = fault.Conflict("bid already has offers")
)
