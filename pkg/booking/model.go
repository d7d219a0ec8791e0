package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a step of the delivery lifecycle.
type Status string

const (
	StatusOrderPlaced    Status = "order_placed"
	StatusOrderAccepted  Status = "order_accepted"
	StatusPickupStarted  Status = "pickup_started"
	StatusOrderPickedUp  Status = "order_picked_up"
	StatusInTransit      Status = "in_transit"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Sequence is the fixed order a delivery moves through.
var Sequence = []Status{
	StatusOrderPlaced,
	StatusOrderAccepted,
	StatusPickupStarted,
	StatusOrderPickedUp,
	StatusInTransit,
	StatusDelivered,
}

var labels = map[Status]string{
	StatusOrderPlaced:   "Order placed",
	StatusOrderAccepted: "Order accepted",
	StatusPickupStarted: "Pickup started",
	StatusOrderPickedUp: "Order picked up",
	StatusInTransit:     "In transit",
	StatusDelivered:     "Delivered",
	StatusCancelled:     "Cancelled",
}

// Label is the human readable step name.
func (s Status) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := labels[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// VehicleType is the kind of vehicle a farmer books.
type VehicleType string

const (
	VehicleMiniTruck      VehicleType = "mini_truck"
	VehiclePickup         VehicleType = "pickup"
	VehicleTruck          VehicleType = "truck"
	VehicleTractorTrolley VehicleType = "tractor_trolley"
)

// Booking is a transport request from a farmer, fulfilled by one transporter.
type Booking struct {
	ID                      string          `json:"id"`
	FarmerID                string          `json:"farmer_id"`
	TransporterID           string          `json:"transporter_id,omitempty"`
	CropName                string          `json:"crop_name"`
	WeightKg                float64         `json:"weight_kg"`
	VehicleType             VehicleType     `json:"vehicle_type"`
	PickupAddress           string          `json:"pickup_address"`
	DropAddress             string          `json:"drop_address"`
	DistanceKm              float64         `json:"distance_km"`
	PickupDate              time.Time       `json:"pickup_date"`
	Price                   decimal.Decimal `json:"price"`
	Status                  Status          `json:"status"`
	CancellationRequested   bool            `json:"cancellation_requested"`
	CancellationReason      string          `json:"cancellation_reason,omitempty"`
	CancellationRequestedBy string          `json:"cancellation_requested_by,omitempty"`
	OverdueAt               *time.Time      `json:"overdue_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// IsOverdue reports whether the pickup day has passed while the goods are still waiting.
func (b Booking) IsOverdue(now time.Time) bool {
	if b.Status != StatusOrderPlaced && b.Status != StatusOrderAccepted {
		return false
	}
	return b.PickupDate.Before(startOfDay(now))
}

// Request is what a farmer submits to book transport.
type Request struct {
	CropName      string      `json:"crop_name"`
	WeightKg      float64     `json:"weight_kg"`
	VehicleType   VehicleType `json:"vehicle_type"`
	PickupAddress string      `json:"pickup_address"`
	DropAddress   string      `json:"drop_address"`
	DistanceKm    float64     `json:"distance_km"`
	PickupDate    time.Time   `json:"pickup_date"`
}

// Event actions recorded in the audit trail.
const (
	ActionCreated               = "created"
	ActionAdvanced              = "advanced"
	ActionCancellationRequested = "cancellation_requested"
	ActionCancellationApproved  = "cancellation_approved"
	ActionCancellationRejected  = "cancellation_rejected"
	ActionCancelled             = "cancelled"
	ActionRescheduled           = "rescheduled"
	ActionOverdue               = "overdue"
)

// Event is one audit row of a booking.
type Event struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"booking_id"`
	Seq        int64     `json:"seq"`
	Action     string    `json:"action"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

// StepState tells a client how to draw a tracking step.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepUpcoming  StepState = "upcoming"
	StepCancelled StepState = "cancelled"
)

// TrackingStep is one named stage of the delivery sequence.
type TrackingStep struct {
	Status    Status     `json:"status"`
	Label     string     `json:"label"`
	State     StepState  `json:"state"`
	ReachedAt *time.Time `json:"reached_at,omitempty"`
}

// Tracking is the progress view of a booking.
type Tracking struct {
	BookingID             string         `json:"booking_id"`
	Status                Status         `json:"status"`
	CancellationRequested bool           `json:"cancellation_requested"`
	Steps                 []TrackingStep `json:"steps"`
}

// Filter narrows List results.
type Filter struct {
	Status Status
	Open   bool
}

// Query is the repository side of a listing.
type Query struct {
	FarmerID      string
	TransporterID string
	Unassigned    bool
	Status        Status
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
