package ticket

import (
	"time"

	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
)

// Status of a support ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Ticket is a conversation between a user and the support desk.
type Ticket struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Subject       string    `json:"subject"`
	Category      string    `json:"category,omitempty"`
	Status        Status    `json:"status"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is one chat line. Seq starts at 1 for every ticket.
type Message struct {
	ID         string       `json:"id"`
	TicketID   string       `json:"ticket_id"`
	Seq        int64        `json:"seq"`
	ClientID   string       `json:"client_id,omitempty"`
	SenderID   string       `json:"sender_id"`
	SenderRole session.Role `json:"sender_role"`
	Body       string       `json:"body"`
	CreatedAt  time.Time    `json:"created_at"`
	ReadAt     *time.Time   `json:"read_at,omitempty"`
}

// Receipt reports which messages a reader just marked as read.
type Receipt struct {
	TicketID string    `json:"ticket_id"`
	ReaderID string    `json:"reader_id"`
	UpTo     int64     `json:"up_to"`
	Seqs     []int64   `json:"seqs"`
	ReadAt   time.Time `json:"read_at"`
}

// Event types pushed to live subscribers.
const (
	EventMessage = "message"
	EventRead    = "read"
	EventStatus  = "status"
)

// Event is what the hub fans out to every subscriber of a ticket.
type Event struct {
	Type     string   `json:"type"`
	TicketID string   `json:"ticket_id"`
	Message  *Message `json:"message,omitempty"`
	Receipt  *Receipt `json:"receipt,omitempty"`
	Status   Status   `json:"status,omitempty"`
}

var (
	ErrNotFound        = fault.NotFound("ticket not found")
	ErrMessageNotFound = fault.NotFound("message not found")
	ErrClosed          = fault.Conflict("ticket is closed")
	ErrForbidden       = fault.Forbidden("not allowed to change this ticket")
)
