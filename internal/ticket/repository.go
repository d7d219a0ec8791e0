package ticket

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"agrimarket/pkg/session"
	"agrimarket/pkg/storage/sqlstore"
	"agrimarket/pkg/ticket"
)

// Repository persists tickets and messages.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wires the database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type ticketRow struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	Subject       string    `db:"subject"`
	Category      string    `db:"category"`
	Status        string    `db:"status"`
	LastMessageAt time.Time `db:"last_message_at"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r ticketRow) model() ticket.Ticket {
	return ticket.Ticket{
		ID:            r.ID,
		UserID:        r.UserID,
		Subject:       r.Subject,
		Category:      r.Category,
		Status:        ticket.Status(r.Status),
		LastMessageAt: r.LastMessageAt.UTC(),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type messageRow struct {
	ID         string       `db:"id"`
	TicketID   string       `db:"ticket_id"`
	Seq        int64        `db:"seq"`
	ClientID   string       `db:"client_id"`
	SenderID   string       `db:"sender_id"`
	SenderRole string       `db:"sender_role"`
	Body       string       `db:"body"`
	CreatedAt  time.Time    `db:"created_at"`
	ReadAt     sql.NullTime `db:"read_at"`
}

func (r messageRow) model() ticket.Message {
	m := ticket.Message{
		ID:         r.ID,
		TicketID:   r.TicketID,
		Seq:        r.Seq,
		ClientID:   r.ClientID,
		SenderID:   r.SenderID,
		SenderRole: session.Role(r.SenderRole),
		Body:       r.Body,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.ReadAt.Valid {
		at := r.ReadAt.Time.UTC()
		m.ReadAt = &at
	}
	return m
}

const (
	ticketColumns  = "id, user_id, subject, category, status, last_message_at, created_at, updated_at"
	messageColumns = "id, ticket_id, seq, client_id, sender_id, sender_role, body, created_at, read_at"
)

// Create stores a ticket with its first message.
func (r *Repository) Create(ctx context.Context, t ticket.Ticket, first ticket.Message) (ticket.Message, error) {
	err := sqlstore.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := tx.Rebind("INSERT INTO tickets (" + ticketColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, t.ID, t.UserID, t.Subject, t.Category, string(t.Status),
			t.LastMessageAt.UTC(), t.CreatedAt.UTC(), t.UpdatedAt.UTC()); err != nil {
			return err
		}
		first.Seq = 1
		return insertMessage(ctx, tx, first)
	})
	return first, err
}

// Append assigns the next seq to m, stores it and refreshes the ticket.
func (r *Repository) Append(ctx context.Context, t ticket.Ticket, m ticket.Message) (ticket.Message, error) {
	err := sqlstore.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var last int64
		if err := tx.GetContext(ctx, &last, tx.Rebind("SELECT COALESCE(MAX(seq), 0) FROM ticket_messages WHERE ticket_id = ?"), t.ID); err != nil {
			return err
		}
		m.Seq = last + 1
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
		return updateTicket(ctx, tx, t)
	})
	return m, err
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, m ticket.Message) error {
	query := tx.Rebind("INSERT INTO ticket_messages (id, ticket_id, seq, client_id, sender_id, sender_role, body, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := tx.ExecContext(ctx, query, m.ID, m.TicketID, m.Seq, m.ClientID, m.SenderID, string(m.SenderRole), m.Body, m.CreatedAt.UTC())
	return err
}

func updateTicket(ctx context.Context, tx *sqlx.Tx, t ticket.Ticket) error {
	query := tx.Rebind("UPDATE tickets SET status = ?, last_message_at = ?, updated_at = ? WHERE id = ?")
	res, err := tx.ExecContext(ctx, query, string(t.Status), t.LastMessageAt.UTC(), t.UpdatedAt.UTC(), t.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ticket.ErrNotFound
	}
	return nil
}

// SetStatus writes the status of a ticket.
func (r *Repository) SetStatus(ctx context.Context, t ticket.Ticket) error {
	return sqlstore.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return updateTicket(ctx, tx, t)
	})
}

// Get loads one ticket.
func (r *Repository) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	var row ticketRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind("SELECT "+ticketColumns+" FROM tickets WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ticket.Ticket{}, ticket.ErrNotFound
		}
		return ticket.Ticket{}, err
	}
	return row.model(), nil
}

// List returns tickets of userID, or all tickets when userID is empty, most recently active first.
func (r *Repository) List(ctx context.Context, userID string) ([]ticket.Ticket, error) {
	var (
		rows  []ticketRow
		query = "SELECT " + ticketColumns + " FROM tickets"
		args  []any
	)
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY last_message_at DESC, id DESC"
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	tickets := make([]ticket.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.model())
	}
	return tickets, nil
}

// MessageByClientID finds a message previously posted with the same client id.
func (r *Repository) MessageByClientID(ctx context.Context, ticketID, clientID string) (ticket.Message, error) {
	var row messageRow
	query := r.db.Rebind("SELECT " + messageColumns + " FROM ticket_messages WHERE ticket_id = ? AND client_id = ?")
	if err := r.db.GetContext(ctx, &row, query, ticketID, clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ticket.Message{}, ticket.ErrMessageNotFound
		}
		return ticket.Message{}, err
	}
	return row.model(), nil
}

// Messages returns messages after afterSeq in seq order.
func (r *Repository) Messages(ctx context.Context, ticketID string, afterSeq int64) ([]ticket.Message, error) {
	var rows []messageRow
	query := r.db.Rebind("SELECT " + messageColumns + " FROM ticket_messages WHERE ticket_id = ? AND seq > ? ORDER BY seq")
	if err := r.db.SelectContext(ctx, &rows, query, ticketID, afterSeq); err != nil {
		return nil, err
	}
	messages := make([]ticket.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.model())
	}
	return messages, nil
}

// otherParty returns the predicate selecting messages the reader did not write.
// The owner reads everything support wrote; support reads what the owner wrote.
func otherParty(readerIsOwner bool) string {
	if readerIsOwner {
		return "sender_id <> ?"
	}
	return "sender_id = ?"
}

// MarkRead stamps unread messages from the other party up to upTo and returns their seqs.
func (r *Repository) MarkRead(ctx context.Context, t ticket.Ticket, readerIsOwner bool, upTo int64, at time.Time) ([]int64, error) {
	var seqs []int64
	err := sqlstore.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		where := "ticket_id = ? AND seq <= ? AND read_at IS NULL AND " + otherParty(readerIsOwner)
		if err := tx.SelectContext(ctx, &seqs, tx.Rebind("SELECT seq FROM ticket_messages WHERE "+where+" ORDER BY seq"), t.ID, upTo, t.UserID); err != nil {
			return err
		}
		if len(seqs) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, tx.Rebind("UPDATE ticket_messages SET read_at = ? WHERE "+where), at.UTC(), t.ID, upTo, t.UserID)
		return err
	})
	if seqs == nil {
		seqs = []int64{}
	}
	return seqs, err
}

// Unread counts messages from the other party that have no read stamp.
func (r *Repository) Unread(ctx context.Context, t ticket.Ticket, readerIsOwner bool) (int, error) {
	var n int
	query := r.db.Rebind("SELECT COUNT(*) FROM ticket_messages WHERE ticket_id = ? AND read_at IS NULL AND " + otherParty(readerIsOwner))
	err := r.db.GetContext(ctx, &n, query, t.ID, t.UserID)
	return n, err
}
