package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimarket/pkg/actor"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
	"agrimarket/pkg/storage/sqlstore"
)

// Repository persists tickets and their messages.
type Repository interface {
	Create(ctx context.Context, t Ticket, first Message) (Message, error)
	Get(ctx context.Context, id string) (Ticket, error)
	List(ctx context.Context, userID string) ([]Ticket, error)
	Append(ctx context.Context, t Ticket, m Message) (Message, error)
	MessageByClientID(ctx context.Context, ticketID, clientID string) (Message, error)
	Messages(ctx context.Context, ticketID string, afterSeq int64) ([]Message, error)
	MarkRead(ctx context.Context, t Ticket, readerIsOwner bool, upTo int64, at time.Time) ([]int64, error)
	Unread(ctx context.Context, t Ticket, readerIsOwner bool) (int, error)
	SetStatus(ctx context.Context, t Ticket) error
}

// Publisher receives every change so live clients can follow a ticket.
type Publisher interface {
	Publish(ticketID string, ev Event)
}

// Service runs the support desk. Writes to a ticket are applied one at a time so seq numbers never collide.
type Service struct {
	repo Repository
	pub  Publisher
	loop *actor.Actor
	lggr *zap.SugaredLogger
	now  func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the repository and the live event publisher.
func NewService(repo Repository, pub Publisher, lggr *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		pub:  pub,
		loop: actor.New(),
		lggr: lggr.Named("ticket"),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops the background goroutine.
func (s *Service) Close() {
	s.loop.Close()
}

// Open starts a ticket with its first message.
func (s *Service) Open(ctx context.Context, who session.Actor, subject, category, body string) (Ticket, error) {
	if who.Role.Staff() {
		return Ticket{}, fault.Forbidden("support staff cannot open tickets")
	}
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" {
		return Ticket{}, fault.Validation("subject is required")
	}
	if body == "" {
		return Ticket{}, fault.Validation("message is required")
	}

	return actor.Do(ctx, s.loop, func(ctx context.Context) (Ticket, error) {
		now := s.now()
		t := Ticket{
			ID:            sqlstore.NewID("tkt"),
			UserID:        who.ID,
			Subject:       subject,
			Category:      strings.TrimSpace(category),
			Status:        StatusOpen,
			LastMessageAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		first := Message{ID: sqlstore.NewID("msg"), TicketID: t.ID, SenderID: who.ID, SenderRole: who.Role, Body: body, CreatedAt: now}
		if _, err := s.repo.Create(ctx, t, first); err != nil {
			return Ticket{}, fmt.Errorf("create ticket: %w", err)
		}
		s.lggr.Infow("ticket opened", "id", t.ID, "user", who.ID, "category", t.Category)
		return t, nil
	})
}

// List returns the caller's tickets, or every ticket for staff.
func (s *Service) List(ctx context.Context, who session.Actor) ([]Ticket, error) {
	if who.Role.Staff() {
		return s.repo.List(ctx, "")
	}
	return s.repo.List(ctx, who.ID)
}

// Get returns a ticket visible to the caller.
func (s *Service) Get(ctx context.Context, who session.Actor, id string) (Ticket, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if t.UserID != who.ID && !who.Role.Staff() {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

// Post appends a message. Re-sending the same client id returns the stored message.
func (s *Service) Post(ctx context.Context, who session.Actor, ticketID, clientID, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, fault.Validation("message is required")
	}
	if clientID != "" {
		id, err := uuid.Parse(clientID)
		if err != nil {
			return Message{}, fault.Validation("client_id must be a UUID")
		}
		clientID = id.String()
	}

	return actor.Do(ctx, s.loop, func(ctx context.Context) (Message, error) {
		t, err := s.Get(ctx, who, ticketID)
		if err != nil {
			return Message{}, err
		}
		if clientID != "" {
			existing, err := s.repo.MessageByClientID(ctx, t.ID, clientID)
			if err == nil {
				return existing, nil
			}
			if !errors.Is(err, ErrMessageNotFound) {
				return Message{}, err
			}
		}
		if t.Status == StatusClosed {
			return Message{}, ErrClosed
		}

		now := s.now()
		before := t.Status
		switch {
		case t.UserID == who.ID && t.Status == StatusResolved:
			t.Status = StatusOpen
		case who.Role.Staff() && t.Status == StatusOpen:
			t.Status = StatusInProgress
		}
		t.LastMessageAt = now
		t.UpdatedAt = now
		m := Message{
			ID:         sqlstore.NewID("msg"),
			TicketID:   t.ID,
			ClientID:   clientID,
			SenderID:   who.ID,
			SenderRole: who.Role,
			Body:       body,
			CreatedAt:  now,
		}
		m, err = s.repo.Append(ctx, t, m)
		if err != nil {
			return Message{}, fmt.Errorf("append message: %w", err)
		}

		msg := m
		s.pub.Publish(t.ID, Event{Type: EventMessage, TicketID: t.ID, Message: &msg})
		if t.Status != before {
			s.pub.Publish(t.ID, Event{Type: EventStatus, TicketID: t.ID, Status: t.Status})
			s.lggr.Infow("ticket status changed", "id", t.ID, "from", before, "to", t.Status)
		}
		return m, nil
	})
}

// Messages returns messages with seq greater than afterSeq.
func (s *Service) Messages(ctx context.Context, who session.Actor, ticketID string, afterSeq int64) ([]Message, error) {
	if afterSeq < 0 {
		return nil, fault.Validation("after must not be negative")
	}
	if _, err := s.Get(ctx, who, ticketID); err != nil {
		return nil, err
	}
	return s.repo.Messages(ctx, ticketID, afterSeq)
}

// MarkRead marks the other party's messages up to upToSeq as read by the caller.
func (s *Service) MarkRead(ctx context.Context, who session.Actor, ticketID string, upToSeq int64) (Receipt, error) {
	if upToSeq <= 0 {
		return Receipt{}, fault.Validation("up_to must be positive")
	}
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Receipt, error) {
		t, err := s.Get(ctx, who, ticketID)
		if err != nil {
			return Receipt{}, err
		}
		now := s.now()
		seqs, err := s.repo.MarkRead(ctx, t, t.UserID == who.ID, upToSeq, now)
		if err != nil {
			return Receipt{}, fmt.Errorf("mark read: %w", err)
		}
		r := Receipt{TicketID: t.ID, ReaderID: who.ID, UpTo: upToSeq, Seqs: seqs, ReadAt: now}
		if len(seqs) > 0 {
			receipt := r
			s.pub.Publish(t.ID, Event{Type: EventRead, TicketID: t.ID, Receipt: &receipt})
		}
		return r, nil
	})
}

// Unread counts the other party's messages the caller has not read.
func (s *Service) Unread(ctx context.Context, who session.Actor, ticketID string) (int, error) {
	t, err := s.Get(ctx, who, ticketID)
	if err != nil {
		return 0, err
	}
	return s.repo.Unread(ctx, t, t.UserID == who.ID)
}

// SetStatus moves a ticket through the desk workflow. Owners may only close their own tickets.
func (s *Service) SetStatus(ctx context.Context, who session.Actor, ticketID string, status Status) (Ticket, error) {
	if !status.Valid() || status == StatusOpen {
		return Ticket{}, fault.Validation(fmt.Sprintf("status must be in_progress, resolved or closed, got %q", status))
	}
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Ticket, error) {
		t, err := s.Get(ctx, who, ticketID)
		if err != nil {
			return Ticket{}, err
		}
		if !who.Role.Staff() && status != StatusClosed {
			return Ticket{}, ErrForbidden
		}
		if t.Status == StatusClosed {
			return Ticket{}, ErrClosed
		}
		if t.Status == status {
			return t, nil
		}
		from := t.Status
		t.Status = status
		t.UpdatedAt = s.now()
		if err := s.repo.SetStatus(ctx, t); err != nil {
			return Ticket{}, fmt.Errorf("set status: %w", err)
		}
		s.pub.Publish(t.ID, Event{Type: EventStatus, TicketID: t.ID, Status: t.Status})
		s.lggr.Infow("ticket status changed", "id", t.ID, "from", from, "to", t.Status, "by", who.ID)
		return t, nil
	})
}
