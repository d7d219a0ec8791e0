package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agrimarket/pkg/actor"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
	"agrimarket/pkg/storage/sqlstore"
)

// Repository persists bookings together with their audit trail.
type Repository interface {
	Create(ctx context.Context, b Booking, ev Event) error
	Save(ctx context.Context, b Booking, ev Event) error
	Get(ctx context.Context, id string) (Booking, error)
	List(ctx context.Context, q Query) ([]Booking, error)
	Events(ctx context.Context, bookingID string) ([]Event, error)
	DueForOverdue(ctx context.Context, before time.Time) ([]Booking, error)
}

// Service owns every booking state change. Mutations run on one goroutine.
type Service struct {
	repo    Repository
	pricing Pricing
	loop    *actor.Actor
	lggr    *zap.SugaredLogger
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService starts the goroutine that serialises status transitions.
func NewService(repo Repository, pricing Pricing, lggr *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		pricing: pricing,
		loop:    actor.New(),
		lggr:    lggr.Named("booking"),
		now:     func() time.Time { return time.Now().UTC() },
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

// Quote prices a trip without booking it.
func (s *Service) Quote(distanceKm, weightKg float64, vehicle VehicleType) (Quote, error) {
	price, err := s.pricing.Quote(distanceKm, weightKg, vehicle)
	if err != nil {
		return Quote{}, err
	}
	return Quote{DistanceKm: distanceKm, WeightKg: weightKg, VehicleType: vehicle, Price: price}, nil
}

// Create books transport for a farmer.
func (s *Service) Create(ctx context.Context, who session.Actor, req Request) (Booking, error) {
	if who.Role != session.RoleFarmer {
		return Booking{}, fault.Forbidden("only farmers can book transport")
	}
	req.CropName = strings.TrimSpace(req.CropName)
	req.PickupAddress = strings.TrimSpace(req.PickupAddress)
	req.DropAddress = strings.TrimSpace(req.DropAddress)
	switch {
	case req.CropName == "":
		return Booking{}, fault.Validation("crop name is required")
	case req.PickupAddress == "":
		return Booking{}, fault.Validation("pickup address is required")
	case req.DropAddress == "":
		return Booking{}, fault.Validation("drop address is required")
	case req.PickupDate.IsZero():
		return Booking{}, fault.Validation("pickup date is required")
	}
	price, err := s.pricing.Quote(req.DistanceKm, req.WeightKg, req.VehicleType)
	if err != nil {
		return Booking{}, err
	}

	return actor.Do(ctx, s.loop, func(ctx context.Context) (Booking, error) {
		now := s.now()
		pickup := startOfDay(req.PickupDate)
		if pickup.Before(startOfDay(now)) {
			return Booking{}, fault.Validation("pickup date cannot be in the past")
		}
		b := Booking{
			ID:            sqlstore.NewID("bkg"),
			FarmerID:      who.ID,
			CropName:      req.CropName,
			WeightKg:      req.WeightKg,
			VehicleType:   req.VehicleType,
			PickupAddress: req.PickupAddress,
			DropAddress:   req.DropAddress,
			DistanceKm:    req.DistanceKm,
			PickupDate:    pickup,
			Price:         price,
			Status:        StatusOrderPlaced,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		ev := s.event(b, ActionCreated, "", StatusOrderPlaced, who.ID, "")
		if err := s.repo.Create(ctx, b, ev); err != nil {
			return Booking{}, fmt.Errorf("create booking: %w", err)
		}
		s.lggr.Infow("booking created", "id", b.ID, "farmer", b.FarmerID, "price", b.Price.StringFixed(2))
		return b, nil
	})
}

// Get returns a booking the caller is allowed to see.
func (s *Service) Get(ctx context.Context, who session.Actor, id string) (Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if !canView(who, b) {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

// List returns the bookings visible to the caller, newest first.
func (s *Service) List(ctx context.Context, who session.Actor, f Filter) ([]Booking, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fault.Validation(fmt.Sprintf("unknown status %q", f.Status))
	}
	q := Query{Status: f.Status}
	switch who.Role {
	case session.RoleFarmer:
		q.FarmerID = who.ID
	case session.RoleTransporter:
		if f.Open {
			q.Unassigned = true
			q.Status = StatusOrderPlaced
		} else {
			q.TransporterID = who.ID
		}
	case session.RoleAdmin, session.RoleSupport:
	default:
		return nil, fault.Forbidden("bookings are not available for this role")
	}
	return s.repo.List(ctx, q)
}

// Advance moves a booking to the next step of the delivery sequence.
func (s *Service) Advance(ctx context.Context, who session.Actor, id string, target Status) (Booking, error) {
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Booking, error) {
		b, err := s.Get(ctx, who, id)
		if err != nil {
			return Booking{}, err
		}
		if b.Status.Terminal() || !CanTransition(b.Status, target) {
			s.lggr.Warnw("transition rejected", "id", b.ID, "from", b.Status, "to", target)
			return Booking{}, ErrInvalidTransition
		}
		if b.Status == StatusOrderPlaced {
			if who.Role != session.RoleTransporter {
				return Booking{}, fault.Forbidden("only transporters can accept bookings")
			}
			b.TransporterID = who.ID
		} else if !s.isCarrier(who, b) {
			return Booking{}, ErrForbidden
		}
		if b.CancellationRequested {
			return Booking{}, ErrCancellationPending
		}

		from := b.Status
		b.Status = target
		if target == StatusPickupStarted {
			b.OverdueAt = nil
		}
		b.UpdatedAt = s.now()
		if err := s.repo.Save(ctx, b, s.event(b, ActionAdvanced, from, target, who.ID, "")); err != nil {
			return Booking{}, fmt.Errorf("save booking: %w", err)
		}
		s.lggr.Infow("booking advanced", "id", b.ID, "from", from, "to", target, "by", who.ID)
		return b, nil
	})
}

// RequestCancellation lets the farmer withdraw a booking. Without a transporter it is cancelled at once.
func (s *Service) RequestCancellation(ctx context.Context, who session.Actor, id, reason string) (Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Booking{}, fault.Validation("cancellation reason is required")
	}
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Booking, error) {
		b, err := s.Get(ctx, who, id)
		if err != nil {
			return Booking{}, err
		}
		if b.FarmerID != who.ID {
			return Booking{}, ErrForbidden
		}
		if !CanCancel(b.Status) {
			return Booking{}, ErrCancellationNotAllowed
		}
		if b.CancellationRequested {
			return Booking{}, ErrCancellationPending
		}

		from := b.Status
		b.UpdatedAt = s.now()
		b.CancellationReason = reason
		b.CancellationRequestedBy = who.ID
		var ev Event
		if b.Status == StatusOrderPlaced && b.TransporterID == "" {
			b.Status = StatusCancelled
			ev = s.event(b, ActionCancelled, from, StatusCancelled, who.ID, reason)
		} else {
			b.CancellationRequested = true
			ev = s.event(b, ActionCancellationRequested, from, from, who.ID, reason)
		}
		if err := s.repo.Save(ctx, b, ev); err != nil {
			return Booking{}, fmt.Errorf("save booking: %w", err)
		}
		s.lggr.Infow("cancellation requested", "id", b.ID, "status", b.Status, "immediate", b.Status == StatusCancelled)
		return b, nil
	})
}

// ResolveCancellation approves or rejects an open cancellation request.
func (s *Service) ResolveCancellation(ctx context.Context, who session.Actor, id string, approve bool, note string) (Booking, error) {
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Booking, error) {
		b, err := s.Get(ctx, who, id)
		if err != nil {
			return Booking{}, err
		}
		if !s.isCarrier(who, b) && who.Role != session.RoleSupport {
			return Booking{}, ErrForbidden
		}
		if !b.CancellationRequested {
			return Booking{}, ErrNoCancellationRequest
		}

		from := b.Status
		b.CancellationRequested = false
		b.UpdatedAt = s.now()
		var ev Event
		if approve {
			b.Status = StatusCancelled
			ev = s.event(b, ActionCancellationApproved, from, StatusCancelled, who.ID, strings.TrimSpace(note))
		} else {
			ev = s.event(b, ActionCancellationRejected, from, from, who.ID, strings.TrimSpace(note))
		}
		if err := s.repo.Save(ctx, b, ev); err != nil {
			return Booking{}, fmt.Errorf("save booking: %w", err)
		}
		s.lggr.Infow("cancellation resolved", "id", b.ID, "approved", approve, "by", who.ID)
		return b, nil
	})
}

// Reschedule moves the pickup date of a booking that has not been picked up yet.
func (s *Service) Reschedule(ctx context.Context, who session.Actor, id string, date time.Time) (Booking, error) {
	if date.IsZero() {
		return Booking{}, fault.Validation("pickup date is required")
	}
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Booking, error) {
		b, err := s.Get(ctx, who, id)
		if err != nil {
			return Booking{}, err
		}
		if b.FarmerID != who.ID {
			return Booking{}, ErrForbidden
		}
		if !CanReschedule(b.Status) {
			return Booking{}, ErrRescheduleNotAllowed
		}
		if b.CancellationRequested {
			return Booking{}, ErrCancellationPending
		}
		now := s.now()
		pickup := startOfDay(date)
		if pickup.Before(startOfDay(now)) {
			return Booking{}, fault.Validation("pickup date cannot be in the past")
		}

		note := fmt.Sprintf("%s -> %s", b.PickupDate.Format(time.DateOnly), pickup.Format(time.DateOnly))
		b.PickupDate = pickup
		b.OverdueAt = nil
		b.UpdatedAt = now
		if err := s.repo.Save(ctx, b, s.event(b, ActionRescheduled, b.Status, b.Status, who.ID, note)); err != nil {
			return Booking{}, fmt.Errorf("save booking: %w", err)
		}
		s.lggr.Infow("booking rescheduled", "id", b.ID, "pickup_date", pickup.Format(time.DateOnly))
		return b, nil
	})
}

// MarkOverdue flags every waiting booking whose pickup day has passed and returns how many were flagged.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	return actor.Do(ctx, s.loop, func(ctx context.Context) (int, error) {
		due, err := s.repo.DueForOverdue(ctx, startOfDay(now))
		if err != nil {
			return 0, fmt.Errorf("list overdue bookings: %w", err)
		}
		marked := 0
		for _, b := range due {
			if !b.IsOverdue(now) || b.OverdueAt != nil {
				continue
			}
			at := now.UTC()
			b.OverdueAt = &at
			b.UpdatedAt = at
			ev := s.event(b, ActionOverdue, b.Status, b.Status, "", "pickup date "+b.PickupDate.Format(time.DateOnly)+" has passed")
			if err := s.repo.Save(ctx, b, ev); err != nil {
				return marked, fmt.Errorf("flag booking %s: %w", b.ID, err)
			}
			marked++
		}
		return marked, nil
	})
}

// History returns the audit trail of a booking, oldest first.
func (s *Service) History(ctx context.Context, who session.Actor, id string) ([]Event, error) {
	if _, err := s.Get(ctx, who, id); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, id)
}

// Tracking renders the fixed delivery steps with the time each one was reached.
func (s *Service) Tracking(ctx context.Context, who session.Actor, id string) (Tracking, error) {
	b, err := s.Get(ctx, who, id)
	if err != nil {
		return Tracking{}, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return Tracking{}, err
	}
	return BuildTracking(b, events), nil
}

// BuildTracking derives the step list from the booking status and its events.
func BuildTracking(b Booking, events []Event) Tracking {
	reached := make(map[Status]time.Time, len(Sequence))
	stoppedAt := StatusOrderPlaced
	for _, ev := range events {
		if ev.ToStatus != "" {
			if _, seen := reached[ev.ToStatus]; !seen {
				reached[ev.ToStatus] = ev.At
			}
		}
		if ev.ToStatus == StatusCancelled && ev.FromStatus != "" {
			stoppedAt = ev.FromStatus
		}
	}

	current := indexOf(b.Status)
	if b.Status == StatusCancelled {
		current = indexOf(stoppedAt)
	}
	steps := make([]TrackingStep, 0, len(Sequence))
	for i, st := range Sequence {
		step := TrackingStep{Status: st, Label: st.Label()}
		switch {
		case b.Status == StatusCancelled && i > current:
			step.State = StepCancelled
		case i < current, b.Status == StatusCancelled, st == StatusDelivered && i == current:
			step.State = StepCompleted
		case i == current:
			step.State = StepCurrent
		default:
			step.State = StepUpcoming
		}
		if at, ok := reached[st]; ok && step.State != StepUpcoming && step.State != StepCancelled {
			step.ReachedAt = &at
		}
		steps = append(steps, step)
	}
	return Tracking{
		BookingID:             b.ID,
		Status:                b.Status,
		CancellationRequested: b.CancellationRequested,
		Steps:                 steps,
	}
}

func (s *Service) event(b Booking, action string, from, to Status, actorID, note string) Event {
	return Event{
		ID:         sqlstore.NewID("evt"),
		BookingID:  b.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Note:       note,
		At:         s.now(),
	}
}

// isCarrier reports whether who may drive the booking forward.
func (s *Service) isCarrier(who session.Actor, b Booking) bool {
	return who.Role == session.RoleAdmin || (b.TransporterID != "" && b.TransporterID == who.ID)
}

func canView(who session.Actor, b Booking) bool {
	switch who.Role {
	case session.RoleAdmin, session.RoleSupport:
		return true
	case session.RoleFarmer:
		return b.FarmerID == who.ID
	case session.RoleTransporter:
		return b.TransporterID == who.ID || (b.TransporterID == "" && b.Status == StatusOrderPlaced)
	}
	return false
}
