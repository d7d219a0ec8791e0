package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"agrimarket/pkg/booking"
	"agrimarket/pkg/fault"
)

type bookingPayload struct {
	CropName      string              `json:"crop_name"`
	WeightKg      float64             `json:"weight_kg"`
	VehicleType   booking.VehicleType `json:"vehicle_type"`
	PickupAddress string              `json:"pickup_address"`
	DropAddress   string              `json:"drop_address"`
	DistanceKm    float64             `json:"distance_km"`
	PickupDate    string              `json:"pickup_date"`
}

type statusPayload struct {
	Status string `json:"status"`
}

func (p statusPayload) Validate() error {
	if strings.TrimSpace(p.Status) == "" {
		return fault.Validation("status is required")
	}
	return nil
}

type cancellationPayload struct {
	Reason string `json:"reason"`
}

type resolvePayload struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

type reschedulePayload struct {
	PickupDate string `json:"pickup_date"`
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fault.Validation("pickup date is required")
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fault.Validation("pickup date must look like 2006-01-02")
	}
	return t.UTC(), nil
}

func (s *Server) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := booking.Filter{Status: booking.Status(q.Get("status"))}
	if raw := q.Get("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, "list bookings", fault.Validation("open must be true or false"))
			return
		}
		f.Open = open
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.svc.Bookings.List(ctx, actorFrom(r), f)
	if err != nil {
		s.fail(w, r, "list bookings", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	var payload bookingPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "create booking", err)
		return
	}
	pickup, err := parseDate(payload.PickupDate)
	if err != nil {
		s.fail(w, r, "create booking", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bookings.Create(ctx, actorFrom(r), booking.Request{
		CropName:      payload.CropName,
		WeightKg:      payload.WeightKg,
		VehicleType:   payload.VehicleType,
		PickupAddress: payload.PickupAddress,
		DropAddress:   payload.DropAddress,
		DistanceKm:    payload.DistanceKm,
		PickupDate:    pickup,
	})
	if err != nil {
		s.fail(w, r, "create booking", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, b)
}

func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bookings.Get(ctx, actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "get booking", err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) advanceBooking(w http.ResponseWriter, r *http.Request) {
	var payload statusPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "advance booking", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bookings.Advance(ctx, actorFrom(r), chi.URLParam(r, "id"), booking.Status(payload.Status))
	if err != nil {
		s.fail(w, r, "advance booking", err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) requestCancellation(w http.ResponseWriter, r *http.Request) {
	var payload cancellationPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "request cancellation", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bookings.RequestCancellation(ctx, actorFrom(r), chi.URLParam(r, "id"), payload.Reason)
	if err != nil {
		s.fail(w, r, "request cancellation", err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) resolveCancellation(w http.ResponseWriter, r *http.Request) {
	var payload resolvePayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "resolve cancellation", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bookings.ResolveCancellation(ctx, actorFrom(r), chi.URLParam(r, "id"), payload.Approve, payload.Note)
	if err != nil {
		s.fail(w, r, "resolve cancellation", err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var payload reschedulePayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "reschedule booking", err)
		return
	}
	date, err := parseDate(payload.PickupDate)
	if err != nil {
		s.fail(w, r, "reschedule booking", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bookings.Reschedule(ctx, actorFrom(r), chi.URLParam(r, "id"), date)
	if err != nil {
		s.fail(w, r, "reschedule booking", err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) trackBooking(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tr, err := s.svc.Bookings.Tracking(ctx, actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "track booking", err)
		return
	}
	s.respondJSON(w, http.StatusOK, tr)
}

func (s *Server) bookingEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	events, err := s.svc.Bookings.History(ctx, actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "booking events", err)
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}
