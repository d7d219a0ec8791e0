package httpapi

import (
	"net/http"
	"strconv"

	"agrimarket/pkg/booking"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
)

type registerPayload struct {
	Name  string       `json:"name"`
	Phone string       `json:"phone"`
	Role  session.Role `json:"role"`
	Pin   string       `json:"pin"`
}

type loginPayload struct {
	Phone string `json:"phone"`
	Pin   string `json:"pin"`
}

func (p loginPayload) Validate() error {
	if p.Phone == "" || p.Pin == "" {
		return fault.Validation("phone and pin are required")
	}
	return nil
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "register", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	u, err := s.svc.Sessions.Register(ctx, payload.Name, payload.Phone, payload.Role, payload.Pin)
	if err != nil {
		s.fail(w, r, "register", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "login", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	sess, err := s.svc.Sessions.Login(ctx, payload.Phone, payload.Pin)
	if err != nil {
		s.fail(w, r, "login", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.svc.Sessions.Logout(ctx, tokenFrom(r)); err != nil {
		s.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	u, err := s.svc.Sessions.User(ctx, actorFrom(r).ID)
	if err != nil {
		s.fail(w, r, "me", err)
		return
	}
	s.respondJSON(w, http.StatusOK, u)
}

// quote prices a trip without booking it; no session is needed.
func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	distance, err := strconv.ParseFloat(q.Get("distance"), 64)
	if err != nil {
		s.fail(w, r, "quote", fault.Validation("distance must be a number"))
		return
	}
	weight, err := strconv.ParseFloat(q.Get("weight"), 64)
	if err != nil {
		s.fail(w, r, "quote", fault.Validation("weight must be a number"))
		return
	}
	got, err := s.svc.Bookings.Quote(distance, weight, booking.VehicleType(q.Get("vehicle")))
	if err != nil {
		s.fail(w, r, "quote", err)
		return
	}
	s.respondJSON(w, http.StatusOK, got)
}
