package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"agrimarket/pkg/actor"
	"agrimarket/pkg/bid"
	"agrimarket/pkg/booking"
	"agrimarket/pkg/crop"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/plantdoctor"
	"agrimarket/pkg/session"
	"agrimarket/pkg/ticket"
)

const (
	defaultTimeout   = 5 * time.Second
	adviceTimeout    = 45 * time.Second
	// adviceWriteSlack covers encoding the answer after the model returns.
	adviceWriteSlack = 5 * time.Second
)

// Services bundles the domain services the API exposes.
type Services struct {
	Sessions    *session.Service
	Bookings    *booking.Service
	Crops       *crop.Service
	Bids        *bid.Service
	Tickets     *ticket.Service
	Hub         *ticket.Hub
	PlantDoctor *plantdoctor.Service
}

// Server wires HTTP endpoints to the asynchronous marketplace services.
type Server struct {
	svc     Services
	lggr    *zap.SugaredLogger
	timeout time.Duration
}

// New builds the API server.
func New(svc Services, lggr *zap.SugaredLogger) *Server {
	return &Server{svc: svc, lggr: lggr.Named("http"), timeout: defaultTimeout}
}

// Handler exposes the chi router with every JSON endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.lggr.Warnw("write error", "err", err)
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", s.register)
		r.Post("/sessions", s.login)
		r.Get("/quote", s.quote)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Delete("/sessions", s.logout)
			r.Get("/me", s.me)

			r.Route("/bookings", func(r chi.Router) {
				r.Get("/", s.listBookings)
				r.Post("/", s.createBooking)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getBooking)
					r.Post("/status", s.advanceBooking)
					r.Post("/cancellation", s.requestCancellation)
					r.Post("/cancellation/resolve", s.resolveCancellation)
					r.Post("/reschedule", s.rescheduleBooking)
					r.Get("/tracking", s.trackBooking)
					r.Get("/events", s.bookingEvents)
				})
			})

			r.Route("/crops", func(r chi.Router) {
				r.Get("/", s.listCrops)
				r.Post("/", s.addCrop)
				r.Get("/{id}", s.getCrop)
				r.Put("/{id}", s.updateCrop)
				r.Delete("/{id}", s.deleteCrop)
			})

			r.Route("/bids", func(r chi.Router) {
				r.Get("/", s.listBids)
				r.Post("/", s.createBid)
				r.Get("/{id}", s.getBid)
				r.Delete("/{id}", s.cancelBid)
				r.Get("/{id}/offers", s.listOffers)
				r.Post("/{id}/offers", s.placeOffer)
			})

			r.Route("/tickets", func(r chi.Router) {
				r.Get("/", s.listTickets)
				r.Post("/", s.openTicket)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getTicket)
					r.Get("/messages", s.listMessages)
					r.Post("/messages", s.postMessage)
					r.Post("/read", s.markRead)
					r.Get("/unread", s.unread)
					r.Post("/status", s.setTicketStatus)
					r.Get("/ws", s.ticketSocket)
				})
			})

			r.Post("/plant-doctor", s.askPlantDoctor)
			r.Get("/plant-doctor", s.plantDoctorHistory)
		})
	})
	return r
}

// requestContext bounds every handler with the API timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

// respondJSON writes v with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.lggr.Warnw("encode response", "err", err)
	}
}

// respondError keeps JSON formatting consistent across endpoints.
func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// fail maps a service error to its HTTP status and logs it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusOf(err)
	fields := []any{"op", op, "status", status, "request_id", middleware.GetReqID(r.Context()), "err", err}
	if status >= http.StatusInternalServerError {
		s.lggr.Errorw("request failed", fields...)
		s.respondError(w, "internal error", status)
		return
	}
	s.lggr.Debugw("request rejected", fields...)
	s.respondError(w, err.Error(), status)
}

func statusOf(err error) int {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindUnauthorized:
		return http.StatusUnauthorized
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindConflict:
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, actor.ErrBusy), errors.Is(err, actor.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, actor.ErrSlow), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v and runs its Validate method when present.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Validation("invalid JSON: " + err.Error())
	}
	if p, ok := v.(interface{ Validate() error }); ok {
		return p.Validate()
	}
	return nil
}
