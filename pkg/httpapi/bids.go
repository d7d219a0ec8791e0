package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"agrimarket/pkg/bid"
	"agrimarket/pkg/fault"
)

type offerPayload struct {
	Amount decimal.Decimal `json:"amount"`
}

func (p offerPayload) Validate() error {
	if !p.Amount.IsPositive() {
		return fault.Validation("amount must be positive")
	}
	return nil
}

func (s *Server) listBids(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.svc.Bids.List(ctx, bid.Filter{Status: bid.Status(q.Get("status")), FarmerID: q.Get("farmer")})
	if err != nil {
		s.fail(w, r, "list bids", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) createBid(w http.ResponseWriter, r *http.Request) {
	var payload bid.Listing
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "create bid", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bids.Create(ctx, actorFrom(r), payload)
	if err != nil {
		s.fail(w, r, "create bid", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, b)
}

func (s *Server) getBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bids.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "get bid", err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) cancelBid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bids.Cancel(ctx, actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "cancel bid", err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) listOffers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	offers, err := s.svc.Bids.Offers(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "list offers", err)
		return
	}
	s.respondJSON(w, http.StatusOK, offers)
}

func (s *Server) placeOffer(w http.ResponseWriter, r *http.Request) {
	var payload offerPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "place offer", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	b, err := s.svc.Bids.PlaceOffer(ctx, actorFrom(r), chi.URLParam(r, "id"), payload.Amount)
	if err != nil {
		s.fail(w, r, "place offer", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, b)
}
