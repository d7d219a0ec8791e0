package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"agrimarket/pkg/crop"
)

func (s *Server) listCrops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.svc.Crops.List(ctx, crop.Filter{FarmerID: q.Get("farmer"), Name: q.Get("name")})
	if err != nil {
		s.fail(w, r, "list crops", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) addCrop(w http.ResponseWriter, r *http.Request) {
	var payload crop.Listing
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "add crop", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	c, err := s.svc.Crops.Add(ctx, actorFrom(r), payload)
	if err != nil {
		s.fail(w, r, "add crop", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, c)
}

func (s *Server) getCrop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	c, err := s.svc.Crops.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "get crop", err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) updateCrop(w http.ResponseWriter, r *http.Request) {
	var payload crop.Change
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "update crop", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	c, err := s.svc.Crops.Update(ctx, actorFrom(r), chi.URLParam(r, "id"), payload)
	if err != nil {
		s.fail(w, r, "update crop", err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCrop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.svc.Crops.Delete(ctx, actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "delete crop", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
