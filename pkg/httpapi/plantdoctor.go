package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"agrimarket/pkg/fault"
)

type questionPayload struct {
	Crop     string `json:"crop"`
	Question string `json:"question"`
}

// askPlantDoctor waits on the model, so it gets a longer deadline than the other handlers.
// Its write deadline outlasts that wait, overriding the server-wide write timeout.
func (s *Server) askPlantDoctor(w http.ResponseWriter, r *http.Request) {
	var payload questionPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "ask plant doctor", err)
		return
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(adviceTimeout + adviceWriteSlack)); err != nil {
		s.lggr.Warnw("unable to extend write deadline", "err", err)
	}
	ctx, cancel := context.WithTimeout(r.Context(), adviceTimeout)
	defer cancel()

	c, err := s.svc.PlantDoctor.Ask(ctx, actorFrom(r), payload.Crop, payload.Question)
	if err != nil {
		s.fail(w, r, "ask plant doctor", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, c)
}

func (s *Server) plantDoctorHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, "plant doctor history", fault.Validation("limit must be a number"))
			return
		}
		limit = v
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.svc.PlantDoctor.History(ctx, actorFrom(r), limit)
	if err != nil {
		s.fail(w, r, "plant doctor history", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}
