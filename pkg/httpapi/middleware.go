package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	tokenKey
)

var errNoToken = fault.Unauthorized("missing bearer token")

// authenticate resolves the bearer token into an actor stored on the request context.
// Browsers cannot set headers on websocket upgrades, so ?token= is accepted too.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.fail(w, r, "authenticate", errNoToken)
			return
		}
		ctx, cancel := s.requestContext(r)
		sess, err := s.svc.Sessions.Resolve(ctx, token)
		cancel()
		if err != nil {
			s.fail(w, r, "authenticate", err)
			return
		}
		ctx = context.WithValue(r.Context(), actorKey, sess.Actor())
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// actorFrom returns the caller set by authenticate.
func actorFrom(r *http.Request) session.Actor {
	who, _ := r.Context().Value(actorKey).(session.Actor)
	return who
}

func tokenFrom(r *http.Request) string {
	token, _ := r.Context().Value(tokenKey).(string)
	return token
}

// logRequests writes one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.lggr.Infow("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
