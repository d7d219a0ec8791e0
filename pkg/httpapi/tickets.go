package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
	"agrimarket/pkg/ticket"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = socketPongWait * 9 / 10
	socketReadLimit  = 8 << 10
)

// Tokens travel in the query string, so origin checks add nothing here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type openTicketPayload struct {
	Subject  string `json:"subject"`
	Category string `json:"category"`
	Body     string `json:"body"`
}

type messagePayload struct {
	ClientID string `json:"client_id"`
	Body     string `json:"body"`
}

type readPayload struct {
	UpTo int64 `json:"up_to"`
}

type ticketStatusPayload struct {
	Status ticket.Status `json:"status"`
}

// clientFrame is anything a websocket client may send.
type clientFrame struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id,omitempty"`
	Body     string `json:"body,omitempty"`
	UpTo     int64  `json:"up_to,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.svc.Tickets.List(ctx, actorFrom(r))
	if err != nil {
		s.fail(w, r, "list tickets", err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) openTicket(w http.ResponseWriter, r *http.Request) {
	var payload openTicketPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "open ticket", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	t, err := s.svc.Tickets.Open(ctx, actorFrom(r), payload.Subject, payload.Category, payload.Body)
	if err != nil {
		s.fail(w, r, "open ticket", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, t)
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	t, err := s.svc.Tickets.Get(ctx, actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "get ticket", err)
		return
	}
	s.respondJSON(w, http.StatusOK, t)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.fail(w, r, "list messages", fault.Validation("after must be a sequence number"))
			return
		}
		after = v
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	msgs, err := s.svc.Tickets.Messages(ctx, actorFrom(r), chi.URLParam(r, "id"), after)
	if err != nil {
		s.fail(w, r, "list messages", err)
		return
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var payload messagePayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "post message", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	m, err := s.svc.Tickets.Post(ctx, actorFrom(r), chi.URLParam(r, "id"), payload.ClientID, payload.Body)
	if err != nil {
		s.fail(w, r, "post message", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, m)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	var payload readPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "mark read", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipt, err := s.svc.Tickets.MarkRead(ctx, actorFrom(r), chi.URLParam(r, "id"), payload.UpTo)
	if err != nil {
		s.fail(w, r, "mark read", err)
		return
	}
	s.respondJSON(w, http.StatusOK, receipt)
}

func (s *Server) unread(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	n, err := s.svc.Tickets.Unread(ctx, actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "unread", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) setTicketStatus(w http.ResponseWriter, r *http.Request) {
	var payload ticketStatusPayload
	if err := decode(r, &payload); err != nil {
		s.fail(w, r, "set ticket status", err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	t, err := s.svc.Tickets.SetStatus(ctx, actorFrom(r), chi.URLParam(r, "id"), payload.Status)
	if err != nil {
		s.fail(w, r, "set ticket status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, t)
}

// ticketSocket streams hub events for one ticket and accepts message and read frames.
// A single goroutine owns every write to the connection.
func (s *Server) ticketSocket(w http.ResponseWriter, r *http.Request) {
	who := actorFrom(r)
	id := chi.URLParam(r, "id")

	ctx, cancel := s.requestContext(r)
	_, err := s.svc.Tickets.Get(ctx, who, id)
	cancel()
	if err != nil {
		s.fail(w, r, "ticket socket", err)
		return
	}
	sub, err := s.svc.Hub.Subscribe(id)
	if err != nil {
		s.fail(w, r, "ticket socket", err)
		return
	}
	defer s.svc.Hub.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.lggr.Debugw("websocket upgrade failed", "ticket", id, "err", err)
		return
	}
	defer conn.Close()

	outbox := make(chan any, 8)
	stopped := make(chan struct{})
	readerDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stopped)
		s.writeSocket(conn, sub, outbox, readerDone)
	}()

	reply := func(v any) {
		select {
		case outbox <- v:
		case <-stopped:
		}
	}

	conn.SetReadLimit(socketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})
	s.lggr.Debugw("ticket socket opened", "ticket", id, "user", who.ID)
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.lggr.Debugw("ticket socket read failed", "ticket", id, "err", err)
			}
			break
		}
		if err := s.handleFrame(r, who, id, frame); err != nil {
			reply(s.socketError(err))
		}
	}
	close(readerDone)
	wg.Wait()
	s.lggr.Debugw("ticket socket closed", "ticket", id, "user", who.ID)
}

// handleFrame runs a client frame through the same service calls as the REST endpoints.
// Accepted frames are answered by the hub broadcast, not directly.
func (s *Server) handleFrame(r *http.Request, who session.Actor, ticketID string, frame clientFrame) error {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	switch frame.Type {
	case "message":
		_, err := s.svc.Tickets.Post(ctx, who, ticketID, frame.ClientID, frame.Body)
		return err
	case "read":
		_, err := s.svc.Tickets.MarkRead(ctx, who, ticketID, frame.UpTo)
		return err
	default:
		return fault.Validation("unknown frame type " + strconv.Quote(frame.Type))
	}
}

func (s *Server) socketError(err error) errorFrame {
	if statusOf(err) >= http.StatusInternalServerError {
		s.lggr.Errorw("socket frame failed", "err", err)
		return errorFrame{Type: "error", Error: "internal error"}
	}
	return errorFrame{Type: "error", Error: err.Error()}
}

func (s *Server) writeSocket(conn *websocket.Conn, sub *ticket.Subscription, outbox <-chan any, readerDone <-chan struct{}) {
	ping := time.NewTicker(socketPingPeriod)
	defer ping.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			s.lggr.Debugw("socket write failed", "ticket", sub.TicketID, "err", err)
			return false
		}
		return true
	}

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				// Dropped by the hub; closing the connection unblocks the reader.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
					time.Now().Add(socketWriteWait))
				_ = conn.Close()
				return
			}
			if !write(ev) {
				_ = conn.Close()
				return
			}
		case v := <-outbox:
			if !write(v) {
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-readerDone:
			return
		}
	}
}
