package ticket

import (
	"errors"

	"go.uber.org/zap"
)

// ErrHubClosed is returned once the hub stopped.
var ErrHubClosed = errors.New("hub is closed")

const defaultBuffer = 32

// Subscription receives the events of one ticket until C is closed.
type Subscription struct {
	TicketID string
	ch       chan Event
}

// C yields events. It is closed when the subscriber is dropped or unsubscribed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

type publication struct {
	ticketID string
	event    Event
}

// Hub fans ticket events out to live subscribers. A subscriber whose buffer is full is dropped.
type Hub struct {
	subscribe   chan *Subscription
	unsubscribe chan *Subscription
	publish     chan publication
	quit        chan struct{}
	done        chan struct{}
	buffer      int
	lggr        *zap.SugaredLogger
}

// NewHub starts the goroutine that owns the subscriber table.
func NewHub(buffer int, lggr *zap.SugaredLogger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h := &Hub{
		subscribe:   make(chan *Subscription),
		unsubscribe: make(chan *Subscription),
		publish:     make(chan publication),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		buffer:      buffer,
		lggr:        lggr.Named("hub"),
	}
	go h.loop()
	return h
}

// loop owns subs; every other method talks to it over channels.
func (h *Hub) loop() {
	defer close(h.done)
	subs := make(map[string]map[*Subscription]struct{})
	drop := func(sub *Subscription) {
		set, ok := subs[sub.TicketID]
		if !ok {
			return
		}
		if _, ok := set[sub]; !ok {
			return
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(subs, sub.TicketID)
		}
		close(sub.ch)
	}

	for {
		select {
		case sub := <-h.subscribe:
			if subs[sub.TicketID] == nil {
				subs[sub.TicketID] = make(map[*Subscription]struct{})
			}
			subs[sub.TicketID][sub] = struct{}{}
		case sub := <-h.unsubscribe:
			drop(sub)
		case p := <-h.publish:
			for sub := range subs[p.ticketID] {
				select {
				case sub.ch <- p.event:
				default:
					h.lggr.Warnw("dropping slow subscriber", "ticket", p.ticketID)
					drop(sub)
				}
			}
		case <-h.quit:
			for _, set := range subs {
				for sub := range set {
					close(sub.ch)
				}
			}
			return
		}
	}
}

// Subscribe registers a new listener for ticketID.
func (h *Hub) Subscribe(ticketID string) (*Subscription, error) {
	sub := &Subscription{TicketID: ticketID, ch: make(chan Event, h.buffer)}
	select {
	case h.subscribe <- sub:
		return sub, nil
	case <-h.quit:
		return nil, ErrHubClosed
	}
}

// Unsubscribe removes sub and closes its channel. It is safe to call after the hub dropped sub.
func (h *Hub) Unsubscribe(sub *Subscription) {
	select {
	case h.unsubscribe <- sub:
	case <-h.quit:
	}
}

// Publish delivers ev to every current subscriber of ticketID.
func (h *Hub) Publish(ticketID string, ev Event) {
	select {
	case h.publish <- publication{ticketID: ticketID, event: ev}:
	case <-h.quit:
	}
}

// Close stops the hub and closes every subscription.
func (h *Hub) Close() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.done
}
