package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func receive(t *testing.T, sub *Subscription) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("no event within 2s")
		return Event{}, false
	}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(4, zaptest.NewLogger(t).Sugar())
	defer h.Close()

	a, err := h.Subscribe("tkt_1")
	require.NoError(t, err)
	b, err := h.Subscribe("tkt_1")
	require.NoError(t, err)
	other, err := h.Subscribe("tkt_2")
	require.NoError(t, err)

	h.Publish("tkt_1", Event{Type: EventStatus, TicketID: "tkt_1", Status: StatusResolved})

	for _, sub := range []*Subscription{a, b} {
		ev, ok := receive(t, sub)
		require.True(t, ok)
		assert.Equal(t, StatusResolved, ev.Status)
	}
	select {
	case ev := <-other.C():
		t.Fatalf("unexpected event on other ticket: %+v", ev)
	default:
	}

	h.Unsubscribe(a)
	_, ok := receive(t, a)
	assert.False(t, ok, "unsubscribe closes the channel")
	h.Unsubscribe(a)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(1, zaptest.NewLogger(t).Sugar())
	defer h.Close()

	slow, err := h.Subscribe("tkt_1")
	require.NoError(t, err)

	h.Publish("tkt_1", Event{Type: EventMessage, TicketID: "tkt_1"})
	h.Publish("tkt_1", Event{Type: EventRead, TicketID: "tkt_1"})

	ev, ok := receive(t, slow)
	require.True(t, ok)
	assert.Equal(t, EventMessage, ev.Type)
	_, ok = receive(t, slow)
	assert.False(t, ok, "overflowing subscriber is dropped")

	h.Unsubscribe(slow)
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	h := NewHub(1, zaptest.NewLogger(t).Sugar())
	sub, err := h.Subscribe("tkt_1")
	require.NoError(t, err)

	h.Close()
	_, ok := receive(t, sub)
	assert.False(t, ok)

	_, err = h.Subscribe("tkt_1")
	assert.ErrorIs(t, err, ErrHubClosed)
	h.Publish("tkt_1", Event{})
	h.Close()
}
