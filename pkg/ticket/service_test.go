package ticket_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"agrimarket/internal/testdb"
	ticketrepo "agrimarket/internal/ticket"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
	"agrimarket/pkg/ticket"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

var (
	farmer   = session.Actor{ID: "usr_farmer", Role: session.RoleFarmer}
	stranger = session.Actor{ID: "usr_stranger", Role: session.RoleBuyer}
	agent    = session.Actor{ID: "usr_agent", Role: session.RoleSupport}
)

// recorder keeps every published event.
type recorder struct {
	mu     sync.Mutex
	events []ticket.Event
}

func (r *recorder) Publish(_ string, ev ticket.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newService(t *testing.T) (*ticket.Service, *recorder) {
	t.Helper()
	db := testdb.Open(t)
	for _, a := range []session.Actor{farmer, stranger, agent} {
		testdb.SeedUser(t, db, a.ID, string(a.Role))
	}
	rec := &recorder{}
	c := &clock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	svc := ticket.NewService(ticketrepo.NewRepository(db), rec, zaptest.NewLogger(t).Sugar(), ticket.WithClock(c.now))
	t.Cleanup(svc.Close)
	return svc, rec
}

func TestOpenAndConverse(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, farmer, " ", "payment", "hello")
	assert.True(t, fault.IsValidation(err))
	_, err = svc.Open(ctx, agent, "x", "", "y")
	assert.Equal(t, fault.KindForbidden, fault.KindOf(err))

	tk, err := svc.Open(ctx, farmer, "Payment not received", "payment", "Buyer has not paid for order 12")
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, tk.Status)

	_, err = svc.Get(ctx, stranger, tk.ID)
	assert.ErrorIs(t, err, ticket.ErrNotFound)

	reply, err := svc.Post(ctx, agent, tk.ID, "", "Looking into it")
	require.NoError(t, err)
	assert.EqualValues(t, 2, reply.Seq)

	tk, err = svc.Get(ctx, farmer, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusInProgress, tk.Status, "first support reply picks the ticket up")
	assert.Equal(t, []string{ticket.EventMessage, ticket.EventStatus}, rec.types())

	clientID := uuid.NewString()
	first, err := svc.Post(ctx, farmer, tk.ID, clientID, "Thanks")
	require.NoError(t, err)
	again, err := svc.Post(ctx, farmer, tk.ID, clientID, "Thanks")
	require.NoError(t, err)
	assert.Equal(t, first, again, "re-sent message is not duplicated")
	assert.EqualValues(t, 3, first.Seq)

	_, err = svc.Post(ctx, farmer, tk.ID, "not-a-uuid", "x")
	assert.True(t, fault.IsValidation(err))
	_, err = svc.Post(ctx, farmer, tk.ID, "", "   ")
	assert.True(t, fault.IsValidation(err))

	msgs, err := svc.Messages(ctx, farmer, tk.ID, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.EqualValues(t, 2, msgs[0].Seq)
	assert.EqualValues(t, 3, msgs[1].Seq)

	all, err := svc.Messages(ctx, agent, tk.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := svc.List(ctx, farmer)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	none, err := svc.List(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, none)
	desk, err := svc.List(ctx, agent)
	require.NoError(t, err)
	assert.Len(t, desk, 1)
}

func TestReadReceipts(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	tk, err := svc.Open(ctx, farmer, "Truck late", "booking", "Truck did not arrive")
	require.NoError(t, err)
	_, err = svc.Post(ctx, farmer, tk.ID, "", "Still waiting")
	require.NoError(t, err)
	_, err = svc.Post(ctx, agent, tk.ID, "", "Calling the driver")
	require.NoError(t, err)

	n, err := svc.Unread(ctx, agent, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = svc.Unread(ctx, farmer, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, err := svc.MarkRead(ctx, agent, tk.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, r.Seqs)

	r, err = svc.MarkRead(ctx, agent, tk.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, r.Seqs, "own messages and already read ones are skipped")

	r, err = svc.MarkRead(ctx, agent, tk.ID, 3)
	require.NoError(t, err)
	assert.Empty(t, r.Seqs)

	n, err = svc.Unread(ctx, agent, tk.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.MarkRead(ctx, farmer, tk.ID, 0)
	assert.True(t, fault.IsValidation(err))

	reads := 0
	for _, typ := range rec.types() {
		if typ == ticket.EventRead {
			reads++
		}
	}
	assert.Equal(t, 2, reads, "empty receipts are not published")
}

func TestStatusWorkflow(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tk, err := svc.Open(ctx, farmer, "App crash", "app", "Crashes on login")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, farmer, tk.ID, ticket.StatusResolved)
	assert.ErrorIs(t, err, ticket.ErrForbidden)
	_, err = svc.SetStatus(ctx, agent, tk.ID, "open")
	assert.True(t, fault.IsValidation(err))

	tk, err = svc.SetStatus(ctx, agent, tk.ID, ticket.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusResolved, tk.Status)

	_, err = svc.Post(ctx, farmer, tk.ID, "", "Still crashing")
	require.NoError(t, err)
	tk, err = svc.Get(ctx, farmer, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusOpen, tk.Status, "user reply reopens a resolved ticket")

	tk, err = svc.SetStatus(ctx, farmer, tk.ID, ticket.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusClosed, tk.Status)

	_, err = svc.Post(ctx, agent, tk.ID, "", "Hello?")
	assert.ErrorIs(t, err, ticket.ErrClosed)
	_, err = svc.SetStatus(ctx, agent, tk.ID, ticket.StatusInProgress)
	assert.ErrorIs(t, err, ticket.ErrClosed)
}
