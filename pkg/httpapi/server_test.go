package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	bidrepo "agrimarket/internal/bid"
	bookingrepo "agrimarket/internal/booking"
	croprepo "agrimarket/internal/crop"
	doctorrepo "agrimarket/internal/plantdoctor"
	sessionrepo "agrimarket/internal/session"
	"agrimarket/internal/testdb"
	ticketrepo "agrimarket/internal/ticket"
	"agrimarket/pkg/bid"
	"agrimarket/pkg/booking"
	"agrimarket/pkg/config"
	"agrimarket/pkg/crop"
	"agrimarket/pkg/plantdoctor"
	"agrimarket/pkg/session"
	"agrimarket/pkg/ticket"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type fixture struct {
	srv  *httptest.Server
	svc  Services
	logs *observer.ObservedLogs
}

// newFixture starts the API over a migrated SQLite database. The observer core keeps
// logging safe from handler goroutines that outlive the test.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith plugs in an advisor and lets the test tune the server before it starts.
func newFixtureWith(t *testing.T, advisor plantdoctor.Advisor, configure func(*http.Server)) *fixture {
	t.Helper()
	db := testdb.Open(t)
	core, logs := observer.New(zapcore.DebugLevel)
	lggr := zap.New(core).Sugar()

	pricing, err := booking.PricingFromConfig(config.Default().Pricing)
	require.NoError(t, err)

	hub := ticket.NewHub(8, lggr)
	crops := crop.NewService(croprepo.NewRepository(db), lggr)
	svc := Services{
		Sessions:    session.NewService(sessionrepo.NewRepository(db), time.Hour, lggr, session.WithHashCost(bcrypt.MinCost)),
		Bookings:    booking.NewService(bookingrepo.NewRepository(db), pricing, lggr),
		Crops:       crops,
		Bids:        bid.NewService(bidrepo.NewRepository(db), crops, bid.Rules{MinIncrement: decimal.NewFromInt(1), MaxDuration: 48 * time.Hour}, lggr),
		Tickets:     ticket.NewService(ticketrepo.NewRepository(db), hub, lggr),
		Hub:         hub,
		PlantDoctor: plantdoctor.NewService(doctorrepo.NewRepository(db), advisor, lggr),
	}
	t.Cleanup(func() {
		svc.Sessions.Close()
		svc.Bookings.Close()
		svc.Crops.Close()
		svc.Bids.Close()
		svc.Tickets.Close()
		hub.Close()
	})

	srv := httptest.NewUnstartedServer(New(svc, lggr).Handler())
	if configure != nil {
		configure(srv.Config)
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, svc: svc, logs: logs}
}

// call sends body as JSON and decodes the response into out when it is not nil.
func (f *fixture) call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// signUp registers a self-service user and returns a session token.
func (f *fixture) signUp(t *testing.T, name, phone string, role session.Role) string {
	t.Helper()
	status := f.call(t, http.MethodPost, "/api/users", "", map[string]string{
		"name": name, "phone": phone, "role": string(role), "pin": "1234",
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	return f.login(t, phone)
}

func (f *fixture) login(t *testing.T, phone string) string {
	t.Helper()
	var sess session.Session
	status := f.call(t, http.MethodPost, "/api/sessions", "", map[string]string{"phone": phone, "pin": "1234"}, &sess)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, sess.Token)
	return sess.Token
}

func (f *fixture) staff(t *testing.T, name, phone string, role session.Role) string {
	t.Helper()
	_, err := f.svc.Sessions.CreateStaff(context.Background(), name, phone, role, "1234")
	require.NoError(t, err)
	return f.login(t, phone)
}

func TestHealthzIsLogged(t *testing.T) {
	f := newFixture(t)
	resp, err := f.srv.Client().Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return f.logs.FilterMessage("request").FilterField(zap.String("path", "/healthz")).Len() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.signUp(t, "Ravi", "+91 98200 00001", session.RoleFarmer)

	var me session.User
	assert.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/me", token, nil, &me))
	assert.Equal(t, "Ravi", me.Name)
	assert.Equal(t, session.RoleFarmer, me.Role)

	var failure map[string]string
	assert.Equal(t, http.StatusConflict, f.call(t, http.MethodPost, "/api/users", "", map[string]string{
		"name": "Other", "phone": "+919820000001", "role": "buyer", "pin": "1234",
	}, &failure))
	assert.NotEmpty(t, failure["error"])

	assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodPost, "/api/users", "", map[string]string{
		"name": "Boss", "phone": "+919820000009", "role": "admin", "pin": "1234",
	}, nil), "staff cannot self-register")
	assert.Equal(t, http.StatusUnauthorized, f.call(t, http.MethodPost, "/api/sessions", "", map[string]string{
		"phone": "+919820000001", "pin": "9999",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodPost, "/api/sessions", "", map[string]any{
		"phone": "+919820000001", "pin": "1234", "remember": true,
	}, nil), "unknown fields are rejected")

	assert.Equal(t, http.StatusUnauthorized, f.call(t, http.MethodGet, "/api/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, f.call(t, http.MethodGet, "/api/me", "ses_bogus", nil, nil))

	assert.Equal(t, http.StatusNoContent, f.call(t, http.MethodDelete, "/api/sessions", token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, f.call(t, http.MethodGet, "/api/me", token, nil, nil))
}

func TestQuoteEndpoint(t *testing.T) {
	f := newFixture(t)

	var q booking.Quote
	assert.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/quote?distance=10&weight=200&vehicle=mini_truck", "", nil, &q))
	assert.Equal(t, "530.00", q.Price.StringFixed(2))

	assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodGet, "/api/quote?distance=ten&weight=200&vehicle=mini_truck", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodGet, "/api/quote?distance=10&weight=200&vehicle=rocket", "", nil, nil))

	for _, query := range []string{"distance=Inf&weight=10&vehicle=truck", "distance=10&weight=NaN&vehicle=truck"} {
		var body map[string]string
		assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodGet, "/api/quote?"+query, "", nil, &body), query)
		assert.Contains(t, body["error"], "finite", query)
	}
}

func TestBookingEndpoints(t *testing.T) {
	f := newFixture(t)
	farmer := f.signUp(t, "Ravi", "+919820000001", session.RoleFarmer)
	transporter := f.signUp(t, "Sunil", "+919820000002", session.RoleTransporter)
	buyer := f.signUp(t, "Meera", "+919820000003", session.RoleBuyer)

	pickup := time.Now().UTC().AddDate(0, 0, 2).Format(time.DateOnly)
	var b booking.Booking
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/bookings", farmer, map[string]any{
		"crop_name": "Onion", "weight_kg": 200, "vehicle_type": "mini_truck",
		"pickup_address": "Lasalgaon", "drop_address": "Nashik", "distance_km": 10, "pickup_date": pickup,
	}, &b))
	assert.Equal(t, booking.StatusOrderPlaced, b.Status)
	assert.Equal(t, "530.00", b.Price.StringFixed(2))
	assert.Equal(t, pickup, b.PickupDate.Format(time.DateOnly))

	assert.Equal(t, http.StatusForbidden, f.call(t, http.MethodPost, "/api/bookings", buyer, map[string]any{
		"crop_name": "Onion", "weight_kg": 200, "vehicle_type": "mini_truck",
		"pickup_address": "A", "drop_address": "B", "distance_km": 10, "pickup_date": pickup,
	}, nil))
	assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodPost, "/api/bookings", farmer, map[string]any{
		"crop_name": "Onion", "weight_kg": 200, "vehicle_type": "mini_truck",
		"pickup_address": "A", "drop_address": "B", "distance_km": 10, "pickup_date": "next week",
	}, nil))

	var open []booking.Booking
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/bookings?open=true", transporter, nil, &open))
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)

	assert.Equal(t, http.StatusNotFound, f.call(t, http.MethodGet, "/api/bookings/"+b.ID, buyer, nil, nil))
	assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodGet, "/api/bookings?open=maybe", transporter, nil, nil))

	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/api/bookings/"+b.ID+"/status", transporter,
		map[string]string{"status": "order_accepted"}, &b))
	assert.Equal(t, booking.StatusOrderAccepted, b.Status)
	assert.Equal(t, http.StatusConflict, f.call(t, http.MethodPost, "/api/bookings/"+b.ID+"/status", transporter,
		map[string]string{"status": "in_transit"}, nil), "steps cannot be skipped")

	var tr booking.Tracking
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/bookings/"+b.ID+"/tracking", farmer, nil, &tr))
	require.Len(t, tr.Steps, len(booking.Sequence))
	assert.Equal(t, booking.StepCompleted, tr.Steps[0].State)
	assert.Equal(t, booking.StepCurrent, tr.Steps[1].State)

	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/api/bookings/"+b.ID+"/cancellation", farmer,
		map[string]string{"reason": "rain"}, &b))
	assert.True(t, b.CancellationRequested)
	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/api/bookings/"+b.ID+"/cancellation/resolve", transporter,
		map[string]any{"approve": true, "note": "ok"}, &b))
	assert.Equal(t, booking.StatusCancelled, b.Status)

	var events []booking.Event
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/bookings/"+b.ID+"/events", farmer, nil, &events))
	assert.Len(t, events, 4)
}

func TestCropAndBidEndpoints(t *testing.T) {
	f := newFixture(t)
	farmer := f.signUp(t, "Ravi", "+919820000001", session.RoleFarmer)
	buyer := f.signUp(t, "Meera", "+919820000003", session.RoleBuyer)

	var c crop.Crop
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/crops", farmer, map[string]any{
		"name": "Wheat", "quantity_kg": 500, "price_per_kg": "24.50",
	}, &c))
	assert.Equal(t, http.StatusForbidden, f.call(t, http.MethodPut, "/api/crops/"+c.ID, buyer, map[string]any{
		"quantity_kg": 1, "price_per_kg": "1",
	}, nil))

	var listed []crop.Crop
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/crops?name=whe", buyer, nil, &listed))
	assert.Len(t, listed, 1)

	var b bid.Bid
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/bids", farmer, map[string]any{
		"crop_id": c.ID, "quantity_kg": 500, "starting_price": "10000",
		"end_time": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	}, &b))
	assert.Equal(t, "Wheat", b.CropName)
	assert.Positive(t, b.RemainingSeconds)

	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/bids/"+b.ID+"/offers", buyer,
		map[string]string{"amount": "10500"}, &b))
	assert.Equal(t, 1, b.OfferCount)

	var failure map[string]string
	assert.Equal(t, http.StatusConflict, f.call(t, http.MethodPost, "/api/bids/"+b.ID+"/offers", buyer,
		map[string]string{"amount": "10500.50"}, &failure))
	assert.Contains(t, failure["error"], "10501")
	assert.Equal(t, http.StatusBadRequest, f.call(t, http.MethodPost, "/api/bids/"+b.ID+"/offers", buyer,
		map[string]string{"amount": "0"}, nil))

	var offers []bid.Offer
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/bids/"+b.ID+"/offers", farmer, nil, &offers))
	assert.Len(t, offers, 1)

	assert.Equal(t, http.StatusConflict, f.call(t, http.MethodDelete, "/api/bids/"+b.ID, farmer, nil, nil), "bid has offers")
	assert.Equal(t, http.StatusNoContent, f.call(t, http.MethodDelete, "/api/crops/"+c.ID, farmer, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.call(t, http.MethodGet, "/api/crops/"+c.ID, farmer, nil, nil))
}

func TestPlantDoctorDisabled(t *testing.T) {
	f := newFixture(t)
	farmer := f.signUp(t, "Ravi", "+919820000001", session.RoleFarmer)
	buyer := f.signUp(t, "Meera", "+919820000003", session.RoleBuyer)

	q := map[string]string{"crop": "tomato", "question": "Leaves curl upward"}
	assert.Equal(t, http.StatusConflict, f.call(t, http.MethodPost, "/api/plant-doctor", farmer, q, nil))
	assert.Equal(t, http.StatusForbidden, f.call(t, http.MethodPost, "/api/plant-doctor", buyer, q, nil))

	var history []plantdoctor.Consultation
	assert.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/plant-doctor", farmer, nil, &history))
	assert.Empty(t, history)
}

// slowAdvisor answers after a fixed delay.
type slowAdvisor struct{ delay time.Duration }

func (a slowAdvisor) Advise(ctx context.Context, p plantdoctor.Prompt) (string, error) {
	select {
	case <-time.After(a.delay):
		return "Spray neem oil on " + p.Crop, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestPlantDoctorOutlastsWriteTimeout(t *testing.T) {
	f := newFixtureWith(t, slowAdvisor{delay: 300 * time.Millisecond}, func(s *http.Server) {
		s.WriteTimeout = 100 * time.Millisecond
	})
	farmer := f.signUp(t, "Ravi", "+919820000001", session.RoleFarmer)

	var c plantdoctor.Consultation
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/plant-doctor", farmer,
		map[string]string{"crop": "tomato", "question": "Leaves curl upward"}, &c))
	assert.Equal(t, "Spray neem oil on tomato", c.Answer)

	var history []plantdoctor.Consultation
	assert.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/plant-doctor", farmer, nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, c.ID, history[0].ID)
}

func TestTicketEndpoints(t *testing.T) {
	f := newFixture(t)
	user := f.signUp(t, "Meera", "+919820000003", session.RoleBuyer)
	other := f.signUp(t, "Ravi", "+919820000001", session.RoleFarmer)
	agent := f.staff(t, "Desk", "+919820000099", session.RoleSupport)

	var tk ticket.Ticket
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/tickets", user, map[string]string{
		"subject": "Payment missing", "category": "payments", "body": "Paid yesterday",
	}, &tk))
	assert.Equal(t, http.StatusNotFound, f.call(t, http.MethodGet, "/api/tickets/"+tk.ID, other, nil, nil))

	var m ticket.Message
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/tickets/"+tk.ID+"/messages", agent,
		map[string]string{"client_id": "6f1b2c1e-8d1a-4c55-9a57-0f0a9d3f2b10", "body": "Checking"}, &m))
	assert.Equal(t, int64(2), m.Seq)

	var unread map[string]int
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/tickets/"+tk.ID+"/unread", user, nil, &unread))
	assert.Equal(t, 1, unread["unread"])

	var receipt ticket.Receipt
	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/api/tickets/"+tk.ID+"/read", user,
		map[string]int64{"up_to": 2}, &receipt))
	assert.Equal(t, []int64{2}, receipt.Seqs)

	var msgs []ticket.Message
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/tickets/"+tk.ID+"/messages?after=1", user, nil, &msgs))
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0].ReadAt)

	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/api/tickets/"+tk.ID+"/status", agent,
		map[string]string{"status": "resolved"}, &tk))
	assert.Equal(t, ticket.StatusResolved, tk.Status)
	assert.Equal(t, http.StatusForbidden, f.call(t, http.MethodPost, "/api/tickets/"+tk.ID+"/status", user,
		map[string]string{"status": "in_progress"}, nil))

	var mine []ticket.Ticket
	require.Equal(t, http.StatusOK, f.call(t, http.MethodGet, "/api/tickets", other, nil, &mine))
	assert.Empty(t, mine)
}

func TestTicketSocket(t *testing.T) {
	f := newFixture(t)
	user := f.signUp(t, "Meera", "+919820000003", session.RoleBuyer)
	agent := f.staff(t, "Desk", "+919820000099", session.RoleSupport)

	var tk ticket.Ticket
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/tickets", user, map[string]string{
		"subject": "Truck late", "body": "Where is it?",
	}, &tk))

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/tickets/" + tk.ID + "/ws?token=" + agent
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	next := func() map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}
	typeOf := func(frame map[string]json.RawMessage) string {
		var s string
		require.NoError(t, json.Unmarshal(frame["type"], &s))
		return s
	}

	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/tickets/"+tk.ID+"/messages", user,
		map[string]string{"body": "Still waiting"}, nil))
	frame := next()
	require.Equal(t, ticket.EventMessage, typeOf(frame))
	var m ticket.Message
	require.NoError(t, json.Unmarshal(frame["message"], &m))
	assert.Equal(t, "Still waiting", m.Body)
	assert.Equal(t, int64(2), m.Seq)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "message", ClientID: "0d7f3b8e-3f5e-4d6a-8f4e-2b1c9a7e5d11", Body: "On it"}))
	frame = next()
	require.Equal(t, ticket.EventMessage, typeOf(frame))
	frame = next()
	require.Equal(t, ticket.EventStatus, typeOf(frame))
	var status ticket.Status
	require.NoError(t, json.Unmarshal(frame["status"], &status))
	assert.Equal(t, ticket.StatusInProgress, status)

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "read", UpTo: 2}))
	frame = next()
	require.Equal(t, ticket.EventRead, typeOf(frame))

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "typing"}))
	frame = next()
	require.Equal(t, "error", typeOf(frame))
	assert.Contains(t, string(frame["error"]), "unknown frame type")

	// A post that fails validation is reported on the socket.
	require.NoError(t, conn.WriteJSON(clientFrame{Type: "message", ClientID: "not-a-uuid", Body: "x"}))
	frame = next()
	require.Equal(t, "error", typeOf(frame))
	assert.Contains(t, string(frame["error"]), "client_id")
}

func TestTicketSocketRequiresAccess(t *testing.T) {
	f := newFixture(t)
	user := f.signUp(t, "Meera", "+919820000003", session.RoleBuyer)
	other := f.signUp(t, "Ravi", "+919820000001", session.RoleFarmer)

	var tk ticket.Ticket
	require.Equal(t, http.StatusCreated, f.call(t, http.MethodPost, "/api/tickets", user, map[string]string{
		"subject": "Truck late", "body": "Where is it?",
	}, &tk))

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/tickets/" + tk.ID + "/ws?token=" + other
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
