package booking

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"agrimarket/pkg/booking"
	"agrimarket/pkg/storage/sqlstore"
)

// Repository writes each booking change and its audit event in a single transaction.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wires the database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type bookingRow struct {
	ID                      string       `db:"id"`
	FarmerID                string       `db:"farmer_id"`
	TransporterID           string       `db:"transporter_id"`
	CropName                string       `db:"crop_name"`
	WeightKg                float64      `db:"weight_kg"`
	VehicleType             string       `db:"vehicle_type"`
	PickupAddress           string       `db:"pickup_address"`
	DropAddress             string       `db:"drop_address"`
	DistanceKm              float64      `db:"distance_km"`
	PickupDate              time.Time    `db:"pickup_date"`
	Price                   string       `db:"price"`
	Status                  string       `db:"status"`
	CancellationRequested   bool         `db:"cancellation_requested"`
	CancellationReason      string       `db:"cancellation_reason"`
	CancellationRequestedBy string       `db:"cancellation_requested_by"`
	OverdueAt               sql.NullTime `db:"overdue_at"`
	CreatedAt               time.Time    `db:"created_at"`
	UpdatedAt               time.Time    `db:"updated_at"`
}

func (r bookingRow) model() (booking.Booking, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return booking.Booking{}, err
	}
	b := booking.Booking{
		ID:                      r.ID,
		FarmerID:                r.FarmerID,
		TransporterID:           r.TransporterID,
		CropName:                r.CropName,
		WeightKg:                r.WeightKg,
		VehicleType:             booking.VehicleType(r.VehicleType),
		PickupAddress:           r.PickupAddress,
		DropAddress:             r.DropAddress,
		DistanceKm:              r.DistanceKm,
		PickupDate:              r.PickupDate.UTC(),
		Price:                   price,
		Status:                  booking.Status(r.Status),
		CancellationRequested:   r.CancellationRequested,
		CancellationReason:      r.CancellationReason,
		CancellationRequestedBy: r.CancellationRequestedBy,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
	if r.OverdueAt.Valid {
		at := r.OverdueAt.Time.UTC()
		b.OverdueAt = &at
	}
	return b, nil
}

type eventRow struct {
	ID         string    `db:"id"`
	BookingID  string    `db:"booking_id"`
	Seq        int64     `db:"seq"`
	Action     string    `db:"action"`
	FromStatus string    `db:"from_status"`
	ToStatus   string    `db:"to_status"`
	ActorID    string    `db:"actor_id"`
	Note       string    `db:"note"`
	At         time.Time `db:"at"`
}

const bookingColumns = `id, farmer_id, transporter_id, crop_name, weight_kg, vehicle_type, pickup_address,
	drop_address, distance_km, pickup_date, price, status, cancellation_requested, cancellation_reason,
	cancellation_requested_by, overdue_at, created_at, updated_at`

func overdue(b booking.Booking) sql.NullTime {
	if b.OverdueAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: b.OverdueAt.UTC(), Valid: true}
}

// Create stores a new booking with its creation event.
func (r *Repository) Create(ctx context.Context, b booking.Booking, ev booking.Event) error {
	return sqlstore.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := tx.Rebind("INSERT INTO bookings (" + bookingColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query,
			b.ID, b.FarmerID, b.TransporterID, b.CropName, b.WeightKg, string(b.VehicleType), b.PickupAddress,
			b.DropAddress, b.DistanceKm, b.PickupDate.UTC(), b.Price.String(), string(b.Status), b.CancellationRequested,
			b.CancellationReason, b.CancellationRequestedBy, overdue(b), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
		); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

// Save updates the mutable fields of a booking and appends the event.
func (r *Repository) Save(ctx context.Context, b booking.Booking, ev booking.Event) error {
	return sqlstore.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`UPDATE bookings SET transporter_id = ?, pickup_date = ?, status = ?,
			cancellation_requested = ?, cancellation_reason = ?, cancellation_requested_by = ?,
			overdue_at = ?, updated_at = ? WHERE id = ?`)
		res, err := tx.ExecContext(ctx, query,
			b.TransporterID, b.PickupDate.UTC(), string(b.Status), b.CancellationRequested,
			b.CancellationReason, b.CancellationRequestedBy, overdue(b), b.UpdatedAt.UTC(), b.ID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return booking.ErrNotFound
		}
		return insertEvent(ctx, tx, ev)
	})
}

// insertEvent appends ev with the next seq of its booking, so the trail keeps write order
// even when two events share a timestamp.
func insertEvent(ctx context.Context, tx *sqlx.Tx, ev booking.Event) error {
	var last int64
	if err := tx.GetContext(ctx, &last, tx.Rebind("SELECT COALESCE(MAX(seq), 0) FROM booking_events WHERE booking_id = ?"), ev.BookingID); err != nil {
		return err
	}
	query := tx.Rebind("INSERT INTO booking_events (id, booking_id, seq, action, from_status, to_status, actor_id, note, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := tx.ExecContext(ctx, query, ev.ID, ev.BookingID, last+1, ev.Action, string(ev.FromStatus), string(ev.ToStatus), ev.ActorID, ev.Note, ev.At.UTC())
	return err
}

// Get loads one booking.
func (r *Repository) Get(ctx context.Context, id string) (booking.Booking, error) {
	var row bookingRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind("SELECT "+bookingColumns+" FROM bookings WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return booking.Booking{}, booking.ErrNotFound
		}
		return booking.Booking{}, err
	}
	return row.model()
}

// List returns bookings matching q, newest first.
func (r *Repository) List(ctx context.Context, q booking.Query) ([]booking.Booking, error) {
	var (
		where []string
		args  []any
	)
	if q.FarmerID != "" {
		where = append(where, "farmer_id = ?")
		args = append(args, q.FarmerID)
	}
	if q.TransporterID != "" {
		where = append(where, "transporter_id = ?")
		args = append(args, q.TransporterID)
	}
	if q.Unassigned {
		where = append(where, "transporter_id = ''")
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	query := "SELECT " + bookingColumns + " FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	return r.selectBookings(ctx, r.db.Rebind(query), args...)
}

// DueForOverdue returns waiting, unflagged bookings whose pickup date is before the given day.
func (r *Repository) DueForOverdue(ctx context.Context, before time.Time) ([]booking.Booking, error) {
	query := r.db.Rebind("SELECT " + bookingColumns + ` FROM bookings
		WHERE status IN (?, ?) AND overdue_at IS NULL AND pickup_date < ? ORDER BY pickup_date`)
	return r.selectBookings(ctx, query, string(booking.StatusOrderPlaced), string(booking.StatusOrderAccepted), before.UTC())
}

func (r *Repository) selectBookings(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	var rows []bookingRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		b, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Events returns the audit trail of a booking in the order it was written.
func (r *Repository) Events(ctx context.Context, bookingID string) ([]booking.Event, error) {
	var rows []eventRow
	query := r.db.Rebind("SELECT id, booking_id, seq, action, from_status, to_status, actor_id, note, at FROM booking_events WHERE booking_id = ? ORDER BY seq")
	if err := r.db.SelectContext(ctx, &rows, query, bookingID); err != nil {
		return nil, err
	}
	out := make([]booking.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, booking.Event{
			ID:         row.ID,
			BookingID:  row.BookingID,
			Seq:        row.Seq,
			Action:     row.Action,
			FromStatus: booking.Status(row.FromStatus),
			ToStatus:   booking.Status(row.ToStatus),
			ActorID:    row.ActorID,
			Note:       row.Note,
			At:         row.At.UTC(),
		})
	}
	return out, nil
}
