package bid

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"agrimarket/pkg/bid"
	"agrimarket/pkg/storage/sqlstore"
)

// Repository persists auctions and offers.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wires the database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// errStale means the bid changed between read and write.
var errStale = errors.New("bid was modified concurrently")

type bidRow struct {
	ID              string    `db:"id"`
	FarmerID        string    `db:"farmer_id"`
	CropID          string    `db:"crop_id"`
	CropName        string    `db:"crop_name"`
	QuantityKg      float64   `db:"quantity_kg"`
	StartingPrice   string    `db:"starting_price"`
	CurrentPrice    string    `db:"current_price"`
	HighestBidderID string    `db:"highest_bidder_id"`
	OfferCount      int       `db:"offer_count"`
	EndTime         time.Time `db:"end_time"`
	Status          string    `db:"status"`
	WinnerID        string    `db:"winner_id"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r bidRow) model() (bid.Bid, error) {
	start, err := decimal.NewFromString(r.StartingPrice)
	if err != nil {
		return bid.Bid{}, err
	}
	current, err := decimal.NewFromString(r.CurrentPrice)
	if err != nil {
		return bid.Bid{}, err
	}
	return bid.Bid{
		ID:              r.ID,
		FarmerID:        r.FarmerID,
		CropID:          r.CropID,
		CropName:        r.CropName,
		QuantityKg:      r.QuantityKg,
		StartingPrice:   start,
		CurrentPrice:    current,
		HighestBidderID: r.HighestBidderID,
		OfferCount:      r.OfferCount,
		EndTime:         r.EndTime.UTC(),
		Status:          bid.Status(r.Status),
		WinnerID:        r.WinnerID,
		CreatedAt:       r.CreatedAt.UTC(),
	}, nil
}

type offerRow struct {
	ID        string    `db:"id"`
	BidID     string    `db:"bid_id"`
	BuyerID   string    `db:"buyer_id"`
	Amount    string    `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

const bidColumns = `id, farmer_id, crop_id, crop_name, quantity_kg, starting_price, current_price,
	highest_bidder_id, offer_count, end_time, status, winner_id, created_at`

// Create stores a new auction.
func (r *Repository) Create(ctx context.Context, b bid.Bid) error {
	query := r.db.Rebind("INSERT INTO bids (" + bidColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.FarmerID, b.CropID, b.CropName, b.QuantityKg, b.StartingPrice.String(), b.CurrentPrice.String(),
		b.HighestBidderID, b.OfferCount, b.EndTime.UTC(), string(b.Status), b.WinnerID, b.CreatedAt.UTC())
	return err
}

// Get loads one auction.
func (r *Repository) Get(ctx context.Context, id string) (bid.Bid, error) {
	var row bidRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind("SELECT "+bidColumns+" FROM bids WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bid.Bid{}, bid.ErrNotFound
		}
		return bid.Bid{}, err
	}
	return row.model()
}

// List returns auctions matching the filter, soonest ending first.
func (r *Repository) List(ctx context.Context, f bid.Filter) ([]bid.Bid, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.FarmerID != "" {
		where = append(where, "farmer_id = ?")
		args = append(args, f.FarmerID)
	}
	query := "SELECT " + bidColumns + " FROM bids"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY end_time, id"
	return r.selectBids(ctx, r.db.Rebind(query), args...)
}

// Expired returns open auctions whose end time is not after now.
func (r *Repository) Expired(ctx context.Context, now time.Time) ([]bid.Bid, error) {
	query := r.db.Rebind("SELECT " + bidColumns + " FROM bids WHERE status = ? AND end_time <= ? ORDER BY end_time")
	return r.selectBids(ctx, query, string(bid.StatusOpen), now.UTC())
}

func (r *Repository) selectBids(ctx context.Context, query string, args ...any) ([]bid.Bid, error) {
	var rows []bidRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	bids := make([]bid.Bid, 0, len(rows))
	for _, row := range rows {
		b, err := row.model()
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, nil
}

// PlaceOffer inserts the offer and moves the bid's price in one transaction.
// The update only applies if no other offer landed since b was read.
func (r *Repository) PlaceOffer(ctx context.Context, b bid.Bid, o bid.Offer) error {
	return sqlstore.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		insert := tx.Rebind("INSERT INTO offers (id, bid_id, buyer_id, amount, created_at) VALUES (?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, insert, o.ID, o.BidID, o.BuyerID, o.Amount.String(), o.CreatedAt.UTC()); err != nil {
			return err
		}
		update := tx.Rebind(`UPDATE bids SET current_price = ?, highest_bidder_id = ?, offer_count = ?
			WHERE id = ? AND offer_count = ? AND status = ?`)
		res, err := tx.ExecContext(ctx, update, b.CurrentPrice.String(), b.HighestBidderID, b.OfferCount,
			b.ID, b.OfferCount-1, string(bid.StatusOpen))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errStale
		}
		return nil
	})
}

// SetStatus writes the status and winner of an auction.
func (r *Repository) SetStatus(ctx context.Context, b bid.Bid) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE bids SET status = ?, winner_id = ? WHERE id = ?"), string(b.Status), b.WinnerID, b.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return bid.ErrNotFound
	}
	return nil
}

// Offers returns the offers of a bid, newest first.
func (r *Repository) Offers(ctx context.Context, bidID string) ([]bid.Offer, error) {
	var rows []offerRow
	query := r.db.Rebind("SELECT id, bid_id, buyer_id, amount, created_at FROM offers WHERE bid_id = ? ORDER BY created_at DESC, id DESC")
	if err := r.db.SelectContext(ctx, &rows, query, bidID); err != nil {
		return nil, err
	}
	offers := make([]bid.Offer, 0, len(rows))
	for _, row := range rows {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, err
		}
		offers = append(offers, bid.Offer{ID: row.ID, BidID: row.BidID, BuyerID: row.BuyerID, Amount: amount, CreatedAt: row.CreatedAt.UTC()})
	}
	return offers, nil
}
