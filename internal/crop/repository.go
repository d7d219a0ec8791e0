package crop

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"agrimarket/pkg/crop"
)

// Repository persists crop listings.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wires the database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type cropRow struct {
	ID          string       `db:"id"`
	FarmerID    string       `db:"farmer_id"`
	Name        string       `db:"name"`
	Variety     string       `db:"variety"`
	QuantityKg  float64      `db:"quantity_kg"`
	PricePerKg  string       `db:"price_per_kg"`
	Location    string       `db:"location"`
	HarvestedAt sql.NullTime `db:"harvested_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r cropRow) model() (crop.Crop, error) {
	price, err := decimal.NewFromString(r.PricePerKg)
	if err != nil {
		return crop.Crop{}, err
	}
	c := crop.Crop{
		ID:         r.ID,
		FarmerID:   r.FarmerID,
		Name:       r.Name,
		Variety:    r.Variety,
		QuantityKg: r.QuantityKg,
		PricePerKg: price,
		Location:   r.Location,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.HarvestedAt.Valid {
		at := r.HarvestedAt.Time.UTC()
		c.HarvestedAt = &at
	}
	return c, nil
}

func harvested(c crop.Crop) sql.NullTime {
	if c.HarvestedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: c.HarvestedAt.UTC(), Valid: true}
}

const cropColumns = "id, farmer_id, name, variety, quantity_kg, price_per_kg, location, harvested_at, created_at"

// Save inserts a new listing.
func (r *Repository) Save(ctx context.Context, c crop.Crop) error {
	query := r.db.Rebind("INSERT INTO crops (" + cropColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := r.db.ExecContext(ctx, query, c.ID, c.FarmerID, c.Name, c.Variety, c.QuantityKg, c.PricePerKg.String(), c.Location, harvested(c), c.CreatedAt.UTC())
	return err
}

// Update refreshes quantity and pricing.
func (r *Repository) Update(ctx context.Context, c crop.Crop) error {
	query := r.db.Rebind("UPDATE crops SET quantity_kg = ?, price_per_kg = ?, harvested_at = ? WHERE id = ?")
	res, err := r.db.ExecContext(ctx, query, c.QuantityKg, c.PricePerKg.String(), harvested(c), c.ID)
	if err != nil {
		return err
	}
	return affected(res)
}

// Delete removes a listing entirely.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM crops WHERE id = ?"), id)
	if err != nil {
		return err
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return crop.ErrNotFound
	}
	return nil
}

// Get loads one listing.
func (r *Repository) Get(ctx context.Context, id string) (crop.Crop, error) {
	var row cropRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind("SELECT "+cropColumns+" FROM crops WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crop.Crop{}, crop.ErrNotFound
		}
		return crop.Crop{}, err
	}
	return row.model()
}

// List fetches listings matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f crop.Filter) ([]crop.Crop, error) {
	var (
		where []string
		args  []any
	)
	if f.FarmerID != "" {
		where = append(where, "farmer_id = ?")
		args = append(args, f.FarmerID)
	}
	if f.Name != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Name)+"%")
	}
	query := "SELECT " + cropColumns + " FROM crops"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	var rows []cropRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	crops := make([]crop.Crop, 0, len(rows))
	for _, row := range rows {
		c, err := row.model()
		if err != nil {
			return nil, err
		}
		crops = append(crops, c)
	}
	return crops, nil
}
