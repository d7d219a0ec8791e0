package plantdoctor

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"agrimarket/pkg/plantdoctor"
)

// Repository persists consultations.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wires the database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type consultationRow struct {
	ID        string    `db:"id"`
	FarmerID  string    `db:"farmer_id"`
	Crop      string    `db:"crop"`
	Question  string    `db:"question"`
	Answer    string    `db:"answer"`
	CreatedAt time.Time `db:"created_at"`
}

// Save stores one consultation.
func (r *Repository) Save(ctx context.Context, c plantdoctor.Consultation) error {
	query := r.db.Rebind("INSERT INTO plant_consultations (id, farmer_id, crop, question, answer, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	_, err := r.db.ExecContext(ctx, query, c.ID, c.FarmerID, c.Crop, c.Question, c.Answer, c.CreatedAt.UTC())
	return err
}

// Recent returns up to limit consultations of a farmer, newest first.
func (r *Repository) Recent(ctx context.Context, farmerID string, limit int) ([]plantdoctor.Consultation, error) {
	var rows []consultationRow
	query := r.db.Rebind("SELECT id, farmer_id, crop, question, answer, created_at FROM plant_consultations WHERE farmer_id = ? ORDER BY created_at DESC, id DESC LIMIT ?")
	if err := r.db.SelectContext(ctx, &rows, query, farmerID, limit); err != nil {
		return nil, err
	}
	out := make([]plantdoctor.Consultation, 0, len(rows))
	for _, row := range rows {
		out = append(out, plantdoctor.Consultation{
			ID:        row.ID,
			FarmerID:  row.FarmerID,
			Crop:      row.Crop,
			Question:  row.Question,
			Answer:    row.Answer,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return out, nil
}
