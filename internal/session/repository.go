package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"agrimarket/pkg/session"
)

// Repository stores users and sessions.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wires the database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

type userRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Phone     string    `db:"phone"`
	Role      string    `db:"role"`
	PinHash   string    `db:"pin_hash"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) model() session.User {
	return session.User{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     r.Phone,
		Role:      session.Role(r.Role),
		PinHash:   r.PinHash,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type sessionRow struct {
	Token     string    `db:"token"`
	UserID    string    `db:"user_id"`
	Role      string    `db:"role"`
	Name      string    `db:"name"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

const userColumns = "id, name, phone, role, pin_hash, created_at"

// InsertUser stores a new account.
func (r *Repository) InsertUser(ctx context.Context, u session.User) error {
	query := r.db.Rebind("INSERT INTO users (" + userColumns + ") VALUES (?, ?, ?, ?, ?, ?)")
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Name, u.Phone, string(u.Role), u.PinHash, u.CreatedAt.UTC())
	return err
}

// UserByPhone looks an account up by its login phone.
func (r *Repository) UserByPhone(ctx context.Context, phone string) (session.User, error) {
	return r.user(ctx, "phone", phone)
}

// UserByID looks an account up by id.
func (r *Repository) UserByID(ctx context.Context, id string) (session.User, error) {
	return r.user(ctx, "id", id)
}

func (r *Repository) user(ctx context.Context, column, value string) (session.User, error) {
	var row userRow
	query := r.db.Rebind("SELECT " + userColumns + " FROM users WHERE " + column + " = ?")
	if err := r.db.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.User{}, session.ErrNotFound
		}
		return session.User{}, err
	}
	return row.model(), nil
}

// InsertSession stores an issued session.
func (r *Repository) InsertSession(ctx context.Context, s session.Session) error {
	query := r.db.Rebind("INSERT INTO sessions (token, user_id, role, name, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	_, err := r.db.ExecContext(ctx, query, s.Token, s.UserID, string(s.Role), s.Name, s.ExpiresAt.UTC(), s.CreatedAt.UTC())
	return err
}

// SessionByToken loads a session regardless of its expiry.
func (r *Repository) SessionByToken(ctx context.Context, token string) (session.Session, error) {
	var row sessionRow
	query := r.db.Rebind("SELECT token, user_id, role, name, expires_at, created_at FROM sessions WHERE token = ?")
	if err := r.db.GetContext(ctx, &row, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrSessionNotFound
		}
		return session.Session{}, err
	}
	return session.Session{
		Token:     row.Token,
		UserID:    row.UserID,
		Role:      session.Role(row.Role),
		Name:      row.Name,
		ExpiresAt: row.ExpiresAt.UTC(),
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

// DeleteSession removes a session and reports whether it existed.
func (r *Repository) DeleteSession(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM sessions WHERE token = ?"), token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpired drops every session whose expiry is not after now.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM sessions WHERE expires_at <= ?"), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
