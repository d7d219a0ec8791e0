package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema only uses types both SQLite and PostgreSQL understand so one script serves both.
// Money columns are TEXT holding exact decimal strings.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		pin_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		role TEXT NOT NULL,
		name TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
	`CREATE TABLE IF NOT EXISTS crops (
		id TEXT PRIMARY KEY,
		farmer_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		variety TEXT NOT NULL DEFAULT '',
		quantity_kg DOUBLE PRECISION NOT NULL,
		price_per_kg TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		harvested_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crops_farmer ON crops(farmer_id)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		farmer_id TEXT NOT NULL REFERENCES users(id),
		transporter_id TEXT NOT NULL DEFAULT '',
		crop_name TEXT NOT NULL,
		weight_kg DOUBLE PRECISION NOT NULL,
		vehicle_type TEXT NOT NULL,
		pickup_address TEXT NOT NULL,
		drop_address TEXT NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		pickup_date TIMESTAMP NOT NULL,
		price TEXT NOT NULL,
		status TEXT NOT NULL,
		cancellation_requested BOOLEAN NOT NULL DEFAULT FALSE,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		cancellation_requested_by TEXT NOT NULL DEFAULT '',
		overdue_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_farmer ON bookings(farmer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_transporter ON bookings(transporter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
	`CREATE TABLE IF NOT EXISTS booking_events (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id),
		seq INTEGER NOT NULL,
		action TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		at TIMESTAMP NOT NULL,
		UNIQUE (booking_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id TEXT PRIMARY KEY,
		farmer_id TEXT NOT NULL REFERENCES users(id),
		crop_id TEXT NOT NULL DEFAULT '',
		crop_name TEXT NOT NULL,
		quantity_kg DOUBLE PRECISION NOT NULL,
		starting_price TEXT NOT NULL,
		current_price TEXT NOT NULL,
		highest_bidder_id TEXT NOT NULL DEFAULT '',
		offer_count INTEGER NOT NULL DEFAULT 0,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		winner_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_status_end ON bids(status, end_time)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		bid_id TEXT NOT NULL REFERENCES bids(id),
		buyer_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offers_bid ON offers(bid_id)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		subject TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		last_message_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id)`,
	`CREATE TABLE IF NOT EXISTS ticket_messages (
		id TEXT PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		seq INTEGER NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		read_at TIMESTAMP NULL,
		UNIQUE (ticket_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_messages_client ON ticket_messages(ticket_id, client_id)`,
	`CREATE TABLE IF NOT EXISTS plant_consultations (
		id TEXT PRIMARY KEY,
		farmer_id TEXT NOT NULL REFERENCES users(id),
		crop TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plant_consultations_farmer ON plant_consultations(farmer_id)`,
}

// Migrate executes the CREATE statements; each one is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
