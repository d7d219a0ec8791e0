package session

import (
	"time"

	"agrimarket/pkg/fault"
)

// Role scopes what an authenticated caller may do.
type Role string

const (
	RoleFarmer      Role = "farmer"
	RoleBuyer       Role = "buyer"
	RoleTransporter Role = "transporter"
	RoleAdmin       Role = "admin"
	RoleSupport     Role = "support"
)

// Staff reports whether the role belongs to marketplace operators.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleSupport
}

// User is a registered marketplace participant.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	PinHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the identity a client caches until ExpiresAt.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Actor is the authenticated caller passed to every domain service.
type Actor struct {
	ID   string
	Role Role
	Name string
}

// Actor extracts the caller identity from the session.
func (s Session) Actor() Actor {
	return Actor{ID: s.UserID, Role: s.Role, Name: s.Name}
}

var (
	ErrNotFound        = fault.NotFound("user not found")
	ErrPhoneTaken      = fault.Conflict("phone number is already registered")
	ErrBadCredentials  = fault.Unauthorized("invalid phone or pin")
	ErrUnknownSession  = fault.Unauthorized("unknown session")
	ErrSessionExpired  = fault.Unauthorized("session expired")
	ErrSessionNotFound = fault.NotFound("session not found")
)
