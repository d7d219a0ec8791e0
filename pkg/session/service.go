package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"agrimarket/pkg/actor"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/storage/sqlstore"
)

// Repository persists users and sessions.
type Repository interface {
	InsertUser(ctx context.Context, u User) error
	UserByPhone(ctx context.Context, phone string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	InsertSession(ctx context.Context, s Session) error
	SessionByToken(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

var pinPattern = regexp.MustCompile(`^[0-9]{4,8}$`)

// Service registers users and issues expiring sessions.
type Service struct {
	repo Repository
	ttl  time.Duration
	loop *actor.Actor
	lggr *zap.SugaredLogger
	now  func() time.Time
	cost int
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHashCost sets the bcrypt cost used for new pins.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService starts the goroutine that serialises registrations and logins.
func NewService(repo Repository, ttl time.Duration, lggr *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		ttl:  ttl,
		loop: actor.New(),
		lggr: lggr.Named("session"),
		now:  func() time.Time { return time.Now().UTC() },
		cost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops the background goroutine.
func (s *Service) Close() {
	s.loop.Close()
}

// Register creates a self-service account for farmers, buyers and transporters.
func (s *Service) Register(ctx context.Context, name, phone string, role Role, pin string) (User, error) {
	switch role {
	case RoleFarmer, RoleBuyer, RoleTransporter:
	default:
		return User{}, fault.Validation("role must be farmer, buyer or transporter")
	}
	return s.createUser(ctx, name, phone, role, pin)
}

// CreateStaff creates admin and support accounts; only the CLI calls it.
func (s *Service) CreateStaff(ctx context.Context, name, phone string, role Role, pin string) (User, error) {
	if !role.Staff() {
		return User{}, fault.Validation("role must be admin or support")
	}
	return s.createUser(ctx, name, phone, role, pin)
}

func (s *Service) createUser(ctx context.Context, name, phone string, role Role, pin string) (User, error) {
	name = strings.TrimSpace(name)
	phone = normalizePhone(phone)
	if name == "" {
		return User{}, fault.Validation("name is required")
	}
	if len(phone) < 7 {
		return User{}, fault.Validation("phone is required")
	}
	if !pinPattern.MatchString(pin) {
		return User{}, fault.Validation("pin must be 4 to 8 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash pin: %w", err)
	}

	return actor.Do(ctx, s.loop, func(ctx context.Context) (User, error) {
		if _, err := s.repo.UserByPhone(ctx, phone); err == nil {
			return User{}, ErrPhoneTaken
		} else if !errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		u := User{
			ID:        sqlstore.NewID("usr"),
			Name:      name,
			Phone:     phone,
			Role:      role,
			PinHash:   string(hash),
			CreatedAt: s.now(),
		}
		if err := s.repo.InsertUser(ctx, u); err != nil {
			return User{}, fmt.Errorf("insert user: %w", err)
		}
		s.lggr.Infow("user registered", "id", u.ID, "role", u.Role)
		return u, nil
	})
}

// Login checks the pin and issues a session valid for the configured TTL.
func (s *Service) Login(ctx context.Context, phone, pin string) (Session, error) {
	u, err := s.repo.UserByPhone(ctx, normalizePhone(phone))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrBadCredentials
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PinHash), []byte(pin)); err != nil {
		s.lggr.Warnw("login rejected", "user", u.ID)
		return Session{}, ErrBadCredentials
	}

	return actor.Do(ctx, s.loop, func(ctx context.Context) (Session, error) {
		now := s.now()
		sess := Session{
			Token:     sqlstore.NewID("ses"),
			UserID:    u.ID,
			Role:      u.Role,
			Name:      u.Name,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}
		if err := s.repo.InsertSession(ctx, sess); err != nil {
			return Session{}, fmt.Errorf("insert session: %w", err)
		}
		return sess, nil
	})
}

// Resolve returns the live session for token. Expired sessions are removed on sight.
func (s *Service) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrUnknownSession
	}
	sess, err := s.repo.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, ErrUnknownSession
		}
		return Session{}, err
	}
	if sess.Expired(s.now()) {
		_, err := actor.Do(ctx, s.loop, func(ctx context.Context) (bool, error) {
			return s.repo.DeleteSession(ctx, token)
		})
		if err != nil {
			s.lggr.Errorw("failed to drop expired session", "user", sess.UserID, "err", err)
		}
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// User returns the account behind an id.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.repo.UserByID(ctx, id)
}

// Logout ends a session.
func (s *Service) Logout(ctx context.Context, token string) error {
	_, err := actor.Do(ctx, s.loop, func(ctx context.Context) (struct{}, error) {
		removed, err := s.repo.DeleteSession(ctx, token)
		if err != nil {
			return struct{}{}, err
		}
		if !removed {
			return struct{}{}, ErrSessionNotFound
		}
		return struct{}{}, nil
	})
	return err
}

// Purge deletes every session that expired before now and reports how many went.
func (s *Service) Purge(ctx context.Context, now time.Time) (int64, error) {
	return actor.Do(ctx, s.loop, func(ctx context.Context) (int64, error) {
		return s.repo.DeleteExpired(ctx, now)
	})
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
