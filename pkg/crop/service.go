package crop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agrimarket/pkg/actor"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
	"agrimarket/pkg/storage/sqlstore"
)

// Repository persists crop listings.
type Repository interface {
	Save(ctx context.Context, c Crop) error
	Update(ctx context.Context, c Crop) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Crop, error)
	List(ctx context.Context, f Filter) ([]Crop, error)
}

// Service owns a goroutine so listing edits are applied one at a time.
type Service struct {
	repo Repository
	loop *actor.Actor
	lggr *zap.SugaredLogger
	now  func() time.Time
}

// NewService starts the background goroutine immediately so HTTP handlers only see non-blocking calls.
func NewService(repo Repository, lggr *zap.SugaredLogger) *Service {
	return &Service{
		repo: repo,
		loop: actor.New(),
		lggr: lggr.Named("crop"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Close stops the background goroutine when the application shuts down.
func (s *Service) Close() {
	s.loop.Close()
}

// Add lists a fresh harvest for the calling farmer.
func (s *Service) Add(ctx context.Context, who session.Actor, l Listing) (Crop, error) {
	if who.Role != session.RoleFarmer {
		return Crop{}, fault.Forbidden("only farmers can list crops")
	}
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return Crop{}, fault.Validation("crop name is required")
	}
	if l.QuantityKg <= 0 {
		return Crop{}, fault.Validation("quantity must be positive")
	}
	if !l.PricePerKg.IsPositive() {
		return Crop{}, fault.Validation("price per kg must be positive")
	}

	return actor.Do(ctx, s.loop, func(ctx context.Context) (Crop, error) {
		c := Crop{
			ID:          sqlstore.NewID("crp"),
			FarmerID:    who.ID,
			Name:        l.Name,
			Variety:     strings.TrimSpace(l.Variety),
			QuantityKg:  l.QuantityKg,
			PricePerKg:  l.PricePerKg.Round(2),
			Location:    strings.TrimSpace(l.Location),
			HarvestedAt: utcPtr(l.HarvestedAt),
			CreatedAt:   s.now(),
		}
		if err := s.repo.Save(ctx, c); err != nil {
			return Crop{}, fmt.Errorf("save crop: %w", err)
		}
		s.lggr.Infow("crop listed", "id", c.ID, "farmer", c.FarmerID, "name", c.Name)
		return c, nil
	})
}

// Update changes quantity, price or harvest date. Zero quantity marks the crop sold out.
func (s *Service) Update(ctx context.Context, who session.Actor, id string, ch Change) (Crop, error) {
	if ch.QuantityKg < 0 {
		return Crop{}, fault.Validation("quantity cannot be negative")
	}
	if !ch.PricePerKg.IsPositive() {
		return Crop{}, fault.Validation("price per kg must be positive")
	}
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Crop, error) {
		c, err := s.repo.Get(ctx, id)
		if err != nil {
			return Crop{}, err
		}
		if c.FarmerID != who.ID {
			return Crop{}, ErrForbidden
		}
		c.QuantityKg = ch.QuantityKg
		c.PricePerKg = ch.PricePerKg.Round(2)
		c.HarvestedAt = utcPtr(ch.HarvestedAt)
		if err := s.repo.Update(ctx, c); err != nil {
			return Crop{}, fmt.Errorf("update crop: %w", err)
		}
		return c, nil
	})
}

// Delete removes a listing; admins may remove any.
func (s *Service) Delete(ctx context.Context, who session.Actor, id string) error {
	_, err := actor.Do(ctx, s.loop, func(ctx context.Context) (struct{}, error) {
		c, err := s.repo.Get(ctx, id)
		if err != nil {
			return struct{}{}, err
		}
		if c.FarmerID != who.ID && who.Role != session.RoleAdmin {
			return struct{}{}, ErrForbidden
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return struct{}{}, fmt.Errorf("delete crop: %w", err)
		}
		s.lggr.Infow("crop removed", "id", id, "by", who.ID)
		return struct{}{}, nil
	})
	return err
}

// Get returns one listing.
func (s *Service) Get(ctx context.Context, id string) (Crop, error) {
	return s.repo.Get(ctx, id)
}

// List returns listings matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Crop, error) {
	f.Name = strings.TrimSpace(f.Name)
	return s.repo.List(ctx, f)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
