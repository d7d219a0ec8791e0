package bid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agrimarket/pkg/actor"
	"agrimarket/pkg/crop"
	"agrimarket/pkg/fault"
	"agrimarket/pkg/session"
	"agrimarket/pkg/storage/sqlstore"
)

// Repository persists auctions and their offers.
type Repository interface {
	Create(ctx context.Context, b Bid) error
	Get(ctx context.Context, id string) (Bid, error)
	List(ctx context.Context, f Filter) ([]Bid, error)
	PlaceOffer(ctx context.Context, b Bid, o Offer) error
	SetStatus(ctx context.Context, b Bid) error
	Offers(ctx context.Context, bidID string) ([]Offer, error)
	Expired(ctx context.Context, now time.Time) ([]Bid, error)
}

// CropFinder resolves the crop an auction is attached to.
type CropFinder interface {
	Get(ctx context.Context, id string) (crop.Crop, error)
}

// Rules bound how auctions are run.
type Rules struct {
	MinIncrement decimal.Decimal
	MaxDuration  time.Duration
}

// Service runs auctions. Offers on every bid are applied one at a time.
type Service struct {
	repo  Repository
	crops CropFinder
	rules Rules
	loop  *actor.Actor
	lggr  *zap.SugaredLogger
	now   func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService starts the goroutine that serialises offers.
func NewService(repo Repository, crops CropFinder, rules Rules, lggr *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		crops: crops,
		rules: rules,
		loop:  actor.New(),
		lggr:  lggr.Named("bid"),
		now:   func() time.Time { return time.Now().UTC() },
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

// Create opens an auction for the calling farmer.
func (s *Service) Create(ctx context.Context, who session.Actor, l Listing) (Bid, error) {
	if who.Role != session.RoleFarmer {
		return Bid{}, fault.Forbidden("only farmers can open auctions")
	}
	if !l.StartingPrice.IsPositive() {
		return Bid{}, fault.Validation("starting price must be positive")
	}
	if l.QuantityKg <= 0 {
		return Bid{}, fault.Validation("quantity must be positive")
	}
	l.CropName = strings.TrimSpace(l.CropName)
	if l.CropID != "" {
		c, err := s.crops.Get(ctx, l.CropID)
		if err != nil {
			return Bid{}, err
		}
		if c.FarmerID != who.ID {
			return Bid{}, crop.ErrForbidden
		}
		l.CropName = c.Name
	}
	if l.CropName == "" {
		return Bid{}, fault.Validation("crop name is required")
	}

	return actor.Do(ctx, s.loop, func(ctx context.Context) (Bid, error) {
		now := s.now()
		if !l.EndTime.After(now) {
			return Bid{}, fault.Validation("end time must be in the future")
		}
		if s.rules.MaxDuration > 0 && l.EndTime.Sub(now) > s.rules.MaxDuration {
			return Bid{}, fault.Validation(fmt.Sprintf("auctions can run for at most %s", s.rules.MaxDuration))
		}
		price := l.StartingPrice.Round(2)
		b := Bid{
			ID:            sqlstore.NewID("bid"),
			FarmerID:      who.ID,
			CropID:        l.CropID,
			CropName:      l.CropName,
			QuantityKg:    l.QuantityKg,
			StartingPrice: price,
			CurrentPrice:  price,
			EndTime:       l.EndTime.UTC(),
			Status:        StatusOpen,
			CreatedAt:     now,
		}
		if err := s.repo.Create(ctx, b); err != nil {
			return Bid{}, fmt.Errorf("create bid: %w", err)
		}
		s.lggr.Infow("auction opened", "id", b.ID, "farmer", b.FarmerID, "crop", b.CropName, "ends", b.EndTime)
		return s.withRemaining(b), nil
	})
}

// PlaceOffer records a buyer's offer if it beats the current price.
func (s *Service) PlaceOffer(ctx context.Context, who session.Actor, bidID string, amount decimal.Decimal) (Bid, error) {
	if who.Role != session.RoleBuyer {
		return Bid{}, fault.Forbidden("only buyers can place offers")
	}
	if !amount.IsPositive() {
		return Bid{}, fault.Validation("amount must be positive")
	}
	amount = amount.Round(2)

	return actor.Do(ctx, s.loop, func(ctx context.Context) (Bid, error) {
		b, err := s.repo.Get(ctx, bidID)
		if err != nil {
			return Bid{}, err
		}
		if b.FarmerID == who.ID {
			return Bid{}, fault.Forbidden("farmers cannot bid on their own crop")
		}
		now := s.now()
		if b.Status != StatusOpen || !now.Before(b.EndTime) {
			return Bid{}, ErrAuctionEnded
		}
		minimum := b.StartingPrice
		if b.OfferCount > 0 {
			minimum = b.CurrentPrice.Add(s.rules.MinIncrement)
		}
		if amount.LessThan(minimum) {
			s.lggr.Warnw("offer rejected", "bid", b.ID, "buyer", who.ID, "amount", amount.StringFixed(2), "minimum", minimum.StringFixed(2))
			return Bid{}, fmt.Errorf("%w: at least %s", ErrBidTooLow, minimum.StringFixed(2))
		}

		o := Offer{ID: sqlstore.NewID("ofr"), BidID: b.ID, BuyerID: who.ID, Amount: amount, CreatedAt: now}
		b.CurrentPrice = amount
		b.HighestBidderID = who.ID
		b.OfferCount++
		if err := s.repo.PlaceOffer(ctx, b, o); err != nil {
			return Bid{}, fmt.Errorf("place offer: %w", err)
		}
		s.lggr.Infow("offer placed", "bid", b.ID, "buyer", who.ID, "amount", amount.StringFixed(2))
		return s.withRemaining(b), nil
	})
}

// Cancel withdraws an auction nobody has bid on yet.
func (s *Service) Cancel(ctx context.Context, who session.Actor, bidID string) (Bid, error) {
	return actor.Do(ctx, s.loop, func(ctx context.Context) (Bid, error) {
		b, err := s.repo.Get(ctx, bidID)
		if err != nil {
			return Bid{}, err
		}
		if b.FarmerID != who.ID {
			return Bid{}, ErrForbidden
		}
		if b.Status != StatusOpen {
			return Bid{}, ErrAuctionEnded
		}
		if b.OfferCount > 0 {
			return Bid{}, ErrHasOffers
		}
		b.Status = StatusCancelled
		if err := s.repo.SetStatus(ctx, b); err != nil {
			return Bid{}, fmt.Errorf("cancel bid: %w", err)
		}
		s.lggr.Infow("auction cancelled", "id", b.ID)
		return s.withRemaining(b), nil
	})
}

// CloseExpired closes every open auction past its end time and returns how many closed.
func (s *Service) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	return actor.Do(ctx, s.loop, func(ctx context.Context) (int, error) {
		expired, err := s.repo.Expired(ctx, now)
		if err != nil {
			return 0, fmt.Errorf("list expired bids: %w", err)
		}
		for i, b := range expired {
			b.Status = StatusClosed
			b.WinnerID = b.HighestBidderID
			if err := s.repo.SetStatus(ctx, b); err != nil {
				return i, fmt.Errorf("close bid %s: %w", b.ID, err)
			}
			s.lggr.Infow("auction closed", "id", b.ID, "winner", b.WinnerID, "price", b.CurrentPrice.StringFixed(2))
		}
		return len(expired), nil
	})
}

// Get returns one auction with its countdown.
func (s *Service) Get(ctx context.Context, id string) (Bid, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Bid{}, err
	}
	return s.withRemaining(b), nil
}

// List returns auctions matching the filter, soonest ending first.
func (s *Service) List(ctx context.Context, f Filter) ([]Bid, error) {
	switch f.Status {
	case "", StatusOpen, StatusClosed, StatusCancelled:
	default:
		return nil, fault.Validation(fmt.Sprintf("unknown bid status %q", f.Status))
	}
	bids, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range bids {
		bids[i] = s.withRemaining(bids[i])
	}
	return bids, nil
}

// Offers returns the offers on a bid, newest first.
func (s *Service) Offers(ctx context.Context, bidID string) ([]Offer, error) {
	if _, err := s.repo.Get(ctx, bidID); err != nil {
		return nil, err
	}
	return s.repo.Offers(ctx, bidID)
}

func (s *Service) withRemaining(b Bid) Bid {
	b.RemainingSeconds = b.Remaining(s.now())
	return b
}
