// Package sweeper runs the periodic housekeeping jobs of the marketplace.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BidCloser closes auctions past their end time.
type BidCloser interface {
	CloseExpired(ctx context.Context, now time.Time) (int, error)
}

// OverdueMarker flags bookings whose pickup day passed.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
}

// SessionPurger deletes expired sessions.
type SessionPurger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Result counts what one pass changed.
type Result struct {
	ClosedBids      int
	OverdueBookings int
	PurgedSessions  int64
}

// Sweeper runs every job on a fixed interval.
type Sweeper struct {
	bids     BidCloser
	bookings OverdueMarker
	sessions SessionPurger
	interval time.Duration
	lggr     *zap.SugaredLogger
	now      func() time.Time
}

// New builds a sweeper. The interval must be positive.
func New(bids BidCloser, bookings OverdueMarker, sessions SessionPurger, interval time.Duration, lggr *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		bids:     bids,
		bookings: bookings,
		sessions: sessions,
		interval: interval,
		lggr:     lggr.Named("sweeper"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.lggr.Infow("sweeper started", "interval", s.interval)
	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.lggr.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.RunOnce(ctx, s.now())
	if err != nil && ctx.Err() == nil {
		s.lggr.Errorw("sweep failed", "err", err)
	}
	if res != (Result{}) {
		s.lggr.Infow("sweep finished", "closed_bids", res.ClosedBids, "overdue_bookings", res.OverdueBookings, "purged_sessions", res.PurgedSessions)
	}
}

// RunOnce runs every job at now. A failing job does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	var (
		res  Result
		errs []error
		err  error
	)
	if res.ClosedBids, err = s.bids.CloseExpired(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("close bids: %w", err))
	}
	if res.OverdueBookings, err = s.bookings.MarkOverdue(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("mark overdue: %w", err))
	}
	if res.PurgedSessions, err = s.sessions.Purge(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("purge sessions: %w", err))
	}
	return res, errors.Join(errs...)
}
