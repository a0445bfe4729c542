package sweeper

import (
	"context"
	"fmt"
	"time"

	"tikiti/internal/logger"
	"tikiti/internal/models"
)

const batchSize = 100

// Store finds settled orders that never got their ticket.
type Store interface {
	GetUnfulfilledPaidOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// Issuer is the same idempotent issuance path the payment callback uses.
type Issuer interface {
	Issue(ctx context.Context, order *models.Order) (*models.Ticket, error)
}

// Sweeper is the recovery loop for orders whose payment settled but whose
// ticket issuance failed (crash, transient database or queue outage). It
// periodically re-feeds such orders through the issuer; issuance being
// idempotent makes re-sweeping an already-recovered order harmless.
type Sweeper struct {
	Store    Store
	Issuer   Issuer
	Interval time.Duration
	Grace    time.Duration
	Log      *logger.Logger
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Log.Info("SWEEPER", fmt.Sprintf("Recovery sweep every %s, grace %s", s.Interval, s.Grace))

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("SWEEPER", "Recovery sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. The grace period keeps it from racing an issuance
// that is still in flight on the callback path.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.Grace)
	orders, err := s.Store.GetUnfulfilledPaidOrders(ctx, cutoff, batchSize)
	if err != nil {
		s.Log.Error("SWEEPER", fmt.Sprintf("Failed to list unfulfilled orders: %v", err))
		return
	}
	if len(orders) == 0 {
		return
	}

	s.Log.Warn("SWEEPER", fmt.Sprintf("Found %d paid orders without tickets", len(orders)))
	for i := range orders {
		order := &orders[i]
		if _, err := s.Issuer.Issue(ctx, order); err != nil {
			s.Log.Error("SWEEPER", fmt.Sprintf("Re-issue failed for order %s: %v", order.ID, err))
			continue
		}
		s.Log.LogOrder("RECOVERED", order.ID, fmt.Sprintf("Ticket issued for order %s by recovery sweep", order.OrderNumber))
	}
}
