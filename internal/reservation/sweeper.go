package reservation

import (
	"context"
	"time"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Sweeper periodically expires overdue reservations. TTLs are soft deadlines:
// a hold outlives its expires_at until the next sweep pass picks it up.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a TTL sweeper running at the given interval
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting reservation TTL sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.manager.ExpireDue(ctx); err != nil {
				s.logger.Error("Reservation sweep failed", zap.Error(err))
			}
		}
	}
}
