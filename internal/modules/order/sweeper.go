package order

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer cancels orders that have waited too long for payment.
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically expires stale pending orders.
type Sweeper struct {
	expirer  Expirer
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(expirer Expirer, ttl, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{expirer: expirer, ttl: ttl, interval: interval, logger: logger}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("order sweeper started", zap.Duration("ttl", s.ttl), zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("order sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireStale(ctx, s.ttl)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("expire stale orders", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Info("expired stale orders", zap.Int("count", n))
	}
}
