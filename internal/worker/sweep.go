package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper removes registrations abandoned past their verification deadline.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// RunSweep calls s every interval until ctx is done. A non-positive interval disables it.
func RunSweep(ctx context.Context, s Sweeper, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				logger.Warn("expired account sweep failed", zap.Error(err))
			}
		}
	}
}
