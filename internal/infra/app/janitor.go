package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultCleanupInterval = time.Hour

type expiredCodeCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// runJanitor purges expired verification codes every interval until ctx ends.
func runJanitor(ctx context.Context, cleaner expiredCodeCleaner, interval time.Duration, log *zap.Logger) {
	if cleaner == nil {
		return
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cleaner.CleanupExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("verification code cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				log.Info("purged verification codes", zap.Int64("removed", removed))
			}
		}
	}
}
