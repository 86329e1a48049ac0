package index

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Refresher periodically rebuilds an HNSWFinder in the background.
type Refresher struct {
	scheduler *gocron.Scheduler
}

// StartRefresher schedules finder.Refresh every interval. Each run gets its own
// timeout so a slow database cannot pile up rebuilds.
func StartRefresher(finder *HNSWFinder, interval, timeout time.Duration, logger *zap.Logger) (*Refresher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	if timeout <= 0 {
		timeout = interval
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := finder.Refresh(ctx); err != nil {
			logger.Warn("gallery index refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule index refresh: %w", err)
	}

	scheduler.StartAsync()
	return &Refresher{scheduler: scheduler}, nil
}

// Stop halts the schedule. Running refreshes finish on their own.
func (r *Refresher) Stop() {
	r.scheduler.Stop()
}
