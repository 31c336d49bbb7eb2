package workers

import (
	"context"
	"time"

	"cryptorafts/platform/internal/logging"
)

// StatsSource is anything whose counters the monitor reports
type StatsSource interface {
	Stats() ExecutorStats
}

// ExecutorMonitor periodically logs task executor health
type ExecutorMonitor struct {
	source StatsSource
	last   ExecutorStats
}

func NewExecutorMonitor(source StatsSource) *ExecutorMonitor {
	return &ExecutorMonitor{source: source}
}

// Start logs executor stats every interval until ctx ends
func (m *ExecutorMonitor) Start(ctx context.Context, interval time.Duration) {
	logging.Info("Starting executor monitoring", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Executor monitor shutting down")
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *ExecutorMonitor) check() ExecutorStats {
	stats := m.source.Stats()
	failedSince := stats.Failed - m.last.Failed
	m.last = stats

	fields := []interface{}{
		"queued", stats.Queued,
		"delayed", stats.Delayed,
		"in_flight", stats.InFlight,
		"completed", stats.Completed,
		"failed_since_last_check", failedSince,
	}
	if failedSince > 0 {
		logging.Warn("Background tasks failing", fields...)
	} else {
		logging.Debug("Task executor status", fields...)
	}
	return stats
}
