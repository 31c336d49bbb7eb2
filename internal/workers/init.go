package workers

import (
	"context"
	"time"

	"cryptorafts/platform/internal/metrics"
)

const monitorInterval = 30 * time.Second

type WorkersContainer struct {
	Executor *TaskExecutor
	Monitor  *ExecutorMonitor
}

// InitWorkers starts the background task executor and its monitor. The
// monitor stops with ctx; the executor is stopped through Executor.Shutdown.
func InitWorkers(ctx context.Context, cfg ExecutorConfig, m *metrics.MetricsRegistry) *WorkersContainer {
	executor := NewTaskExecutor(cfg, m)
	monitor := NewExecutorMonitor(executor)

	go monitor.Start(ctx, monitorInterval)

	return &WorkersContainer{
		Executor: executor,
		Monitor:  monitor,
	}
}
