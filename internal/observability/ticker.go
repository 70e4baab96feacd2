package observability

import (
	"context"
	"time"
)

// MetricsTicker periodically refreshes the system-level gauges on a
// MetricsManager (goroutine count, memory stats). No entry point in this
// tree starts one.
type MetricsTicker struct {
	ctx           context.Context
	metricsManager *MetricsManager
	ticker        *time.Ticker
	done          chan struct{}
}

// NewMetricsTicker builds a ticker firing every 30 seconds.
func NewMetricsTicker(ctx context.Context, metricsManager *MetricsManager) *MetricsTicker {
	return &MetricsTicker{
		ctx:            ctx,
		metricsManager: metricsManager,
		ticker:         time.NewTicker(30 * time.Second),
		done:           make(chan struct{}),
	}
}

// Start runs the ticker loop in the background until Stop is called or ctx
// is cancelled.
func (m *MetricsTicker) Start() {
	go func() {
		defer m.ticker.Stop()
		for {
			select {
			case <-m.ticker.C:
				m.metricsManager.UpdateSystemMetrics(m.ctx)
			case <-m.ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

// Stop terminates the ticker loop.
func (m *MetricsTicker) Stop() {
	close(m.done)
}
