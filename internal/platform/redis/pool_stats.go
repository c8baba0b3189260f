package redis

import (
	"context"
	"time"
)

// PoolStatsWorker refreshes the pool gauges on a fixed interval.
type PoolStatsWorker struct {
	client   *Client
	interval time.Duration
}

func NewPoolStatsWorker(client *Client, interval time.Duration) *PoolStatsWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PoolStatsWorker{client: client, interval: interval}
}

// Serve satisfies suture.Service.
func (w *PoolStatsWorker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.client.RecordPoolStats()
	for {
		select {
		case <-ticker.C:
			w.client.RecordPoolStats()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *PoolStatsWorker) String() string {
	return "redis-pool-stats"
}
