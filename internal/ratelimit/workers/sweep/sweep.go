// Package sweep evicts stale rate limit windows so the in-memory limiter's
// key space stays bounded by recently active actors.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/ratelimit/metrics"
)

// Sweeper is implemented by the in-memory limiter.
type Sweeper interface {
	Sweep(grace time.Duration) int
}

// Multi sweeps each limiter in turn and sums the evictions.
type Multi []Sweeper

func (m Multi) Sweep(grace time.Duration) int {
	total := 0
	for _, s := range m {
		total += s.Sweep(grace)
	}
	return total
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithGrace sets how long past resetAt a window is kept before eviction.
func WithGrace(grace time.Duration) Option {
	return func(w *Worker) {
		if grace >= 0 {
			w.grace = grace
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// Result describes a single sweep run.
type Result struct {
	Evicted  int
	Duration time.Duration
}

type Worker struct {
	sweeper  Sweeper
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
	metrics  *metrics.Metrics
}

func New(sweeper Sweeper, opts ...Option) *Worker {
	w := &Worker{
		sweeper:  sweeper,
		logger:   slog.Default(),
		interval: time.Minute,
		grace:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Serve runs the sweep loop until ctx is cancelled. It satisfies suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res := w.RunOnce()
			if res.Evicted > 0 {
				w.logger.Info("ratelimit_sweep_completed",
					"component", "ratelimit_sweep",
					"evicted", res.Evicted,
					"duration_ms", res.Duration.Milliseconds(),
				)
			}
		case <-ctx.Done():
			w.logger.Info("ratelimit sweep worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep.
func (w *Worker) RunOnce() Result {
	start := time.Now()
	evicted := w.sweeper.Sweep(w.grace)
	res := Result{Evicted: evicted, Duration: time.Since(start)}

	if w.metrics != nil {
		w.metrics.SweepEvicted.Add(float64(evicted))
		w.metrics.SweepDuration.Observe(res.Duration.Seconds())
	}
	return res
}

func (w *Worker) String() string {
	return "ratelimit-sweep"
}
