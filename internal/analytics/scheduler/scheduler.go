// Package scheduler triggers the daily rollup on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"warden/internal/analytics/models"
)

// DefaultSchedule runs shortly after midnight UTC.
const DefaultSchedule = "15 0 * * *"

type Aggregator interface {
	AggregateDay(ctx context.Context, date time.Time) (*models.AggregationResult, error)
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLookback sets how many completed days each tick re-aggregates,
// ending with yesterday. Late events for those days are picked up.
func WithLookback(days int) Option {
	return func(s *Scheduler) {
		if days > 0 {
			s.lookback = days
		}
	}
}

type Scheduler struct {
	engine   Aggregator
	schedule string
	logger   *slog.Logger
	now      func() time.Time
	lookback int
}

func New(engine Aggregator, schedule string, opts ...Option) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid aggregation schedule %q", schedule)
	}
	s := &Scheduler{
		engine:   engine,
		schedule: schedule,
		logger:   slog.Default(),
		now:      time.Now,
		lookback: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve waits for each tick in UTC and runs the rollup. It satisfies suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	for {
		now := s.now().UTC()
		next, err := gronx.NextTickAfter(s.schedule, now, false)
		if err != nil {
			return fmt.Errorf("compute next aggregation tick: %w", err)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("aggregation scheduler stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-timer.C:
			s.RunOnce(ctx, next)
		}
	}
}

// RunOnce aggregates the lookback days before at, oldest first. Failures are
// logged and do not stop the remaining days.
func (s *Scheduler) RunOnce(ctx context.Context, at time.Time) []*models.AggregationResult {
	today := models.Day(at)
	results := make([]*models.AggregationResult, 0, s.lookback)
	for back := s.lookback; back >= 1; back-- {
		day := today.AddDate(0, 0, -back)
		res, err := s.engine.AggregateDay(ctx, day)
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduled_aggregation_failed",
				"component", "aggregation_scheduler",
				"date", day.Format(models.DateLayout),
				"error", err,
			)
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results
}

func (s *Scheduler) String() string {
	return "analytics-scheduler"
}
