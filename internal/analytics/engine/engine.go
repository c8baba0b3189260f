// Package engine rolls raw activity into per-day metrics and answers trend,
// dashboard and export queries over the rolled-up rows.
//
// AggregateDay is a pure function of its date argument and the stored
// events: re-running it for the same day replaces that day's rows with
// identical ones. Only one run executes at a time; an overlapping call
// returns a skipped result immediately.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"warden/internal/analytics/definitions"
	"warden/internal/analytics/metrics"
	"warden/internal/analytics/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/validation"
)

const (
	DefaultTimeout     = 2 * time.Minute
	DefaultParallelism = 4
)

// Store holds derived rows.
type Store interface {
	// ReplaceMetric makes rows the complete set for (date, name).
	ReplaceMetric(ctx context.Context, date time.Time, name string, rows []models.DailyMetric) error
	List(ctx context.Context, f models.ListFilter) ([]models.DailyMetric, error)
	// LatestDate reports the most recent day with any row.
	LatestDate(ctx context.Context) (time.Time, bool, error)
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithTimeout bounds a single AggregateDay run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

func WithDefinitions(defs []definitions.Definition) Option {
	return func(e *Engine) {
		e.defs = defs
	}
}

type Engine struct {
	source      definitions.Source
	store       Store
	defs        []definitions.Definition
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time
	timeout     time.Duration
	parallelism int

	running sync.Mutex
}

func New(source definitions.Source, store Store, opts ...Option) *Engine {
	e := &Engine{
		source:      source,
		store:       store,
		defs:        definitions.Default(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("warden/analytics"),
		now:         time.Now,
		timeout:     DefaultTimeout,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MetricNames lists every metric the engine produces.
func (e *Engine) MetricNames() []string {
	names := make([]string, len(e.defs))
	for i, d := range e.defs {
		names[i] = d.Name
	}
	return names
}

// AggregateDay computes every metric for date's UTC day and replaces the
// stored rows. A failing metric is reported in the result and does not stop
// the others. An error is returned only for invalid input or when the run
// outlives its timeout.
func (e *Engine) AggregateDay(ctx context.Context, date time.Time) (*models.AggregationResult, error) {
	day := models.Day(date)
	res := &models.AggregationResult{Date: day.Format(models.DateLayout), Metrics: []models.MetricOutcome{}}
	if day.After(models.Day(e.now())) {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot aggregate a future day")
	}

	if !e.running.TryLock() {
		res.Status = models.StatusSkipped
		e.logger.WarnContext(ctx, "aggregation_skipped", "date", res.Date, "reason", "run_in_progress")
		e.metrics.ObserveRun(string(res.Status), 0, 0)
		return res, nil
	}
	defer e.running.Unlock()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "analytics.aggregate_day",
		trace.WithAttributes(attribute.String("analytics.date", res.Date)))
	defer span.End()

	start := time.Now()
	outcomes := make([]models.MetricOutcome, len(e.defs))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, def := range e.defs {
		g.Go(func() error {
			outcomes[i] = e.runMetric(ctx, def, day)
			return nil
		})
	}
	_ = g.Wait()

	res.Metrics = outcomes
	for _, o := range outcomes {
		if o.Error != "" {
			res.Failed++
			continue
		}
		res.Written += o.Rows
	}
	switch {
	case res.Failed == 0:
		res.Status = models.StatusSuccess
	case res.Failed == len(outcomes):
		res.Status = models.StatusFailed
	default:
		res.Status = models.StatusPartial
	}
	elapsed := time.Since(start)
	res.DurationMS = elapsed.Milliseconds()

	e.metrics.ObserveRun(string(res.Status), elapsed.Seconds(), res.Written)
	span.SetAttributes(
		attribute.String("analytics.status", string(res.Status)),
		attribute.Int("analytics.rows_written", res.Written),
		attribute.Int("analytics.metrics_failed", res.Failed),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "aggregation timed out")
		e.logger.ErrorContext(ctx, "aggregation_timed_out", "date", res.Date, "status", string(res.Status), "error", err)
		return res, dErrors.Wrap(err, dErrors.CodeTimeout, "aggregation did not finish in time")
	}
	if res.Status == models.StatusSuccess {
		e.metrics.MarkSuccess(float64(e.now().Unix()))
	} else {
		span.SetStatus(codes.Error, "metrics failed")
	}
	e.logger.InfoContext(ctx, "aggregation_completed",
		"date", res.Date,
		"status", string(res.Status),
		"rows_written", res.Written,
		"metrics_failed", res.Failed,
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

func (e *Engine) runMetric(ctx context.Context, def definitions.Definition, day time.Time) (out models.MetricOutcome) {
	out.Name = def.Name
	ctx, span := e.tracer.Start(ctx, "analytics.metric",
		trace.WithAttributes(attribute.String("analytics.metric", def.Name)))
	defer span.End()

	// One metric must never take the run down with it.
	defer func() {
		if r := recover(); r != nil {
			out.Rows = 0
			out.Error = fmt.Sprintf("panic: %v", r)
			e.failMetric(ctx, span, def.Name, out.Error)
		}
	}()

	values, err := def.Compute(ctx, e.source, day, day.AddDate(0, 0, 1))
	if err != nil {
		out.Error = "compute: " + err.Error()
		e.failMetric(ctx, span, def.Name, out.Error)
		return out
	}

	rows := make([]models.DailyMetric, len(values))
	for i, v := range values {
		dims := v.Dimensions
		if dims == nil {
			dims = map[string]string{}
		}
		rows[i] = models.DailyMetric{Date: day, Name: def.Name, Value: v.Value, Dimensions: dims}
	}
	if err := e.store.ReplaceMetric(ctx, day, def.Name, rows); err != nil {
		out.Error = "store: " + err.Error()
		e.failMetric(ctx, span, def.Name, out.Error)
		return out
	}
	out.Rows = len(rows)
	span.SetAttributes(attribute.Int("analytics.rows", out.Rows))
	return out
}

func (e *Engine) failMetric(ctx context.Context, span trace.Span, name, reason string) {
	e.metrics.IncMetricFailure(name)
	span.SetStatus(codes.Error, reason)
	e.logger.ErrorContext(ctx, "aggregation_metric_failed", "metric", name, "error", reason)
}

func (e *Engine) known(name string) bool {
	return slices.ContainsFunc(e.defs, func(d definitions.Definition) bool { return d.Name == name })
}

// Trend returns one point per day for the trailing days ending today (UTC),
// oldest first. Days without a row read as 0.
func (e *Engine) Trend(ctx context.Context, name string, days int) ([]models.TrendPoint, error) {
	if !e.known(name) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown metric")
	}
	if days < 1 || days > validation.MaxTrendDays {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("days must be between 1 and %d", validation.MaxTrendDays))
	}
	end := models.Day(e.now())
	start := end.AddDate(0, 0, -(days - 1))

	rows, err := e.store.List(ctx, models.ListFilter{Name: name, From: start, To: end, UndimensionedOnly: true})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to load metric rows")
	}
	byDate := make(map[string]float64, len(rows))
	for _, r := range rows {
		byDate[r.Date.Format(models.DateLayout)] = r.Value
	}

	points := make([]models.TrendPoint, days)
	for i := range days {
		d := start.AddDate(0, 0, i).Format(models.DateLayout)
		points[i] = models.TrendPoint{Date: d, Value: byDate[d]}
	}
	return points, nil
}

// DashboardKPIs compares the latest aggregated day with the day before.
func (e *Engine) DashboardKPIs(ctx context.Context) (*models.Dashboard, error) {
	latest, ok, err := e.store.LatestDate(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to find latest metrics")
	}
	if !ok {
		return &models.Dashboard{KPIs: []models.KPI{}}, nil
	}
	previous := latest.AddDate(0, 0, -1)

	rows, err := e.store.List(ctx, models.ListFilter{From: previous, To: latest, UndimensionedOnly: true})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to load metric rows")
	}
	current := map[string]float64{}
	prior := map[string]float64{}
	for _, r := range rows {
		if r.Date.Equal(latest) {
			current[r.Name] = r.Value
		} else {
			prior[r.Name] = r.Value
		}
	}

	d := &models.Dashboard{
		Date:         latest.Format(models.DateLayout),
		PreviousDate: previous.Format(models.DateLayout),
		KPIs:         make([]models.KPI, 0, len(definitions.KPINames)),
	}
	for _, name := range definitions.KPINames {
		d.KPIs = append(d.KPIs, NewKPI(name, current[name], prior[name]))
	}
	return d, nil
}

// NewKPI derives the day-over-day change. A zero previous value has no
// percentage: the change is "new" when current is positive, "flat" otherwise.
func NewKPI(name string, current, previous float64) models.KPI {
	k := models.KPI{Name: name, Current: current, Previous: previous}
	if previous == 0 {
		k.Change = models.ChangeFlat
		if current > 0 {
			k.Change = models.ChangeNew
		}
		return k
	}
	pct := math.Round((current-previous)/previous*10000) / 100
	k.ChangePercent = &pct
	switch {
	case current > previous:
		k.Change = models.ChangeUp
	case current < previous:
		k.Change = models.ChangeDown
	default:
		k.Change = models.ChangeFlat
	}
	return k
}

// Export returns raw rows, dimensions included, for inclusive days [from, to].
// An empty name exports every metric.
func (e *Engine) Export(ctx context.Context, name string, from, to time.Time) ([]models.DailyMetric, error) {
	if name != "" && !e.known(name) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown metric")
	}
	from, to = models.Day(from), models.Day(to)
	if from.After(to) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	if to.Sub(from) > time.Duration(validation.MaxTrendDays)*24*time.Hour {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("range cannot exceed %d days", validation.MaxTrendDays))
	}
	rows, err := e.store.List(ctx, models.ListFilter{Name: name, From: from, To: to})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFailure, "failed to export metrics")
	}
	return rows, nil
}
