// Package handler serves the analytics dashboard, trends, manual rollups and exports.
package handler

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/access/identity"
	accessmodels "warden/internal/access/models"
	"warden/internal/analytics/models"
	auditmodels "warden/internal/audit/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

const defaultTrendDays = 30

type Service interface {
	AggregateDay(ctx context.Context, date time.Time) (*models.AggregationResult, error)
	Trend(ctx context.Context, name string, days int) ([]models.TrendPoint, error)
	DashboardKPIs(ctx context.Context) (*models.Dashboard, error)
	Export(ctx context.Context, name string, from, to time.Time) ([]models.DailyMetric, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, in auditmodels.RecordInput) (id.EntryID, error)
}

type Authorizer interface {
	Require(p accessmodels.Permission) func(http.Handler) http.Handler
}

type Handler struct {
	service Service
	audit   AuditRecorder
	logger  *slog.Logger
	now     func() time.Time
}

func New(service Service, audit AuditRecorder, logger *slog.Logger) *Handler {
	return &Handler{service: service, audit: audit, logger: logger, now: time.Now}
}

func (h *Handler) Register(r chi.Router, auth Authorizer) {
	r.With(auth.Require(accessmodels.PermAnalyticsView)).Get("/admin/analytics/dashboard", h.HandleDashboard)
	r.With(auth.Require(accessmodels.PermAnalyticsView)).Get("/admin/analytics/trend", h.HandleTrend)
	r.With(auth.Require(accessmodels.PermAnalyticsAggregate)).Post("/admin/analytics/aggregate", h.HandleAggregate)
	r.With(auth.Require(accessmodels.PermAnalyticsExport)).Get("/admin/analytics/export", h.HandleExport)
}

type TrendResponse struct {
	Metric string              `json:"metric"`
	Days   int                 `json:"days"`
	Points []models.TrendPoint `json:"points"`
}

func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dash, err := h.service.DashboardKPIs(ctx)
	if err != nil {
		h.logFailure(ctx, "failed to load dashboard", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dash)
}

func (h *Handler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "metric is required"))
		return
	}
	days, err := httputil.QueryInt(q, "days", defaultTrendDays)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	points, err := h.service.Trend(ctx, metric, days)
	if err != nil {
		h.logFailure(ctx, "failed to load trend", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TrendResponse{Metric: metric, Days: days, Points: points})
}

// HandleAggregate reruns the rollup for ?date= (default yesterday, UTC).
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admin := identity.ActorFromContext(ctx)
	if admin == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	date, err := httputil.QueryTime(r.URL.Query(), "date")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if date.IsZero() {
		date = models.Day(requestcontext.NowOr(ctx, h.now)).AddDate(0, 0, -1)
	}

	res, err := h.service.AggregateDay(ctx, date)
	if err != nil {
		h.logFailure(ctx, "manual aggregation failed", err)
		httputil.WriteError(w, err)
		return
	}

	if res.Status != models.StatusSkipped {
		if _, err := h.audit.Record(ctx, auditmodels.RecordInput{
			ActorID:    admin.ID,
			Action:     auditmodels.ActionAnalyticsAggregate,
			TargetType: auditmodels.TargetDailyMetrics,
			TargetID:   res.Date,
			After: map[string]any{
				"status":         string(res.Status),
				"rows_written":   res.Written,
				"metrics_failed": res.Failed,
			},
		}); err != nil {
			h.logger.ErrorContext(ctx, "audit_record_rejected", "error", err, "date", res.Date)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleExport streams raw rows for ?from=&to= as JSON or, with format=csv, CSV.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "format must be json or csv"))
		return
	}
	from, err := httputil.QueryTime(q, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := httputil.QueryTime(q, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if from.IsZero() || to.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "from and to are required"))
		return
	}

	rows, err := h.service.Export(ctx, q.Get("metric"), from, to)
	if err != nil {
		h.logFailure(ctx, "failed to export metrics", err)
		httputil.WriteError(w, err)
		return
	}

	if format == "json" {
		httputil.WriteJSON(w, http.StatusOK, rows)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="metrics_%s_%s.csv"`,
		models.Day(from).Format(models.DateLayout), models.Day(to).Format(models.DateLayout)))
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"date", "metric_name", "dimensions", "value"})
	for _, m := range rows {
		_ = cw.Write([]string{
			m.Date.Format(models.DateLayout),
			m.Name,
			models.DimensionsKey(m.Dimensions),
			strconv.FormatFloat(m.Value, 'f', -1, 64),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logFailure(ctx, "failed to write csv export", err)
	}
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
