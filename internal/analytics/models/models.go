package models

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// Metric names produced by the daily rollup.
const (
	MetricDailyActiveUsers   = "daily_active_users"
	MetricNewRegistrations   = "new_registrations"
	MetricNewListings        = "new_listings"
	MetricListingViews       = "listing_views"
	MetricMessagesSent       = "messages_sent"
	MetricSearchQueries      = "search_queries"
	MetricSearchToViewRate   = "conversion_search_to_view"
	MetricViewToMessageRate  = "conversion_view_to_message"
	MetricEventsByCategory   = "events_by_category"
	MetricFailedLogins       = "failed_logins"
	MetricBruteForceAttempts = "brute_force_attempts"
)

// DailyMetric is one derived value for a UTC calendar day. It is unique on
// (Date, Name, Dimensions).
type DailyMetric struct {
	Date       time.Time         `json:"date"`
	Name       string            `json:"metric_name"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions"`
}

// Key identifies the row a metric upserts into.
func (m DailyMetric) Key() string {
	return m.Date.Format(DateLayout) + "|" + m.Name + "|" + DimensionsKey(m.Dimensions)
}

// DateLayout is the wire and storage form of a metric date.
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DimensionsKey is the canonical JSON form of dims: keys sorted, "{}" when empty.
// Postgres jsonb equality agrees with it.
func DimensionsKey(dims map[string]string) string {
	if len(dims) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range slices.Sorted(maps.Keys(dims)) {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(dims[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}

// RunStatus summarizes one AggregateDay call.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusPartial RunStatus = "partial"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// MetricOutcome is the per-metric part of an AggregationResult.
type MetricOutcome struct {
	Name  string `json:"metric_name"`
	Rows  int    `json:"rows"`
	Error string `json:"error,omitempty"`
}

type AggregationResult struct {
	Date       string          `json:"date"`
	Status     RunStatus       `json:"status"`
	Metrics    []MetricOutcome `json:"metrics"`
	Written    int             `json:"rows_written"`
	Failed     int             `json:"metrics_failed"`
	DurationMS int64           `json:"duration_ms"`
}

// TrendPoint is one day of a zero-filled series.
type TrendPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Change describes a day-over-day movement.
type Change string

const (
	ChangeUp   Change = "up"
	ChangeDown Change = "down"
	ChangeFlat Change = "flat"
	// ChangeNew marks a metric whose previous value was zero; no percentage exists.
	ChangeNew Change = "new"
)

type KPI struct {
	Name          string   `json:"metric_name"`
	Current       float64  `json:"current"`
	Previous      float64  `json:"previous"`
	ChangePercent *float64 `json:"change_percent"`
	Change        Change   `json:"change"`
}

// Dashboard compares the latest aggregated day with the day before it.
type Dashboard struct {
	Date         string `json:"date,omitempty"`
	PreviousDate string `json:"previous_date,omitempty"`
	KPIs         []KPI  `json:"kpis"`
}

// ListFilter selects metric rows over inclusive calendar days. An empty Name
// matches every metric.
type ListFilter struct {
	Name string
	From time.Time
	To   time.Time
	// UndimensionedOnly drops rows that carry dimensions.
	UndimensionedOnly bool
}
