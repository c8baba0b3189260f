// Package definitions names the metrics computed for each day and how each is
// derived from raw activity.
package definitions

import (
	"context"
	"maps"
	"math"
	"slices"
	"time"

	activitymodels "warden/internal/activity/models"
	"warden/internal/analytics/models"
)

// Source reads raw events over [from, to).
type Source interface {
	CountUserEvents(ctx context.Context, t activitymodels.UserEventType, from, to time.Time) (int, error)
	CountDistinctUsers(ctx context.Context, types []activitymodels.UserEventType, from, to time.Time) (int, error)
	CountUserEventsByCategory(ctx context.Context, from, to time.Time) (map[string]int, error)
	CountSecurityInRange(ctx context.Context, t activitymodels.SecurityEventType, from, to time.Time) (int, error)
}

// Value is one computed row before it is stamped with its date and name.
type Value struct {
	Value      float64
	Dimensions map[string]string
}

// ComputeFunc derives the values of one metric from events in [from, to).
type ComputeFunc func(ctx context.Context, src Source, from, to time.Time) ([]Value, error)

type Definition struct {
	Name    string
	Compute ComputeFunc
}

// Default is the daily rollup set.
func Default() []Definition {
	return []Definition{
		{Name: models.MetricDailyActiveUsers, Compute: distinctUsers(nil)},
		{Name: models.MetricNewRegistrations, Compute: countOf(activitymodels.UserRegistered)},
		{Name: models.MetricNewListings, Compute: countOf(activitymodels.ListingCreated)},
		{Name: models.MetricListingViews, Compute: countOf(activitymodels.ListingViewed)},
		{Name: models.MetricMessagesSent, Compute: countOf(activitymodels.MessageSent)},
		{Name: models.MetricSearchQueries, Compute: countOf(activitymodels.SearchPerformed)},
		{Name: models.MetricSearchToViewRate, Compute: ratioOf(activitymodels.ListingViewed, activitymodels.SearchPerformed)},
		{Name: models.MetricViewToMessageRate, Compute: ratioOf(activitymodels.MessageSent, activitymodels.ListingViewed)},
		{Name: models.MetricEventsByCategory, Compute: byCategory},
		{Name: models.MetricFailedLogins, Compute: securityCountOf(activitymodels.EventFailedLogin)},
		{Name: models.MetricBruteForceAttempts, Compute: securityCountOf(activitymodels.EventBruteForceAttempt)},
	}
}

// KPINames are the undimensioned metrics shown on the dashboard, in display order.
var KPINames = []string{
	models.MetricDailyActiveUsers,
	models.MetricNewRegistrations,
	models.MetricNewListings,
	models.MetricMessagesSent,
	models.MetricSearchQueries,
	models.MetricViewToMessageRate,
	models.MetricFailedLogins,
}

func single(v float64) []Value {
	return []Value{{Value: v}}
}

func countOf(t activitymodels.UserEventType) ComputeFunc {
	return func(ctx context.Context, src Source, from, to time.Time) ([]Value, error) {
		n, err := src.CountUserEvents(ctx, t, from, to)
		if err != nil {
			return nil, err
		}
		return single(float64(n)), nil
	}
}

func distinctUsers(types []activitymodels.UserEventType) ComputeFunc {
	return func(ctx context.Context, src Source, from, to time.Time) ([]Value, error) {
		n, err := src.CountDistinctUsers(ctx, types, from, to)
		if err != nil {
			return nil, err
		}
		return single(float64(n)), nil
	}
}

// ratioOf is numerator/denominator rounded to four places; zero when the
// denominator is zero.
func ratioOf(numerator, denominator activitymodels.UserEventType) ComputeFunc {
	return func(ctx context.Context, src Source, from, to time.Time) ([]Value, error) {
		num, err := src.CountUserEvents(ctx, numerator, from, to)
		if err != nil {
			return nil, err
		}
		den, err := src.CountUserEvents(ctx, denominator, from, to)
		if err != nil {
			return nil, err
		}
		if den == 0 {
			return single(0), nil
		}
		return single(math.Round(float64(num)/float64(den)*10000) / 10000), nil
	}
}

func byCategory(ctx context.Context, src Source, from, to time.Time) ([]Value, error) {
	counts, err := src.CountUserEventsByCategory(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(counts))
	for _, category := range slices.Sorted(maps.Keys(counts)) {
		out = append(out, Value{
			Value:      float64(counts[category]),
			Dimensions: map[string]string{"category": category},
		})
	}
	return out, nil
}

func securityCountOf(t activitymodels.SecurityEventType) ComputeFunc {
	return func(ctx context.Context, src Source, from, to time.Time) ([]Value, error) {
		n, err := src.CountSecurityInRange(ctx, t, from, to)
		if err != nil {
			return nil, err
		}
		return single(float64(n)), nil
	}
}
