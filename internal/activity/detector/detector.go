// Package detector escalates bursts of failed logins into brute_force_attempt events.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"warden/internal/activity/models"
)

const (
	DefaultWindow    = 5 * time.Minute
	DefaultThreshold = 5

	suppressionCacheSize = 10_000
)

// Counter counts stored events; the detector never keeps its own tallies.
type Counter interface {
	CountSecurityEvents(ctx context.Context, q models.CountQuery) (int, error)
}

type Option func(*Detector)

func WithWindow(window time.Duration) Option {
	return func(d *Detector) {
		if window > 0 {
			d.window = window
		}
	}
}

func WithThreshold(threshold int) Option {
	return func(d *Detector) {
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

// Detector evaluates a true rolling window per failed_login, counted from
// stored timestamps in (t-window, t]. Once it fires for an identity it stays
// quiet until t+window, when every event of the triggering burst has left
// the window.
type Detector struct {
	counter    Counter
	window     time.Duration
	threshold  int
	suppressed *expirable.LRU[string, time.Time]
}

func New(counter Counter, opts ...Option) *Detector {
	d := &Detector{
		counter:   counter,
		window:    DefaultWindow,
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	// Entries carry their own deadline; the TTL only bounds memory.
	d.suppressed = expirable.NewLRU[string, time.Time](suppressionCacheSize, nil, 2*d.window)
	return d
}

// Observe inspects a persisted event. It returns the brute-force event to
// emit, or nil. Events must be observed in submission order per identity.
func (d *Detector) Observe(ctx context.Context, ev *models.SecurityEvent) (*models.SecurityEventInput, error) {
	if ev.Type != models.EventFailedLogin {
		return nil, nil
	}
	key := ev.IdentityKey()
	if key == "" {
		return nil, nil
	}
	if until, ok := d.suppressed.Get(key); ok && ev.CreatedAt.Before(until) {
		return nil, nil
	}

	q := models.CountQuery{
		Type:  models.EventFailedLogin,
		After: ev.CreatedAt.Add(-d.window),
		Until: ev.CreatedAt,
	}
	if ev.UserID != nil && !ev.UserID.IsNil() {
		q.UserID = ev.UserID
	} else {
		q.IPAddress = ev.IPAddress
	}

	count, err := d.counter.CountSecurityEvents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count failed logins: %w", err)
	}
	if count < d.threshold {
		return nil, nil
	}

	d.suppressed.Add(key, ev.CreatedAt.Add(d.window))
	return &models.SecurityEventInput{
		UserID:      ev.UserID,
		Type:        models.EventBruteForceAttempt,
		Description: fmt.Sprintf("%d failed logins within %s", count, d.window),
		IPAddress:   ev.IPAddress,
		UserAgent:   ev.UserAgent,
		Metadata: map[string]any{
			"identity_key":    key,
			"failed_attempts": count,
			"window_seconds":  int(d.window.Seconds()),
			"trigger_event":   ev.ID.String(),
		},
		OccurredAt: ev.CreatedAt,
	}, nil
}
