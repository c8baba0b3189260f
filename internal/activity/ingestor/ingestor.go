// Package ingestor is the ordered, bounded event pipeline in front of the
// activity store.
//
// Events are routed to one of N shards by identity key (user id, else IP).
// Each shard is a buffered channel drained by a single worker, so events for
// the same identity are persisted and inspected by the brute-force detector
// in exactly the order they were submitted.
//
// Overflow policy differs by kind: user events are dropped and counted when
// their shard is full; security events block until there is room or the
// caller's context ends.
package ingestor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"warden/internal/activity/metrics"
	"warden/internal/activity/models"
	"warden/internal/activity/severity"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/privacy"
	psync "warden/pkg/platform/sync"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("ingestor closed")

const (
	DefaultShards    = 8
	DefaultQueueSize = 1024

	writeTimeout = 5 * time.Second
)

type Store interface {
	AppendSecurity(ctx context.Context, ev *models.SecurityEvent) error
	AppendUser(ctx context.Context, ev *models.UserEvent) error
}

// Detector inspects each persisted security event and may ask for an escalation.
type Detector interface {
	Observe(ctx context.Context, ev *models.SecurityEvent) (*models.SecurityEventInput, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev *models.SecurityEvent) error
}

type Option func(*Ingestor)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingestor) {
		i.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

func WithDetector(d Detector) Option {
	return func(i *Ingestor) {
		i.detector = d
	}
}

func WithNotifier(n Notifier) Option {
	return func(i *Ingestor) {
		i.notifier = n
	}
}

func WithShards(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.shardCount = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(i *Ingestor) {
		if n > 0 {
			i.queueSize = n
		}
	}
}

type job struct {
	security *models.SecurityEvent
	user     *models.UserEvent
	barrier  chan struct{}
	ack      chan error
}

type Ingestor struct {
	store    Store
	detector Detector
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	shardCount int
	queueSize  int
	shards     []chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts one worker per shard. Call Close to drain and stop them.
func New(store Store, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:      store,
		logger:     slog.Default(),
		now:        time.Now,
		shardCount: DefaultShards,
		queueSize:  DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(i)
	}

	i.shards = make([]chan job, i.shardCount)
	for n := range i.shards {
		ch := make(chan job, i.queueSize)
		i.shards[n] = ch
		i.wg.Go(func() { i.work(n, ch) })
	}
	return i
}

// Track enqueues a user event and returns without waiting for storage.
// A full shard drops the event and counts it.
func (i *Ingestor) Track(ctx context.Context, in models.UserEventInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	ev := &models.UserEvent{
		ID:        id.NewEventID(),
		UserID:    in.UserID,
		Type:      in.Type,
		Category:  in.Category,
		Data:      in.Data,
		IPAddress: in.IPAddress,
		SessionID: in.SessionID,
		CreatedAt: i.occurredAt(in.OccurredAt),
	}
	if ev.Category == "" {
		ev.Category = models.UserEventTypes[ev.Type]
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrClosed
	}

	select {
	case i.shard(ev.IdentityKey()) <- job{user: ev}:
		i.metrics.IncEnqueued("user")
	default:
		i.metrics.IncDropped("user")
		i.logger.WarnContext(ctx, "user_event_dropped",
			"event_type", string(ev.Type),
			"ip_prefix", privacy.AnonymizeIP(ev.IPAddress),
		)
	}
	return nil
}

// TrackSecurity enqueues a security event, blocking while the shard is full.
// It returns once the event is queued, not once it is stored.
func (i *Ingestor) TrackSecurity(ctx context.Context, in models.SecurityEventInput) error {
	_, err := i.submitSecurity(ctx, in, false)
	return err
}

// RecordSecurity enqueues a security event behind any earlier events for the
// same identity and waits until it has been written.
func (i *Ingestor) RecordSecurity(ctx context.Context, in models.SecurityEventInput) (*models.SecurityEvent, error) {
	return i.submitSecurity(ctx, in, true)
}

func (i *Ingestor) submitSecurity(ctx context.Context, in models.SecurityEventInput, wait bool) (*models.SecurityEvent, error) {
	ev, err := i.buildSecurity(in)
	if err != nil {
		return nil, err
	}

	j := job{security: ev}
	if wait {
		j.ack = make(chan error, 1)
	}
	if err := i.enqueue(ctx, ev.IdentityKey(), j); err != nil {
		return nil, err
	}
	i.metrics.IncEnqueued("security")
	if !wait {
		return ev, nil
	}

	select {
	case err := <-j.ack:
		return ev, err
	case <-ctx.Done():
		return ev, ctx.Err()
	}
}

func (i *Ingestor) enqueue(ctx context.Context, key string, j job) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrClosed
	}
	select {
	case i.shard(key) <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Ingestor) buildSecurity(in models.SecurityEventInput) (*models.SecurityEvent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	sev, ok := severity.Classify(in.Type)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown security event type")
	}
	return &models.SecurityEvent{
		ID:          id.NewEventID(),
		UserID:      in.UserID,
		Type:        in.Type,
		Severity:    sev,
		Description: in.Description,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
		Metadata:    in.Metadata,
		CreatedAt:   i.occurredAt(in.OccurredAt),
	}, nil
}

func (i *Ingestor) occurredAt(t time.Time) time.Time {
	if t.IsZero() {
		t = i.now()
	}
	return t.UTC()
}

func (i *Ingestor) shard(key string) chan job {
	return i.shards[psync.ShardFor(key, len(i.shards))]
}

// Flush waits until every event queued before the call has been processed.
func (i *Ingestor) Flush(ctx context.Context) error {
	barriers := make([]chan struct{}, 0, len(i.shards))

	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return ErrClosed
	}
	for _, ch := range i.shards {
		b := make(chan struct{})
		select {
		case ch <- job{barrier: b}:
			barriers = append(barriers, b)
		case <-ctx.Done():
			i.mu.RUnlock()
			return ctx.Err()
		}
	}
	i.mu.RUnlock()

	for _, b := range barriers {
		select {
		case <-b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops intake, drains every shard and waits for the workers.
func (i *Ingestor) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	for _, ch := range i.shards {
		close(ch)
	}
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *Ingestor) work(n int, ch chan job) {
	label := strconv.Itoa(n)
	for j := range ch {
		switch {
		case j.barrier != nil:
			close(j.barrier)
		case j.user != nil:
			i.persistUser(j.user)
		case j.security != nil:
			err := i.processSecurity(j.security)
			if j.ack != nil {
				j.ack <- err
			}
		}
		i.metrics.SetQueueDepth(label, len(ch))
	}
}

func (i *Ingestor) persistUser(ev *models.UserEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := i.store.AppendUser(ctx, ev)
	i.metrics.ObservePersist("user", err)
	if err != nil {
		i.logger.Error("user_event_persist_failed",
			"error", err,
			"event_id", ev.ID.String(),
			"event_type", string(ev.Type),
		)
	}
}

func (i *Ingestor) processSecurity(ev *models.SecurityEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := i.persistSecurity(ctx, ev)
	i.notify(ctx, ev)
	if err != nil || i.detector == nil {
		return err
	}

	escalation, derr := i.detector.Observe(ctx, ev)
	if derr != nil {
		i.metrics.IncDetectorErrors()
		i.logger.Error("brute_force_check_failed", "error", derr, "event_id", ev.ID.String())
		return nil
	}
	if escalation == nil {
		return nil
	}

	bf, berr := i.buildSecurity(*escalation)
	if berr != nil {
		i.logger.Error("brute_force_event_invalid", "error", berr)
		return nil
	}
	i.metrics.IncBruteForce()
	i.logger.Warn("brute_force_detected",
		"identity_key", escalation.Metadata["identity_key"],
		"failed_attempts", escalation.Metadata["failed_attempts"],
		"ip_prefix", privacy.AnonymizeIP(bf.IPAddress),
	)
	// A failed write is logged by persistSecurity; the alert still goes out.
	_ = i.persistSecurity(ctx, bf)
	i.notify(ctx, bf)
	return nil
}

func (i *Ingestor) persistSecurity(ctx context.Context, ev *models.SecurityEvent) error {
	err := i.store.AppendSecurity(ctx, ev)
	i.metrics.ObservePersist("security", err)
	if err != nil {
		i.logger.Error("security_event_persist_failed",
			"error", err,
			"event_id", ev.ID.String(),
			"event_type", string(ev.Type),
		)
	}
	return err
}

// notify alerts on critical events and on lost audit entries. It runs even
// when the event itself could not be stored.
func (i *Ingestor) notify(ctx context.Context, ev *models.SecurityEvent) {
	if i.notifier == nil {
		return
	}
	if ev.Severity != models.SeverityCritical && ev.Type != models.EventAuditWriteFailed {
		return
	}
	err := i.notifier.Notify(ctx, ev)
	i.metrics.ObserveNotification(err)
	if err != nil {
		i.logger.Error("security_notification_failed",
			"error", err,
			"event_id", ev.ID.String(),
			"event_type", string(ev.Type),
		)
	}
}
