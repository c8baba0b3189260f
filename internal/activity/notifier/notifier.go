// Package notifier delivers critical security events to operators.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"warden/internal/activity/models"
	"warden/internal/platform/kafka/producer"
	"warden/pkg/platform/circuit"
	"warden/pkg/platform/privacy"
)

// Notifier is the outbound alert hook.
type Notifier interface {
	Notify(ctx context.Context, event *models.SecurityEvent) error
}

// Log writes alerts to the operational log. It is the fallback when no
// broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (n *Log) Notify(ctx context.Context, ev *models.SecurityEvent) error {
	attrs := []any{
		"event_id", ev.ID.String(),
		"event_type", string(ev.Type),
		"severity", string(ev.Severity),
		"ip_prefix", privacy.AnonymizeIP(ev.IPAddress),
	}
	if ev.UserID != nil {
		attrs = append(attrs, "user_id", ev.UserID.String())
	}
	n.logger.WarnContext(ctx, "security_alert", attrs...)
	return nil
}

// Publisher is satisfied by the Kafka producer.
type Publisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Kafka publishes alerts as JSON records keyed by identity so one identity's
// alerts stay ordered within a partition. Calls go through a circuit breaker
// so a broker outage fails fast instead of stalling ingestion workers.
type Kafka struct {
	publisher Publisher
	topic     string
	breaker   *circuit.Breaker
}

func NewKafka(publisher Publisher, topic string, breaker *circuit.Breaker) *Kafka {
	if breaker == nil {
		breaker = circuit.New("security-alerts")
	}
	return &Kafka{publisher: publisher, topic: topic, breaker: breaker}
}

func (n *Kafka) Notify(ctx context.Context, ev *models.SecurityEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := &producer.Message{
		Topic: n.topic,
		Key:   []byte(ev.IdentityKey()),
		Value: payload,
		Headers: map[string]string{
			"event_type": string(ev.Type),
			"severity":   string(ev.Severity),
		},
	}
	if err := n.breaker.Call(func() error { return n.publisher.Produce(ctx, msg) }); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Multi fans out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev *models.SecurityEvent) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
