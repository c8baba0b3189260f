package notifier

//go:generate mockgen -source=notifier.go -destination=../mocks/notifier.go -package=mocks Notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/activity/models"
	"warden/internal/platform/kafka/producer"
	id "warden/pkg/domain"
	"warden/pkg/platform/circuit"
)

type fakePublisher struct {
	calls []*producer.Message
	err   error
}

func (f *fakePublisher) Produce(_ context.Context, msg *producer.Message) error {
	f.calls = append(f.calls, msg)
	return f.err
}

func criticalEvent() *models.SecurityEvent {
	user := id.NewActorID()
	return &models.SecurityEvent{
		ID:        id.NewEventID(),
		UserID:    &user,
		Type:      models.EventBruteForceAttempt,
		Severity:  models.SeverityCritical,
		IPAddress: "198.51.100.23",
		CreatedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublishesKeyedJSON(t *testing.T) {
	pub := &fakePublisher{}
	ev := criticalEvent()

	require.NoError(t, NewKafka(pub, "warden.security.alerts", nil).Notify(context.Background(), ev))

	require.Len(t, pub.calls, 1)
	msg := pub.calls[0]
	assert.Equal(t, "warden.security.alerts", msg.Topic)
	assert.Equal(t, "user:"+ev.UserID.String(), string(msg.Key))
	assert.Equal(t, "critical", msg.Headers["severity"])

	var decoded models.SecurityEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
}

func TestKafkaFailsFastWhenBrokerIsDown(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no brokers")}
	n := NewKafka(pub, "alerts", circuit.New("alerts", circuit.WithFailureThreshold(2), circuit.WithOpenTimeout(time.Hour)))

	for range 2 {
		assert.Error(t, n.Notify(context.Background(), criticalEvent()))
	}
	err := n.Notify(context.Background(), criticalEvent())
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Len(t, pub.calls, 2)
}

func TestLogAnonymizesIP(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), criticalEvent()))

	assert.Contains(t, buf.String(), `"msg":"security_alert"`)
	assert.Contains(t, buf.String(), "198.51.100.0")
	assert.NotContains(t, buf.String(), "198.51.100.23")
}

func TestMultiReturnsFirstError(t *testing.T) {
	ok := &fakePublisher{}
	broken := &fakePublisher{err: errors.New("down")}
	m := Multi{NewKafka(broken, "a", nil), NewKafka(ok, "b", nil)}

	assert.Error(t, m.Notify(context.Background(), criticalEvent()))
	assert.Len(t, ok.calls, 1, "later notifiers still run")
}
