package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                       { return !t.timedOut }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	sent  []published
	token *fakeToken
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if f.token != nil {
		return f.token
	}
	return &fakeToken{}
}

func testAlerter(pub publisher) *Alerter {
	return &Alerter{
		pub:    pub,
		topic:  "leaks/alerts",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func outcome(id string, leak domain.LeakFlag) domain.SensorOutcome {
	p := domain.NormalPrescription
	if leak == domain.Leak {
		p = domain.Prescription{Severity: "Moderate", ActionType: "Schedule clamp repair", Priority: 3}
	}
	return domain.SensorOutcome{
		ID:           id + "-0011223344556677",
		SensorID:     id,
		Source:       domain.SourceLive,
		Leak:         leak,
		Probability:  0.6165,
		LeakFlowLpm:  45,
		Prescription: p,
		ObservedAt:   time.Date(2026, 3, 2, 9, 29, 45, 0, time.UTC),
	}
}

func TestAlerter_PublishesOnlyLeaks(t *testing.T) {
	pub := &fakePublisher{}
	a := testAlerter(pub)

	err := a.LoadBatch(context.Background(), []domain.SensorOutcome{
		outcome("north", domain.NoLeak),
		outcome("south", domain.Leak),
	})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)

	msg := pub.sent[0]
	assert.Equal(t, "leaks/alerts", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var alert Alert
	require.NoError(t, json.Unmarshal(msg.payload, &alert))
	assert.Equal(t, "south", alert.SensorID)
	assert.Equal(t, "south-0011223344556677", alert.OutcomeID)
	assert.Equal(t, 45.0, alert.LeakFlowLpm)
	assert.Equal(t, "Moderate", alert.Prescription.Severity)
	assert.Equal(t, 3, alert.Prescription.Priority)
}

func TestAlerter_NoLeaksNoPublish(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, testAlerter(pub).LoadBatch(context.Background(), []domain.SensorOutcome{
		outcome("north", domain.NoLeak),
	}))
	assert.Empty(t, pub.sent)
}

func TestAlerter_PublishError(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{err: errors.New("not connected")}}
	err := testAlerter(pub).LoadBatch(context.Background(), []domain.SensorOutcome{
		outcome("a", domain.Leak),
		outcome("b", domain.Leak),
	})
	require.Error(t, err)
	assert.Len(t, pub.sent, 2, "a failed publish does not stop the batch")
	assert.Contains(t, err.Error(), "a-0011223344556677")
	assert.Contains(t, err.Error(), "b-0011223344556677")
}

func TestAlerter_PublishTimeout(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{timedOut: true}}
	err := testAlerter(pub).LoadBatch(context.Background(), []domain.SensorOutcome{outcome("a", domain.Leak)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestAlerter_CloseWithoutClient(t *testing.T) {
	assert.NoError(t, testAlerter(&fakePublisher{}).Close())
}
