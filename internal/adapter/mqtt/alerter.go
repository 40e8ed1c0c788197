// Package mqtt publishes leak alerts to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/leak-twin-service/internal/config"
	"github.com/couchcryptid/leak-twin-service/internal/domain"
)

const (
	alertQoS       = 1
	publishTimeout = 5 * time.Second
	connectRetries = 4
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Alert is the payload published for every detected leak.
type Alert struct {
	OutcomeID    string              `json:"outcome_id"`
	SensorID     string              `json:"sensor_id,omitempty"`
	Probability  float64             `json:"probability"`
	LeakFlowLpm  float64             `json:"leak_lpm"`
	LeakDiamMm   float64             `json:"leak_mm"`
	Prescription domain.Prescription `json:"prescription"`
	ObservedAt   time.Time           `json:"observed_at"`
}

// Alerter publishes an Alert for each leak outcome and ignores the rest.
// It implements pipeline.BatchLoader.
type Alerter struct {
	client pahomqtt.Client
	pub    publisher
	topic  string
	logger *slog.Logger
}

// NewAlerter connects to the configured broker, retrying with exponential
// backoff until connected, out of attempts, or ctx is done.
func NewAlerter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Alerter, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	client := pahomqtt.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Warn("mqtt connect failed, retrying", "broker", cfg.MQTTBroker, "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.MQTTBroker, err)
	}

	logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "topic", cfg.MQTTAlertTopic)
	return &Alerter{client: client, pub: client, topic: cfg.MQTTAlertTopic, logger: logger}, nil
}

// Name identifies the sink in logs and metrics.
func (a *Alerter) Name() string { return "mqtt" }

// LoadBatch publishes one alert per leak outcome. A failed publish does not
// stop the remaining alerts; all failures are returned together.
func (a *Alerter) LoadBatch(_ context.Context, outcomes []domain.SensorOutcome) error {
	var errs []error
	for i := range outcomes {
		o := outcomes[i]
		if o.Leak != domain.Leak {
			continue
		}
		if err := a.publish(o); err != nil {
			errs = append(errs, err)
			continue
		}
		a.logger.Info("leak alert published",
			"sensor", o.SensorID, "severity", o.Prescription.Severity, "leak_lpm", o.LeakFlowLpm)
	}
	return errors.Join(errs...)
}

func (a *Alerter) publish(o domain.SensorOutcome) error {
	payload, err := json.Marshal(newAlert(o))
	if err != nil {
		return fmt.Errorf("serialize alert %s: %w", o.ID, err)
	}
	token := a.pub.Publish(a.topic, alertQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish alert %s: timed out after %s", o.ID, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish alert %s: %w", o.ID, err)
	}
	return nil
}

// Close disconnects from the broker.
func (a *Alerter) Close() error {
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	return nil
}

func newAlert(o domain.SensorOutcome) Alert {
	return Alert{
		OutcomeID:    o.ID,
		SensorID:     o.SensorID,
		Probability:  o.Probability,
		LeakFlowLpm:  o.LeakFlowLpm,
		LeakDiamMm:   o.LeakDiameterMm,
		Prescription: o.Prescription,
		ObservedAt:   o.ObservedAt,
	}
}
