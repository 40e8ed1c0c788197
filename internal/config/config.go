package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Sensor identifies one telemetry channel to poll.
type Sensor struct {
	ID      string
	Channel string
	ReadKey string
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	PollInterval    time.Duration

	// Telemetry source (ThingSpeak-compatible feeds API).
	TelemetryBaseURL    string
	Sensors             []Sensor
	TelemetryTimeout    time.Duration
	PressureField       string
	FlowField           string
	TelemetryMaxRetries int
	BreakerFailures     int
	BreakerOpenTimeout  time.Duration
	DefaultPressure     float64
	DefaultFlow         float64

	ModelPath string
	RulesPath string

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// InfluxDB persistence, enabled when InfluxURL is set.
	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxMeasurement string

	// MQTT leak alerts, enabled when MQTTBroker is set.
	MQTTBroker     string
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string
	MQTTAlertTopic string
}

// InfluxEnabled reports whether outcomes are persisted to InfluxDB.
func (c *Config) InfluxEnabled() bool { return c.InfluxURL != "" }

// MQTTEnabled reports whether leak alerts are published over MQTT.
func (c *Config) MQTTEnabled() bool { return c.MQTTBroker != "" }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	pollInterval, err := parseDuration("POLL_INTERVAL", "15s")
	if err != nil {
		return nil, err
	}
	telemetryTimeout, err := parseDuration("TELEMETRY_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	breakerOpen, err := parseDuration("TELEMETRY_BREAKER_OPEN", "30s")
	if err != nil {
		return nil, err
	}

	maxRetries, err := parseInt("TELEMETRY_MAX_RETRIES", 3, 0)
	if err != nil {
		return nil, err
	}
	breakerFailures, err := parseInt("TELEMETRY_BREAKER_FAILURES", 5, 1)
	if err != nil {
		return nil, err
	}

	defaultPressure, err := parseFloat("DEFAULT_PRESSURE", 45.0)
	if err != nil {
		return nil, err
	}
	defaultFlow, err := parseFloat("DEFAULT_FLOW", 100.0)
	if err != nil {
		return nil, err
	}

	sensors, err := ParseSensors(os.Getenv("TELEMETRY_SENSORS"))
	if err != nil {
		return nil, err
	}

	kafkaEnabled := true
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		PollInterval:    pollInterval,

		TelemetryBaseURL:    strings.TrimRight(sharedcfg.EnvOrDefault("TELEMETRY_BASE_URL", "https://api.thingspeak.com"), "/"),
		Sensors:             sensors,
		TelemetryTimeout:    telemetryTimeout,
		PressureField:       sharedcfg.EnvOrDefault("TELEMETRY_PRESSURE_FIELD", "field1"),
		FlowField:           sharedcfg.EnvOrDefault("TELEMETRY_FLOW_FIELD", "field2"),
		TelemetryMaxRetries: maxRetries,
		BreakerFailures:     breakerFailures,
		BreakerOpenTimeout:  breakerOpen,
		DefaultPressure:     defaultPressure,
		DefaultFlow:         defaultFlow,

		ModelPath: os.Getenv("MODEL_PATH"),
		RulesPath: os.Getenv("RULES_PATH"),

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "leak-outcomes"),

		InfluxURL:         os.Getenv("INFLUX_URL"),
		InfluxToken:       os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:         os.Getenv("INFLUX_ORG"),
		InfluxBucket:      sharedcfg.EnvOrDefault("INFLUX_BUCKET", "leak-outcomes"),
		InfluxMeasurement: sharedcfg.EnvOrDefault("INFLUX_MEASUREMENT", "sensor_outcome"),

		MQTTBroker:     os.Getenv("MQTT_BROKER"),
		MQTTClientID:   sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "leak-twin"),
		MQTTUsername:   os.Getenv("MQTT_USERNAME"),
		MQTTPassword:   os.Getenv("MQTT_PASSWORD"),
		MQTTAlertTopic: sharedcfg.EnvOrDefault("MQTT_ALERT_TOPIC", "leaks/alerts"),
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if cfg.InfluxEnabled() && (cfg.InfluxToken == "" || cfg.InfluxOrg == "") {
		return nil, errors.New("INFLUX_URL is set but INFLUX_TOKEN or INFLUX_ORG is not")
	}
	if cfg.TelemetryBaseURL == "" {
		return nil, errors.New("TELEMETRY_BASE_URL is required")
	}

	return cfg, nil
}

// ParseSensors parses a comma-separated list of "id=channel[:readKey]" entries.
// An empty string yields no sensors.
func ParseSensors(s string) ([]Sensor, error) {
	var sensors []Sensor
	seen := make(map[string]bool)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, rest, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid TELEMETRY_SENSORS entry %q: want id=channel[:key]", entry)
		}
		channel, key, _ := strings.Cut(rest, ":")
		channel = strings.TrimSpace(channel)
		if channel == "" {
			return nil, fmt.Errorf("invalid TELEMETRY_SENSORS entry %q: missing channel", entry)
		}
		if seen[id] {
			return nil, fmt.Errorf("invalid TELEMETRY_SENSORS: duplicate sensor %q", id)
		}
		seen[id] = true
		sensors = append(sensors, Sensor{ID: id, Channel: channel, ReadKey: strings.TrimSpace(key)})
	}
	return sensors, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s: must be a finite number", key)
	}
	return v, nil
}
