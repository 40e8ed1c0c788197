// Package thingspeak polls sensor readings from a ThingSpeak-compatible
// channel feeds API.
package thingspeak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/leak-twin-service/internal/config"
	"github.com/couchcryptid/leak-twin-service/internal/domain"
	"github.com/couchcryptid/leak-twin-service/internal/observability"
)

// ErrNoFeed is returned when a channel responds without any feed entries.
var ErrNoFeed = errors.New("channel has no feed entries")

const defaultRetryInterval = 250 * time.Millisecond

// Client fetches the latest entry of each configured sensor channel. Every
// sensor has its own circuit breaker so one dead channel does not starve the
// others.
type Client struct {
	baseURL       string
	sensors       []config.Sensor
	pressureField string
	flowField     string
	defaultBar    float64
	defaultLpm    float64
	maxRetries    int
	retryInterval time.Duration

	httpClient *http.Client
	breakers   map[string]*gobreaker.CircuitBreaker
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used to stamp readings without a feed timestamp.
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithRetryInterval sets the initial retry backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(cl *Client) { cl.retryInterval = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.httpClient = h }
}

// NewClient creates a telemetry client for the sensors in cfg.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(cfg.TelemetryBaseURL, "/"),
		sensors:       cfg.Sensors,
		pressureField: cfg.PressureField,
		flowField:     cfg.FlowField,
		defaultBar:    cfg.DefaultPressure,
		defaultLpm:    cfg.DefaultFlow,
		maxRetries:    cfg.TelemetryMaxRetries,
		retryInterval: defaultRetryInterval,
		httpClient:    &http.Client{Timeout: cfg.TelemetryTimeout},
		breakers:      make(map[string]*gobreaker.CircuitBreaker, len(cfg.Sensors)),
		clock:         clockwork.NewRealClock(),
		metrics:       metrics,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	failures := cfg.BreakerFailures
	if failures < 1 {
		failures = 1
	}
	for _, s := range cfg.Sensors {
		c.breakers[s.ID] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "thingspeak-" + s.ID,
			Timeout: cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("telemetry breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// Sensors returns the configured sensors in order.
func (c *Client) Sensors() []config.Sensor {
	out := make([]config.Sensor, len(c.sensors))
	copy(out, c.sensors)
	return out
}

// Poll returns one reading per configured sensor. A sensor whose fetch fails
// still yields a reading, built entirely from defaults and marked
// Substituted; the failure is logged and counted.
func (c *Client) Poll(ctx context.Context) ([]domain.Reading, error) {
	readings := make([]domain.Reading, 0, len(c.sensors))
	for _, s := range c.sensors {
		if err := ctx.Err(); err != nil {
			return readings, err
		}

		r, err := c.Fetch(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return readings, ctx.Err()
			}
			c.logger.Warn("telemetry fetch failed, using defaults",
				"sensor", s.ID, "channel", s.Channel, "error", err)
			c.metrics.TelemetryFetchErrors.WithLabelValues(s.ID).Inc()
			r = c.defaultReading(s)
		}
		if r.Substituted {
			c.metrics.TelemetrySubstituted.WithLabelValues(s.ID).Inc()
		}
		readings = append(readings, r)
	}
	c.metrics.ReadingsPolled.Add(float64(len(readings)))
	return readings, nil
}

// Fetch returns the latest reading on one sensor's channel. Transient
// failures are retried with exponential backoff, and the whole attempt runs
// through the sensor's circuit breaker.
func (c *Client) Fetch(ctx context.Context, s config.Sensor) (domain.Reading, error) {
	start := time.Now()
	defer func() { c.metrics.TelemetryDuration.Observe(time.Since(start).Seconds()) }()

	cb, ok := c.breakers[s.ID]
	if !ok {
		return domain.Reading{}, fmt.Errorf("sensor %q is not configured", s.ID)
	}

	res, err := cb.Execute(func() (interface{}, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.retryInterval
		bo.MaxElapsedTime = 0
		policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx)

		return backoff.RetryWithData(func() (domain.Reading, error) {
			return c.fetchOnce(ctx, s)
		}, policy)
	})
	if err != nil {
		return domain.Reading{}, fmt.Errorf("channel %s: %w", s.Channel, err)
	}
	return res.(domain.Reading), nil
}

func (c *Client) fetchOnce(ctx context.Context, s config.Sensor) (domain.Reading, error) {
	params := url.Values{"results": {"1"}}
	if s.ReadKey != "" {
		params.Set("api_key", s.ReadKey)
	}
	u := fmt.Sprintf("%s/channels/%s/feeds.json?%s", c.baseURL, url.PathEscape(s.Channel), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Reading{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("feeds request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("telemetry API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return domain.Reading{}, backoff.Permanent(err)
		}
		return domain.Reading{}, err
	}

	var feed response
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return domain.Reading{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(feed.Feeds) == 0 {
		return domain.Reading{}, backoff.Permanent(ErrNoFeed)
	}

	return c.toReading(s, feed.Feeds[len(feed.Feeds)-1]), nil
}

func (c *Client) toReading(s config.Sensor, entry map[string]any) domain.Reading {
	pressure, pOK := safeFloat(entry[c.pressureField])
	if !pOK {
		pressure = c.defaultBar
	}
	flow, fOK := safeFloat(entry[c.flowField])
	if !fOK {
		flow = c.defaultLpm
	}

	observed := c.clock.Now().UTC()
	if ts, ok := entry["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			observed = t.UTC()
		}
	}

	return domain.Reading{
		SensorID:    s.ID,
		Pressure:    pressure,
		Flow:        flow,
		ObservedAt:  observed,
		Source:      domain.SourceLive,
		Substituted: !pOK || !fOK,
	}
}

func (c *Client) defaultReading(s config.Sensor) domain.Reading {
	return domain.Reading{
		SensorID:    s.ID,
		Pressure:    c.defaultBar,
		Flow:        c.defaultLpm,
		ObservedAt:  c.clock.Now().UTC(),
		Source:      domain.SourceLive,
		Substituted: true,
	}
}

// safeFloat reads a feed field that may be a string, a number or null. It
// reports false for anything that is not a finite number.
func safeFloat(v any) (float64, bool) {
	var f float64
	switch tv := v.(type) {
	case float64:
		f = tv
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Feeds API response.
type response struct {
	Feeds []map[string]any `json:"feeds"`
}
