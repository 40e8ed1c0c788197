package thingspeak

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/leak-twin-service/internal/config"
	"github.com/couchcryptid/leak-twin-service/internal/domain"
	"github.com/couchcryptid/leak-twin-service/internal/observability"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

var mainSensor = config.Sensor{ID: "main", Channel: "2512345", ReadKey: "READKEY"}

func testConfig(baseURL string, sensors ...config.Sensor) *config.Config {
	if len(sensors) == 0 {
		sensors = []config.Sensor{mainSensor}
	}
	return &config.Config{
		TelemetryBaseURL:    baseURL,
		Sensors:             sensors,
		TelemetryTimeout:    2 * time.Second,
		PressureField:       "field1",
		FlowField:           "field2",
		TelemetryMaxRetries: 2,
		BreakerFailures:     5,
		BreakerOpenTimeout:  time.Minute,
		DefaultPressure:     45.0,
		DefaultFlow:         100.0,
	}
}

func testClient(cfg *config.Config) (*Client, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	c := NewClient(cfg, m, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(clockwork.NewFakeClockAt(testNow)),
		WithRetryInterval(time.Millisecond),
	)
	return c, m
}

func feedHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = io.WriteString(w, body)
	}
}

func TestClient_Fetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/2512345/feeds.json", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("results"))
		assert.Equal(t, "READKEY", r.URL.Query().Get("api_key"))
		feedHandler(`{"channel":{"id":2512345},"feeds":[{"created_at":"2026-03-02T09:29:45Z","entry_id":7,"field1":"5.0","field2":"150"}]}`)(w, r)
	}))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	r, err := c.Fetch(context.Background(), mainSensor)
	require.NoError(t, err)

	assert.Equal(t, "main", r.SensorID)
	assert.Equal(t, 5.0, r.Pressure)
	assert.Equal(t, 150.0, r.Flow)
	assert.Equal(t, domain.SourceLive, r.Source)
	assert.False(t, r.Substituted)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 29, 45, 0, time.UTC), r.ObservedAt)
}

func TestClient_Fetch_OmitsEmptyReadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("api_key"))
		feedHandler(`{"feeds":[{"field1":4.2,"field2":80}]}`)(w, r)
	}))
	defer srv.Close()

	public := config.Sensor{ID: "east", Channel: "99"}
	c, _ := testClient(testConfig(srv.URL, public))
	r, err := c.Fetch(context.Background(), public)
	require.NoError(t, err)

	assert.Equal(t, 4.2, r.Pressure)
	assert.Equal(t, 80.0, r.Flow)
	assert.Equal(t, testNow, r.ObservedAt, "missing created_at falls back to poll time")
}

func TestClient_Fetch_UsesLastFeedEntry(t *testing.T) {
	srv := httptest.NewServer(feedHandler(`{"feeds":[{"field1":"1","field2":"2"},{"field1":"3","field2":"4"}]}`))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	r, err := c.Fetch(context.Background(), mainSensor)
	require.NoError(t, err)
	assert.Equal(t, 3.0, r.Pressure)
	assert.Equal(t, 4.0, r.Flow)
}

func TestClient_Fetch_MalformedFieldsSubstituted(t *testing.T) {
	srv := httptest.NewServer(feedHandler(`{"feeds":[{"field1":"n/a","field2":null}]}`))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	r, err := c.Fetch(context.Background(), mainSensor)
	require.NoError(t, err)

	assert.Equal(t, 45.0, r.Pressure)
	assert.Equal(t, 100.0, r.Flow)
	assert.True(t, r.Substituted)
}

func TestClient_Fetch_PartialSubstitution(t *testing.T) {
	srv := httptest.NewServer(feedHandler(`{"feeds":[{"field1":"6.5","field2":"NaN"}]}`))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	r, err := c.Fetch(context.Background(), mainSensor)
	require.NoError(t, err)

	assert.Equal(t, 6.5, r.Pressure)
	assert.Equal(t, 100.0, r.Flow)
	assert.True(t, r.Substituted)
}

func TestClient_Fetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		feedHandler(`{"feeds":[{"field1":"5","field2":"50"}]}`)(w, r)
	}))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	r, err := c.Fetch(context.Background(), mainSensor)
	require.NoError(t, err)
	assert.Equal(t, 50.0, r.Flow)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Fetch_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	_, err := c.Fetch(context.Background(), mainSensor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestClient_Fetch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "-1", http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	_, err := c.Fetch(context.Background(), mainSensor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Fetch_EmptyFeed(t *testing.T) {
	srv := httptest.NewServer(feedHandler(`{"channel":{"id":1},"feeds":[]}`))
	defer srv.Close()

	c, _ := testClient(testConfig(srv.URL))
	_, err := c.Fetch(context.Background(), mainSensor)
	require.ErrorIs(t, err, ErrNoFeed)
}

func TestClient_Fetch_UnknownSensor(t *testing.T) {
	c, _ := testClient(testConfig("http://127.0.0.1:0"))
	_, err := c.Fetch(context.Background(), config.Sensor{ID: "ghost", Channel: "1"})
	require.Error(t, err)
}

func TestClient_Fetch_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.TelemetryMaxRetries = 0
	cfg.BreakerFailures = 2
	c, _ := testClient(cfg)

	for range 2 {
		_, err := c.Fetch(context.Background(), mainSensor)
		require.Error(t, err)
	}
	_, err := c.Fetch(context.Background(), mainSensor)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the request")
}

func TestClient_Poll_DefaultsFailedSensor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/1/feeds.json", feedHandler(`{"feeds":[{"field1":"5","field2":"150"}]}`))
	mux.HandleFunc("/channels/2/feeds.json", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL,
		config.Sensor{ID: "north", Channel: "1"},
		config.Sensor{ID: "south", Channel: "2"},
	)
	cfg.TelemetryMaxRetries = 0
	c, m := testClient(cfg)

	readings, err := c.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, "north", readings[0].SensorID)
	assert.Equal(t, 150.0, readings[0].Flow)
	assert.False(t, readings[0].Substituted)

	assert.Equal(t, domain.Reading{
		SensorID:    "south",
		Pressure:    45.0,
		Flow:        100.0,
		ObservedAt:  testNow,
		Source:      domain.SourceLive,
		Substituted: true,
	}, readings[1])

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsPolled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryFetchErrors.WithLabelValues("south")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetrySubstituted.WithLabelValues("south")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TelemetrySubstituted.WithLabelValues("north")))
}

func TestClient_Poll_CancelledContext(t *testing.T) {
	c, _ := testClient(testConfig("http://127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	readings, err := c.Poll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, readings)
}

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"string", "5.25", 5.25, true},
		{"padded string", " 7 ", 7, true},
		{"number", 12.5, 12.5, true},
		{"nil", nil, 0, false},
		{"garbage", "abc", 0, false},
		{"empty", "", 0, false},
		{"nan string", "NaN", 0, false},
		{"inf string", "+Inf", 0, false},
		{"inf number", math.Inf(1), 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := safeFloat(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_Sensors_ReturnsCopy(t *testing.T) {
	c, _ := testClient(testConfig("http://example.invalid"))
	s := c.Sensors()
	s[0].ID = "mutated"
	assert.Equal(t, "main", c.Sensors()[0].ID)
}
